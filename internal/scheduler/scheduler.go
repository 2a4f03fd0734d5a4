package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "oncallbuzzer/pkg/logx"
)

// parser accepts 5-field cron specs (optional seconds) and descriptors like
// "@daily" or "@every 6h".
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSpec parses a cron spec the way Add does.
func ParseSpec(spec string) (cron.Schedule, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return nil, errors.New("schedule required")
	}
	sched, err := parser.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Job is a scheduled unit of work. The context is canceled on Stop or when
// the job timeout elapses.
type Job func(ctx context.Context) error

type entry struct {
	name    string
	spec    string
	timeout time.Duration
	id      cron.EntryID
}

// Service triggers named jobs on cron schedules.
// Overlapping runs of the same job are skipped and job panics are recovered.
type Service struct {
	log logx.Logger
	loc *time.Location

	mu      sync.Mutex
	c       *cron.Cron
	entries map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

func New(loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		log: log,
		loc: loc,
		c: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		entries: map[string]*entry{},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers job under name. Re-adding a name replaces the previous entry.
// timeout <= 0 means no per-run timeout.
func (s *Service) Add(name, spec string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("job name required")
	}
	if job == nil {
		return errors.New("job required")
	}

	run := cron.FuncJob(func() {
		s.run(name, timeout, job)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[name]; ok {
		s.c.Remove(old.id)
		delete(s.entries, name)
	}
	id, err := s.c.AddJob(strings.TrimSpace(spec), run)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.entries[name] = &entry{name: name, spec: spec, timeout: timeout, id: id}
	s.log.Debug("job scheduled", logx.String("job", name), logx.String("spec", spec))
	return nil
}

// RunNow runs the named job synchronously, outside the schedule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	var job cron.Job
	if ok {
		job = s.c.Entry(e.id).WrappedJob
	}
	s.mu.Unlock()
	if !ok || job == nil {
		return fmt.Errorf("unknown job %q", name)
	}
	job.Run()
	return nil
}

func (s *Service) run(name string, timeout time.Duration, job Job) {
	ctx := s.ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	if err := job(ctx); err != nil {
		s.log.Warn("job failed", logx.String("job", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("job done", logx.String("job", name), logx.Duration("took", time.Since(start)))
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.entries)))
}

// Stop stops triggering and cancels running jobs, waiting for them until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		s.cancel()
		return
	}

	done := s.c.Stop()
	s.cancel()
	select {
	case <-done.Done():
	case <-ctx.Done():
		// best-effort
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Snapshot lists the registered jobs sorted by name.
func (s *Service) Snapshot() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.entries))
	for _, e := range s.entries {
		ce := s.c.Entry(e.id)
		out = append(out, JobInfo{Name: e.name, Spec: e.spec, Next: ce.Next, Prev: ce.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type JobInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(kvFields(keysAndValues), logx.Err(err))
	l.log.Error("cron: "+msg, fields...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
