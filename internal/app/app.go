package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"oncallbuzzer/internal/buzzer"
	"oncallbuzzer/internal/commands"
	"oncallbuzzer/internal/config"
	"oncallbuzzer/internal/dedup"
	"oncallbuzzer/internal/directory"
	"oncallbuzzer/internal/eventbus"
	"oncallbuzzer/internal/matcher"
	"oncallbuzzer/internal/metrics"
	"oncallbuzzer/internal/notifier"
	"oncallbuzzer/internal/pipeline"
	rtsup "oncallbuzzer/internal/runtime/supervisor"
	"oncallbuzzer/internal/runtime/systemd"
	"oncallbuzzer/internal/scheduler"
	"oncallbuzzer/internal/stats"
	"oncallbuzzer/internal/status"
	"oncallbuzzer/internal/storage"
	kit "oncallbuzzer/internal/transport"
	"oncallbuzzer/internal/transport/slack/adapter"
	logx "oncallbuzzer/pkg/logx"
)

// App wires the Slack adapter, the alert pipeline and the optional surfaces
// (notifier, scheduler, status server, systemd) into one process.
type App struct {
	cfg  *config.Config
	log  logx.Logger
	logs *logx.Service

	bus     *eventbus.MemBus
	store   storage.Store
	metrics *metrics.Metrics
	adapter kit.Adapter
	dir     *directory.Directory
	tracker *stats.Tracker
	buzz    *buzzer.Buzzer
	notif   *notifier.Service
	pipe    *pipeline.Pipeline
	router  *commands.Router
	sched   *scheduler.Service
	status  *status.Service
	sd      *systemd.Notifier

	events chan kit.Event

	mu      sync.Mutex
	sup     *rtsup.Supervisor
	stopped bool
}

type Option func(*options)

type options struct {
	adapter kit.Adapter
	player  buzzer.Player
	goos    string
}

// WithAdapter replaces the Slack Socket Mode adapter.
func WithAdapter(a kit.Adapter) Option { return func(o *options) { o.adapter = a } }

// WithPlayer replaces the sound player resolved from sound.player.
func WithPlayer(p buzzer.Player) Option { return func(o *options) { o.player = p } }

// New builds every component from cfg. Nothing is started.
func New(cfg *config.Config, opts ...Option) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	o := options{goos: runtime.GOOS}
	for _, fn := range opts {
		fn(&o)
	}

	logs, log := logx.New(mapLoggingConfig(cfg), nil)
	a := &App{
		cfg:     cfg,
		log:     log,
		logs:    logs,
		bus:     eventbus.New(),
		metrics: metrics.New(),
		sd:      systemd.New(log.With(logx.String("comp", "systemd"))),
	}

	queue := cfg.Alert.QueueSize
	if queue <= 0 {
		queue = 256
	}
	a.events = make(chan kit.Event, queue)

	// transport
	if o.adapter != nil {
		a.adapter = o.adapter
	} else {
		acfg, err := mapAdapterConfig(cfg)
		if err != nil {
			return nil, err
		}
		ad, err := adapter.New(acfg, log.With(logx.String("comp", "slack")))
		if err != nil {
			return nil, err
		}
		a.adapter = ad
	}
	if cfg.Logging.Slack.Channel != "" {
		logs.SetPoster(a.adapter)
	}

	// storage + stats
	scfg, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if enabled {
		a.store, err = storage.Open(scfg, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open stats store: %w", err)
		}
		if a.store != nil {
			defer func() {
				if err != nil {
					_ = a.store.Close()
				}
			}()
		}
	}
	a.tracker = stats.New(stats.Config{Cooldown: cfg.Cooldown(), Persist: cfg.Stats.Enabled}, a.store, log.With(logx.String("comp", "stats")))

	// buzzer
	player := o.player
	if player == nil {
		p, err := buzzer.NewPlayer(cfg.Sound.Player)
		if err != nil {
			log.Warn("no sound player available; buzzer is silent", logx.String("player", cfg.Sound.Player), logx.Err(err))
			p = buzzer.NopPlayer{}
		}
		player = p
	}
	a.buzz = buzzer.New(buzzer.Config{
		Path:     cfg.Sound.Path,
		Volume:   cfg.Sound.Volume,
		Repeat:   cfg.Sound.Repeat,
		Interval: cfg.BuzzInterval(),
	}, player, log.With(logx.String("comp", "buzzer")), a.bus)

	// notifier
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	var sinks []notifier.Sink
	if cfg.Notifier.Desktop {
		ds, err := notifier.NewDesktopSink(o.goos)
		if err != nil {
			log.Warn("desktop notifications unavailable", logx.Err(err))
		} else {
			sinks = append(sinks, ds)
		}
	}
	if ch := strings.TrimSpace(cfg.Notifier.SlackChannel); ch != "" {
		ss, err := notifier.NewSlackSink(a.adapter, ch)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ss)
	}
	a.notif = notifier.New(ncfg, sinks, log.With(logx.String("comp", "notifier")), a.bus)

	// pipeline
	a.dir = directory.New(a.adapter, directory.Policy{
		Allow: cfg.Alert.ChannelAllowlist,
		Block: cfg.Alert.ChannelBlocklist,
	}, log.With(logx.String("comp", "directory")))

	deps := pipeline.Deps{
		Dedup:    dedup.New(cfg.Dedup.Capacity, dedup.ParsePolicy(cfg.Dedup.Policy)),
		Channels: a.dir,
		Stats:    a.tracker,
		Matcher:  matcher.Compile(cfg.Alert.Keywords, cfg.Alert.Patterns, log.With(logx.String("comp", "matcher"))),
		Buzzer:   a.buzz,
		Bus:      a.bus,
		Metrics:  a.metrics,
	}
	if a.notif.Enabled() {
		deps.Notifier = a.notif
	}
	a.pipe, err = pipeline.New(pipeline.Config{IgnoreBots: cfg.Alert.IgnoreBots}, deps, log.With(logx.String("comp", "pipeline")))
	if err != nil {
		return nil, err
	}

	// commands
	a.router = commands.NewRouter(log.With(logx.String("comp", "commands")), 0)
	if err := commands.RegisterBuiltins(a.router, commands.Deps{
		Stats:     a.tracker,
		Buzzer:    a.buzz,
		SoundPath: cfg.Sound.Path,
		SoundDirs: cfg.Sound.Dirs,
	}); err != nil {
		return nil, err
	}

	// scheduler
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a.sched = scheduler.New(loc, log.With(logx.String("comp", "scheduler")))
	if spec := strings.TrimSpace(cfg.Scheduler.StatsRollover); spec != "" {
		if err := a.sched.Add("stats.rollover", spec, 5*time.Second, a.rolloverJob); err != nil {
			return nil, err
		}
	}
	if spec := strings.TrimSpace(cfg.Scheduler.DirectoryRefresh); spec != "" {
		if err := a.sched.Add("directory.refresh", spec, time.Minute, a.refreshJob); err != nil {
			return nil, err
		}
	}

	// status
	stcfg, err := mapStatusConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.status = status.New(stcfg, status.Options{
		Source:  status.SnapshotSource{Snapshot: a.tracker.Snapshot},
		View:    status.NewView(cfg),
		Metrics: a.metrics.Handler(),
		Health:  a.health,
	}, log.With(logx.String("comp", "status")))

	return a, nil
}

func (a *App) rolloverJob(ctx context.Context) error {
	if a.tracker.Rollover(ctx) {
		a.log.Info("daily alert counter reset")
	}
	return nil
}

func (a *App) refreshJob(ctx context.Context) error {
	if err := a.dir.Refresh(ctx); err != nil {
		return err
	}
	a.metrics.ChannelsCached.Set(float64(a.dir.Len()))
	return nil
}

func (a *App) health() any {
	h := map[string]any{
		"pipeline":    a.pipe.Counts(),
		"buzzer":      a.buzz.Snapshot(),
		"directory":   a.dir.Snapshot(),
		"notifier":    a.notif.Snapshot(),
		"scheduler":   a.sched.Snapshot(),
		"bus_dropped": a.bus.Dropped(),
		"save_errors": a.tracker.SaveErrors(),
	}
	a.mu.Lock()
	if a.sup != nil {
		h["supervisor"] = a.sup.Counters()
	}
	a.mu.Unlock()
	return h
}

// Done is closed when a supervised component fails fatally or ctx ends.
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err reports the first fatal error of a supervised component.
func (a *App) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.sup != nil {
		a.mu.Unlock()
		return errors.New("already started")
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.sup = sup
	a.mu.Unlock()
	runCtx := sup.Context()

	a.tracker.Load(runCtx)
	a.logStartup()

	// event bus subscriber: metrics + debug log
	events, unsub := a.bus.Subscribe(256)
	sup.Go0("eventbus.log", func(ctx context.Context) {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.metrics.ObserveEvent(e)
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	a.adapter.SetCommandHandler(a.router.Dispatch)
	if err := a.adapter.Start(runCtx, a.events); err != nil {
		sup.Cancel()
		return fmt.Errorf("start slack adapter: %w", err)
	}

	a.notif.Start(runCtx)
	a.sched.Start()
	a.status.Start(runCtx)

	sup.Go("pipeline", func(ctx context.Context) error { return a.pipe.Run(ctx, a.events) })
	sup.Go0("systemd.watchdog", func(ctx context.Context) {
		if err := a.sd.Watchdog(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	})

	a.sd.Ready()
	a.sd.Status("listening for alerts")
	a.log.Info("bot is running, listening for messages")
	return nil
}

func (a *App) logStartup() {
	cfg := a.cfg
	if a.tracker.Enabled() {
		s := a.tracker.Snapshot()
		a.log.Info("stats tracking enabled", logx.String("driver", cfg.Stats.Driver), logx.String("path", cfg.Stats.Path), logx.Int64("total_alerts", s.TotalAlerts))
	} else {
		a.log.Info("stats tracking disabled")
	}
	if _, err := os.Stat(cfg.Sound.Path); err != nil {
		a.log.Warn("sound file not found", logx.String("path", cfg.Sound.Path), logx.Strings("available", buzzer.AvailableSounds(cfg.Sound.Dirs)))
	} else {
		a.log.Info("buzzer sound", logx.String("sound", buzzer.SoundName(cfg.Sound.Path)), logx.Float64("volume", cfg.Sound.Volume), logx.Int("repeat", cfg.Sound.Repeat))
	}
	a.log.Info("alert policy",
		logx.Duration("cooldown", cfg.Cooldown()),
		logx.Strings("keywords", cfg.Alert.Keywords),
		logx.Strings("patterns", cfg.Alert.Patterns),
		logx.Strings("allow", cfg.Alert.ChannelAllowlist),
		logx.Strings("block", cfg.Alert.ChannelBlocklist),
		logx.Strings("notify_sinks", a.notif.Sinks()),
	)
}

// Stop shuts every component down in reverse start order. Each step is bounded
// so one component cannot stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	sup := a.sup
	a.mu.Unlock()

	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	if sup != nil {
		sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("status", time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("buzzer", 2*time.Second, a.buzz.Stop)
	step("notifier", time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	if sup != nil {
		step("supervisor", 2*time.Second, sup.Wait)
	}
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}
