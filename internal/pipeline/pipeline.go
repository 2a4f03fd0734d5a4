// Package pipeline decides, per inbound message, whether to raise an alert.
//
// Checks run in a fixed order and stop at the first one that fails:
// presence, dedup, bot and channel policy, cooldown, match. An event that
// passes all of them is recorded, buzzes, and produces a notification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"oncallbuzzer/internal/eventbus"
	"oncallbuzzer/internal/metrics"
	"oncallbuzzer/internal/notifier"
	"oncallbuzzer/internal/storage"
	kit "oncallbuzzer/internal/transport"
	logx "oncallbuzzer/pkg/logx"

	"github.com/google/uuid"
)

// Outcome is how the pipeline disposed of an event.
type Outcome int

const (
	OutcomeEmpty Outcome = iota
	OutcomeDuplicate
	OutcomeBot
	OutcomeChannel
	OutcomeCooldown
	OutcomeNoMatch
	OutcomeError
	OutcomeFired
	numOutcomes
)

var outcomeNames = [numOutcomes]string{"empty", "duplicate", "bot", "channel", "cooldown", "no_match", "error", "fired"}

func (o Outcome) String() string {
	if o < 0 || o >= numOutcomes {
		return "unknown"
	}
	return outcomeNames[o]
}

const (
	NotificationTitle = "On-Call Alert"
	notifyExcerpt     = 180
	logExcerpt        = 200
	alertPriority     = 9
)

type Deduper interface {
	Observe(id string) bool
}

type ChannelPolicy interface {
	IsAllowed(ctx context.Context, channelID string) bool
	ResolveName(ctx context.Context, channelID string) (string, bool)
}

type Tracker interface {
	IsRateLimited() bool
	RecordAlert(ctx context.Context) storage.Stats
}

type Matcher interface {
	Match(text string) bool
}

type Buzzer interface {
	Trigger() bool
}

type Notifier interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

// Deps are the collaborators of the pipeline. Notifier and Metrics are optional.
type Deps struct {
	Dedup    Deduper
	Channels ChannelPolicy
	Stats    Tracker
	Matcher  Matcher
	Buzzer   Buzzer
	Notifier Notifier
	Bus      eventbus.Bus
	Metrics  *metrics.Metrics
}

type Config struct {
	IgnoreBots bool
}

// Result describes one Handle call.
type Result struct {
	TraceID     string
	Outcome     Outcome
	ChannelName string
	Buzzed      bool
	Stats       storage.Stats
	Err         error
}

// AlertEvent is the bus payload of alert.fired and alert.dropped.
type AlertEvent struct {
	TraceID string `json:"trace_id"`
	Channel string `json:"channel"`
	Outcome string `json:"outcome"`
	Buzzed  bool   `json:"buzzed,omitempty"`
}

type Pipeline struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	counts [numOutcomes]atomic.Uint64
}

func New(cfg Config, deps Deps, log logx.Logger) (*Pipeline, error) {
	if deps.Dedup == nil || deps.Channels == nil || deps.Stats == nil || deps.Matcher == nil || deps.Buzzer == nil {
		return nil, errors.New("pipeline: dedup, channels, stats, matcher and buzzer are required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{cfg: cfg, deps: deps, log: log}, nil
}

// Run handles events in arrival order until ctx is done or in is closed.
func (p *Pipeline) Run(ctx context.Context, in <-chan kit.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			p.Handle(ctx, ev)
		}
	}
}

// Handle evaluates one event. A panic anywhere below is recovered and
// reported as OutcomeError; it never escapes to the caller.
func (p *Pipeline) Handle(ctx context.Context, ev kit.Event) (res Result) {
	start := time.Now()
	res.TraceID = uuid.NewString()
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeError
			res.Err = fmt.Errorf("panic: %v", r)
			p.log.Error("error handling message event", logx.String("trace_id", res.TraceID), logx.String("channel", ev.Channel), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
		p.finish(ev, res, time.Since(start))
	}()

	res.Outcome = p.evaluate(ctx, ev, &res)
	return res
}

func (p *Pipeline) evaluate(ctx context.Context, ev kit.Event, res *Result) Outcome {
	if ev.Text == "" || ev.Channel == "" {
		return OutcomeEmpty
	}
	if !p.deps.Dedup.Observe(ev.ID) {
		return OutcomeDuplicate
	}
	if p.cfg.IgnoreBots && ev.IsBot {
		return OutcomeBot
	}
	if !p.deps.Channels.IsAllowed(ctx, ev.Channel) {
		return OutcomeChannel
	}
	if p.deps.Stats.IsRateLimited() {
		p.log.Debug("rate limited, skipping alert", logx.String("trace_id", res.TraceID), logx.String("channel", ev.Channel))
		return OutcomeCooldown
	}
	if !p.deps.Matcher.Match(ev.Text) {
		return OutcomeNoMatch
	}

	name, ok := p.deps.Channels.ResolveName(ctx, ev.Channel)
	if !ok || name == "" {
		name = ev.Channel
	}
	res.ChannelName = name
	user := ev.User
	if user == "" {
		user = "unknown"
	}
	p.log.Info("alert", logx.String("trace_id", res.TraceID), logx.String("channel", name), logx.String("user", user), logx.String("text", truncate(ev.Text, logExcerpt)))

	res.Stats = p.deps.Stats.RecordAlert(ctx)
	res.Buzzed = p.deps.Buzzer.Trigger()
	p.notify(ctx, res.TraceID, name, ev.Text)
	return OutcomeFired
}

func (p *Pipeline) notify(ctx context.Context, traceID, channel, text string) {
	if p.deps.Notifier == nil {
		return
	}
	err := p.deps.Notifier.Notify(ctx, notifier.Notification{
		Title:    NotificationTitle,
		Text:     "Channel: " + channel + "\n" + truncate(text, notifyExcerpt),
		Priority: alertPriority,
	})
	switch {
	case err == nil, errors.Is(err, notifier.ErrDisabled):
	default:
		p.log.Warn("notification not queued", logx.String("trace_id", traceID), logx.Err(err))
	}
}

func (p *Pipeline) finish(ev kit.Event, res Result, took time.Duration) {
	p.counts[res.Outcome].Add(1)
	if m := p.deps.Metrics; m != nil {
		m.EventsTotal.WithLabelValues(res.Outcome.String()).Inc()
		m.ProcessingSeconds.Observe(took.Seconds())
		if res.Outcome == OutcomeFired {
			m.AlertsFired.Inc()
		}
	}
	if res.Outcome == OutcomeEmpty {
		return
	}
	typ := eventbus.AlertDropped
	if res.Outcome == OutcomeFired {
		typ = eventbus.AlertFired
	}
	eventbus.Publish(p.deps.Bus, typ, AlertEvent{TraceID: res.TraceID, Channel: ev.Channel, Outcome: res.Outcome.String(), Buzzed: res.Buzzed})
}

// Counts returns the number of handled events per outcome name.
func (p *Pipeline) Counts() map[string]uint64 {
	out := make(map[string]uint64, numOutcomes)
	for i := range p.counts {
		out[Outcome(i).String()] = p.counts[i].Load()
	}
	return out
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
