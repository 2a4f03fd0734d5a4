// Package buzzer plays the alert sound as a single-flight background activity.
package buzzer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"oncallbuzzer/internal/eventbus"
	rtsup "oncallbuzzer/internal/runtime/supervisor"
	logx "oncallbuzzer/pkg/logx"
)

// Config is the immutable playback configuration.
type Config struct {
	Path     string
	Volume   float64 // 0..1
	Repeat   int     // >= 1
	Interval time.Duration
}

// Player plays the configured sound once, blocking until it finishes.
type Player interface {
	Play(ctx context.Context, cfg Config) error
}

type State int32

const (
	Idle State = iota
	Playing
)

func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "idle"
}

// Buzzer runs at most one playback sequence at a time. Triggers that arrive
// while a sequence is running are dropped, not queued.
type Buzzer struct {
	cfg    Config
	player Player
	log    logx.Logger
	bus    eventbus.Bus
	sup    *rtsup.Supervisor

	mu      sync.Mutex
	state   State
	stopped bool
	done    chan struct{} // closed when the current sequence ends

	started atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func New(cfg Config, player Player, log logx.Logger, bus eventbus.Bus) *Buzzer {
	if cfg.Repeat < 1 {
		cfg.Repeat = 1
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	if player == nil {
		player = NopPlayer{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Buzzer{
		cfg:    cfg,
		player: player,
		log:    log,
		bus:    bus,
		sup:    rtsup.New(context.Background(), rtsup.WithLogger(log)),
	}
}

func (b *Buzzer) Config() Config { return b.cfg }

func (b *Buzzer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Trigger starts a playback sequence unless one is already running.
// It never blocks and reports whether a sequence was started.
func (b *Buzzer) Trigger() bool {
	b.mu.Lock()
	if b.state == Playing || b.stopped {
		b.mu.Unlock()
		b.dropped.Add(1)
		return false
	}
	b.state = Playing
	done := make(chan struct{})
	b.done = done
	b.mu.Unlock()

	b.started.Add(1)
	eventbus.Publish(b.bus, eventbus.BuzzerStarted, b.cfg.Repeat)
	b.sup.Go0("buzzer.playback", func(ctx context.Context) {
		defer func() {
			b.mu.Lock()
			b.state = Idle
			b.mu.Unlock()
			close(done)
			eventbus.Publish(b.bus, eventbus.BuzzerFinished, nil)
		}()
		b.play(ctx)
	})
	return true
}

func (b *Buzzer) play(ctx context.Context) {
	for i := 0; i < b.cfg.Repeat; i++ {
		if err := b.player.Play(ctx, b.cfg); err != nil {
			b.failed.Add(1)
			b.log.Error("failed to play sound", logx.String("path", b.cfg.Path), logx.Int("repeat", i+1), logx.Err(err))
		}
		if i == b.cfg.Repeat-1 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.cfg.Interval):
		}
	}
}

// Wait blocks until the current sequence (if any) ends or ctx is done.
func (b *Buzzer) Wait(ctx context.Context) error {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new triggers and lets in-flight playback finish until ctx is
// done, then abandons it.
func (b *Buzzer) Stop(ctx context.Context) error {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	err := b.Wait(ctx)
	if err != nil {
		b.log.Warn("abandoning in-flight playback", logx.Err(err))
	}
	b.sup.Cancel()
	wctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = b.sup.Wait(wctx)
	return err
}

type Snapshot struct {
	State   string `json:"state"`
	Started uint64 `json:"started"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

func (b *Buzzer) Snapshot() Snapshot {
	return Snapshot{
		State:   b.State().String(),
		Started: b.started.Load(),
		Dropped: b.dropped.Load(),
		Failed:  b.failed.Load(),
	}
}
