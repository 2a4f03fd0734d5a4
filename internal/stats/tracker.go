// Package stats owns the alert counters and the cooldown gate.
package stats

import (
	"context"
	"errors"
	"sync"
	"time"

	"oncallbuzzer/internal/storage"
	logx "oncallbuzzer/pkg/logx"
)

type Config struct {
	// Cooldown is the minimum time between recorded alerts. <=0 disables it.
	Cooldown time.Duration
	// Persist saves the counters after every change. When false the tracker
	// is memory only but the cooldown still applies.
	Persist bool
}

type Option func(*Tracker)

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// Tracker is the only writer of storage.Stats.
type Tracker struct {
	cfg   Config
	store storage.Store
	log   logx.Logger
	now   func() time.Time

	mu    sync.Mutex
	stats storage.Stats

	saveErrors uint64
}

func New(cfg Config, store storage.Store, log logx.Logger, opts ...Option) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Tracker{cfg: cfg, store: store, log: log, now: time.Now}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tracker) Enabled() bool { return t.cfg.Persist && t.store != nil }

func (t *Tracker) Cooldown() time.Duration { return t.cfg.Cooldown }

// Load reads persisted state. Any failure leaves zeroed counters.
func (t *Tracker) Load(ctx context.Context) {
	if !t.Enabled() {
		return
	}
	st, err := t.store.LoadStats(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		t.log.Debug("no saved stats; starting from zero")
		st = storage.Stats{}
	case err != nil:
		t.log.Warn("failed to load stats", logx.Err(err))
		st = storage.Stats{}
	default:
		t.log.Info("stats loaded",
			logx.Int64("total", st.TotalAlerts),
			logx.Int64("today", st.AlertsToday),
			logx.String("last_reset", st.LastResetDate),
		)
	}
	t.mu.Lock()
	t.stats = st
	t.mu.Unlock()
}

// IsRateLimited is true iff an alert was recorded, the cooldown is positive
// and less than the cooldown has passed since the last alert.
func (t *Tracker) IsRateLimited() bool {
	t.mu.Lock()
	last := t.stats.LastAlertTime
	t.mu.Unlock()
	return RateLimited(last, t.cfg.Cooldown, t.now())
}

// RateLimited is the cooldown rule as a pure function.
func RateLimited(last *time.Time, cooldown time.Duration, now time.Time) bool {
	if last == nil || cooldown <= 0 {
		return false
	}
	return now.Sub(*last) < cooldown
}

// RecordAlert counts one alert, resetting the daily counter on a new date,
// and persists synchronously. Save failures are logged only.
func (t *Tracker) RecordAlert(ctx context.Context) storage.Stats {
	now := t.now()
	today := now.Format(storage.DateLayout)

	t.mu.Lock()
	if t.stats.LastResetDate != today {
		t.stats.AlertsToday = 0
		t.stats.LastResetDate = today
	}
	t.stats.TotalAlerts++
	t.stats.AlertsToday++
	t.stats.LastAlertTime = &now
	snap := t.snapshotLocked()
	t.saveLocked(ctx, snap)
	t.mu.Unlock()

	return snap
}

// Rollover resets the daily counter when the date has changed since the
// last reset. It reports whether anything changed.
func (t *Tracker) Rollover(ctx context.Context) bool {
	today := t.now().Format(storage.DateLayout)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stats.LastResetDate == today {
		return false
	}
	prev := t.stats.AlertsToday
	t.stats.AlertsToday = 0
	t.stats.LastResetDate = today
	t.saveLocked(ctx, t.snapshotLocked())
	t.log.Info("daily counter reset", logx.Int64("previous", prev), logx.String("date", today))
	return true
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() storage.Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// SaveErrors counts failed saves since start.
func (t *Tracker) SaveErrors() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveErrors
}

func (t *Tracker) snapshotLocked() storage.Stats {
	s := t.stats
	if s.LastAlertTime != nil {
		v := *s.LastAlertTime
		s.LastAlertTime = &v
	}
	return s
}

// saveLocked writes under t.mu so saves land in mutation order.
func (t *Tracker) saveLocked(ctx context.Context, s storage.Stats) {
	if !t.Enabled() {
		return
	}
	if err := t.store.SaveStats(ctx, s); err != nil {
		t.saveErrors++
		t.log.Warn("failed to save stats", logx.Err(err))
	}
}
