package stats

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"oncallbuzzer/internal/storage"
	logx "oncallbuzzer/pkg/logx"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type memStore struct {
	saved   []storage.Stats
	loadErr error
	saveErr error
	initial storage.Stats
}

func (m *memStore) LoadStats(ctx context.Context) (storage.Stats, error) {
	if m.loadErr != nil {
		return storage.Stats{}, m.loadErr
	}
	return m.initial, nil
}

func (m *memStore) SaveStats(ctx context.Context, s storage.Stats) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, s)
	return nil
}

func (m *memStore) Close() error { return nil }

func TestRateLimited(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)
	last := now.Add(-4 * time.Minute)
	tests := []struct {
		name     string
		last     *time.Time
		cooldown time.Duration
		want     bool
	}{
		{"never alerted", nil, 5 * time.Minute, false},
		{"zero cooldown", &last, 0, false},
		{"negative cooldown", &last, -time.Minute, false},
		{"inside cooldown", &last, 5 * time.Minute, true},
		{"exactly at cooldown", &last, 4 * time.Minute, false},
		{"after cooldown", &last, 3 * time.Minute, false},
	}
	for _, tt := range tests {
		if got := RateLimited(tt.last, tt.cooldown, now); got != tt.want {
			t.Fatalf("%s: RateLimited = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRecordAlertAndDailyReset(t *testing.T) {
	c := &clock{t: time.Date(2024, 5, 1, 23, 58, 0, 0, time.Local)}
	store := &memStore{}
	tr := New(Config{Cooldown: 5 * time.Minute, Persist: true}, store, logx.Nop(), WithClock(c.now))

	s := tr.RecordAlert(context.Background())
	if s.TotalAlerts != 1 || s.AlertsToday != 1 || s.LastResetDate != "2024-05-01" {
		t.Fatalf("after first alert: %+v", s)
	}
	if !tr.IsRateLimited() {
		t.Fatal("expected cooldown right after an alert")
	}

	c.advance(10 * time.Minute) // next day
	if tr.IsRateLimited() {
		t.Fatal("cooldown should have expired")
	}
	s = tr.RecordAlert(context.Background())
	if s.TotalAlerts != 2 || s.AlertsToday != 1 || s.LastResetDate != "2024-05-02" {
		t.Fatalf("after day change: %+v", s)
	}
	if len(store.saved) != 2 {
		t.Fatalf("saves = %d, want 2", len(store.saved))
	}
	if got := store.saved[1].LastAlertTime; got == nil || !got.Equal(c.t) {
		t.Fatalf("saved last alert = %v", got)
	}
}

func TestLoadFallsBackToZero(t *testing.T) {
	store := &memStore{loadErr: errors.New("corrupt")}
	tr := New(Config{Persist: true}, store, logx.Nop())
	tr.Load(context.Background())
	if s := tr.Snapshot(); s.TotalAlerts != 0 || s.LastAlertTime != nil {
		t.Fatalf("snapshot = %+v", s)
	}

	last := time.Now().Add(-time.Minute)
	store = &memStore{initial: storage.Stats{TotalAlerts: 9, AlertsToday: 2, LastAlertTime: &last, LastResetDate: "2024-05-01"}}
	tr = New(Config{Cooldown: 5 * time.Minute, Persist: true}, store, logx.Nop())
	tr.Load(context.Background())
	if s := tr.Snapshot(); s.TotalAlerts != 9 {
		t.Fatalf("snapshot = %+v", s)
	}
	if !tr.IsRateLimited() {
		t.Fatal("loaded last alert should drive the cooldown")
	}
}

func TestSaveFailureKeepsMemoryAuthoritative(t *testing.T) {
	store := &memStore{saveErr: errors.New("disk full")}
	tr := New(Config{Persist: true}, store, logx.Nop())
	tr.RecordAlert(context.Background())
	tr.RecordAlert(context.Background())
	if s := tr.Snapshot(); s.TotalAlerts != 2 {
		t.Fatalf("total = %d", s.TotalAlerts)
	}
	if tr.SaveErrors() != 2 {
		t.Fatalf("save errors = %d", tr.SaveErrors())
	}
}

func TestMemoryOnlyStillRateLimits(t *testing.T) {
	store := &memStore{}
	tr := New(Config{Cooldown: time.Minute, Persist: false}, store, logx.Nop())
	tr.RecordAlert(context.Background())
	if !tr.IsRateLimited() {
		t.Fatal("cooldown must apply without persistence")
	}
	if len(store.saved) != 0 {
		t.Fatal("memory-only tracker must not save")
	}
	if tr.Enabled() {
		t.Fatal("Enabled() should be false")
	}
}

func TestRollover(t *testing.T) {
	c := &clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.Local)}
	store := &memStore{}
	tr := New(Config{Persist: true}, store, logx.Nop(), WithClock(c.now))
	tr.RecordAlert(context.Background())
	tr.RecordAlert(context.Background())

	if tr.Rollover(context.Background()) {
		t.Fatal("same day rollover should be a no-op")
	}
	c.advance(24 * time.Hour)
	if !tr.Rollover(context.Background()) {
		t.Fatal("expected rollover on a new day")
	}
	s := tr.Snapshot()
	if s.AlertsToday != 0 || s.TotalAlerts != 2 || s.LastResetDate != "2024-05-02" {
		t.Fatalf("after rollover: %+v", s)
	}
	// The next alert on the same day counts from zero without a second reset.
	if s = tr.RecordAlert(context.Background()); s.AlertsToday != 1 || s.TotalAlerts != 3 {
		t.Fatalf("after alert: %+v", s)
	}
}

func TestTrackerWithFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alert_stats.json")
	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	tr := New(Config{Persist: true}, st, logx.Nop())
	tr.Load(context.Background())
	tr.RecordAlert(context.Background())

	again := New(Config{Persist: true}, st, logx.Nop())
	again.Load(context.Background())
	if s := again.Snapshot(); s.TotalAlerts != 1 || s.AlertsToday != 1 {
		t.Fatalf("reloaded = %+v", s)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := New(Config{}, nil, logx.Nop())
	tr.RecordAlert(context.Background())
	s := tr.Snapshot()
	*s.LastAlertTime = time.Time{}
	if tr.Snapshot().LastAlertTime.IsZero() {
		t.Fatal("snapshot must not alias tracker state")
	}
}
