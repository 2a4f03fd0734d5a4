package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"oncallbuzzer/internal/dedup"
	"oncallbuzzer/internal/directory"
	"oncallbuzzer/internal/eventbus"
	"oncallbuzzer/internal/matcher"
	"oncallbuzzer/internal/metrics"
	"oncallbuzzer/internal/notifier"
	"oncallbuzzer/internal/stats"
	"oncallbuzzer/internal/storage"
	kit "oncallbuzzer/internal/transport"
	logx "oncallbuzzer/pkg/logx"
)

type staticLister []kit.Channel

func (l staticLister) ListChannels(ctx context.Context, cursor string) (kit.ChannelPage, error) {
	return kit.ChannelPage{Channels: l}, nil
}

type countingBuzzer struct{ n int }

func (b *countingBuzzer) Trigger() bool { b.n++; return true }

type recordingNotifier struct {
	mu  sync.Mutex
	got []notifier.Notification
	err error
}

func (r *recordingNotifier) Notify(ctx context.Context, n notifier.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

type fixture struct {
	p      *Pipeline
	clock  *time.Time
	stats  *stats.Tracker
	buzzer *countingBuzzer
	notify *recordingNotifier
	store  storage.Store
}

func newFixture(t *testing.T, policy directory.Policy, keywords []string, cooldown time.Duration) *fixture {
	t.Helper()
	store, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "alert_stats.json")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)
	f := &fixture{clock: &now, buzzer: &countingBuzzer{}, notify: &recordingNotifier{}, store: store}
	f.stats = stats.New(stats.Config{Cooldown: cooldown, Persist: true}, store, logx.Nop(), stats.WithClock(func() time.Time { return *f.clock }))

	lister := staticLister{{ID: "C1", Name: "incidents"}, {ID: "C2", Name: "random"}}
	p, err := New(Config{IgnoreBots: true}, Deps{
		Dedup:    dedup.New(500, dedup.PolicyFIFO),
		Channels: directory.New(lister, policy, logx.Nop()),
		Stats:    f.stats,
		Matcher:  matcher.Compile(keywords, nil, logx.Nop()),
		Buzzer:   f.buzzer,
		Notifier: f.notify,
	}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	f.p = p
	return f
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t, directory.Policy{Allow: []string{"incidents"}}, []string{"urgent"}, 5*time.Minute)
	ctx := context.Background()

	r := f.p.Handle(ctx, kit.Event{ID: "e1", Channel: "C1", Text: "this is urgent", User: "U1"})
	if r.Outcome != OutcomeFired {
		t.Fatalf("event1 outcome = %v", r.Outcome)
	}
	if s := f.stats.Snapshot(); s.TotalAlerts != 1 || s.AlertsToday != 1 {
		t.Fatalf("after event1 stats = %+v", s)
	}

	if r := f.p.Handle(ctx, kit.Event{ID: "e1", Channel: "C1", Text: "this is urgent"}); r.Outcome != OutcomeDuplicate {
		t.Fatalf("event2 outcome = %v", r.Outcome)
	}
	if r := f.p.Handle(ctx, kit.Event{ID: "e3", Channel: "C2", Text: "urgent!"}); r.Outcome != OutcomeChannel {
		t.Fatalf("event3 outcome = %v", r.Outcome)
	}

	*f.clock = f.clock.Add(time.Minute)
	if r := f.p.Handle(ctx, kit.Event{ID: "e4", Channel: "C1", Text: "urgent again"}); r.Outcome != OutcomeCooldown {
		t.Fatalf("event4 outcome = %v", r.Outcome)
	}

	if s := f.stats.Snapshot(); s.TotalAlerts != 1 || s.AlertsToday != 1 {
		t.Fatalf("final stats = %+v", s)
	}
	if f.buzzer.n != 1 {
		t.Fatalf("buzzer triggered %d times", f.buzzer.n)
	}
	persisted, err := f.store.LoadStats(ctx)
	if err != nil || persisted.TotalAlerts != 1 {
		t.Fatalf("persisted = %+v, %v", persisted, err)
	}
	counts := f.p.Counts()
	if counts["fired"] != 1 || counts["duplicate"] != 1 || counts["channel"] != 1 || counts["cooldown"] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestOrderOfChecks(t *testing.T) {
	tests := []struct {
		name string
		ev   kit.Event
		want Outcome
	}{
		{"missing text", kit.Event{ID: "a", Channel: "C1"}, OutcomeEmpty},
		{"missing channel", kit.Event{ID: "b", Text: "urgent"}, OutcomeEmpty},
		{"bot message", kit.Event{ID: "c", Channel: "C1", Text: "urgent", IsBot: true}, OutcomeBot},
		{"blocked channel", kit.Event{ID: "d", Channel: "C2", Text: "urgent"}, OutcomeChannel},
		{"no keyword", kit.Event{ID: "e", Channel: "C1", Text: "lunch?"}, OutcomeNoMatch},
		{"no id still fires", kit.Event{Channel: "C1", Text: "URGENT db down"}, OutcomeFired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, directory.Policy{Block: []string{"random"}}, []string{"urgent"}, 0)
			if got := f.p.Handle(context.Background(), tt.ev).Outcome; got != tt.want {
				t.Fatalf("outcome = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNotificationSummary(t *testing.T) {
	f := newFixture(t, directory.Policy{}, []string{"urgent"}, 0)
	long := "urgent " + strings.Repeat("x", 400)

	r := f.p.Handle(context.Background(), kit.Event{ID: "n1", Channel: "C1", Text: long})
	if r.Outcome != OutcomeFired || r.ChannelName != "incidents" {
		t.Fatalf("result = %+v", r)
	}
	if len(f.notify.got) != 1 {
		t.Fatalf("notifications = %d", len(f.notify.got))
	}
	n := f.notify.got[0]
	if n.Title != NotificationTitle {
		t.Fatalf("title = %q", n.Title)
	}
	want := "Channel: incidents\n" + long[:180]
	if n.Text != want {
		t.Fatalf("text = %q", n.Text)
	}

	// Unknown channel falls back to the id.
	f.p.Handle(context.Background(), kit.Event{ID: "n2", Channel: "C404", Text: "urgent"})
	if got := f.notify.got[1].Text; got != "Channel: C404\nurgent" {
		t.Fatalf("fallback text = %q", got)
	}
}

func TestNotifierErrorDoesNotStopAlert(t *testing.T) {
	f := newFixture(t, directory.Policy{}, []string{"urgent"}, 0)
	f.notify.err = notifier.ErrQueueFull
	if r := f.p.Handle(context.Background(), kit.Event{ID: "q", Channel: "C1", Text: "urgent"}); r.Outcome != OutcomeFired || !r.Buzzed {
		t.Fatalf("result = %+v", r)
	}
}

type panicMatcher struct{}

func (panicMatcher) Match(string) bool { panic("boom") }

func TestPanicIsContainedPerEvent(t *testing.T) {
	f := newFixture(t, directory.Policy{}, []string{"urgent"}, 0)
	f.p.deps.Matcher = panicMatcher{}

	r := f.p.Handle(context.Background(), kit.Event{ID: "p1", Channel: "C1", Text: "urgent"})
	if r.Outcome != OutcomeError || r.Err == nil {
		t.Fatalf("result = %+v", r)
	}

	f.p.deps.Matcher = matcher.Compile([]string{"urgent"}, nil, logx.Nop())
	if r := f.p.Handle(context.Background(), kit.Event{ID: "p2", Channel: "C1", Text: "urgent"}); r.Outcome != OutcomeFired {
		t.Fatalf("next event outcome = %v", r.Outcome)
	}
}

func TestRunProcessesInOrderAndPublishes(t *testing.T) {
	f := newFixture(t, directory.Policy{}, []string{"urgent"}, time.Hour)
	bus := eventbus.New()
	sub, unsub := bus.Subscribe(8)
	defer unsub()
	f.p.deps.Bus = bus
	f.p.deps.Metrics = metrics.New()

	in := make(chan kit.Event, 3)
	in <- kit.Event{ID: "r1", Channel: "C1", Text: "urgent one"}
	in <- kit.Event{ID: "r2", Channel: "C1", Text: "urgent two"}
	in <- kit.Event{ID: "r3", Channel: "C1", Text: "hello"}
	close(in)

	if err := f.p.Run(context.Background(), in); err != nil {
		t.Fatal(err)
	}

	var got []string
	for i := 0; i < 3; i++ {
		e := <-sub
		got = append(got, e.Data.(AlertEvent).Outcome)
	}
	want := []string{"fired", "cooldown", "cooldown"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("outcomes = %v, want %v", got, want)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, directory.Policy{}, []string{"urgent"}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.p.Run(ctx, make(chan kit.Event)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewRequiresCoreDeps(t *testing.T) {
	if _, err := New(Config{}, Deps{}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := truncate("héllo", 2); got != "hé" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("abc", 10); got != "abc" {
		t.Fatalf("truncate = %q", got)
	}
}
