package app

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"oncallbuzzer/internal/buzzer"
	"oncallbuzzer/internal/config"
	kit "oncallbuzzer/internal/transport"
)

type fakeAdapter struct {
	mu      sync.Mutex
	out     chan<- kit.Event
	handler kit.CommandHandler
	posts   []string
	stopped bool
}

func (f *fakeAdapter) ListChannels(ctx context.Context, cursor string) (kit.ChannelPage, error) {
	return kit.ChannelPage{Channels: []kit.Channel{{ID: "C1", Name: "incidents"}, {ID: "C2", Name: "random"}}}, nil
}

func (f *fakeAdapter) PostMessage(ctx context.Context, channel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, channel+": "+text)
	return nil
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = out
	return nil
}

func (f *fakeAdapter) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeAdapter) SetCommandHandler(h kit.CommandHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeAdapter) send(ev kit.Event) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- ev
}

type countingPlayer struct{ n atomic.Int32 }

func (p *countingPlayer) Play(ctx context.Context, cfg buzzer.Config) error {
	p.n.Add(1)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Alert.ChannelAllowlist = []string{"incidents"}
	cfg.Sound.Repeat = 1
	cfg.Sound.IntervalSeconds = 0
	cfg.Notifier.Desktop = false
	cfg.Notifier.SlackChannel = "C-NOTIFY"
	cfg.Notifier.RatePerSec = 100
	cfg.Stats.Path = filepath.Join(t.TempDir(), "alert_stats.json")
	cfg.Logging.Console = false
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAppFiresAlertEndToEnd(t *testing.T) {
	ad := &fakeAdapter{}
	player := &countingPlayer{}
	a, err := New(testConfig(t), WithAdapter(ad), WithPlayer(player))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer a.Stop(context.Background(), StopUnknown)

	ad.send(kit.Event{ID: "e1", Channel: "C2", Text: "urgent in random"})
	ad.send(kit.Event{ID: "e2", Channel: "C1", Text: "URGENT: db down"})
	ad.send(kit.Event{ID: "e2", Channel: "C1", Text: "URGENT: db down"})

	waitFor(t, "buzzer", func() bool { return player.n.Load() == 1 })
	waitFor(t, "stats", func() bool { return a.tracker.Snapshot().TotalAlerts == 1 })
	waitFor(t, "slack notification", func() bool {
		ad.mu.Lock()
		defer ad.mu.Unlock()
		return len(ad.posts) == 1 && strings.Contains(ad.posts[0], "Channel: incidents")
	})

	counts := a.pipe.Counts()
	if counts["channel"] != 1 || counts["duplicate"] != 1 || counts["fired"] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestAppAnswersSlashCommands(t *testing.T) {
	ad := &fakeAdapter{}
	a, err := New(testConfig(t), WithAdapter(ad), WithPlayer(&countingPlayer{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer a.Stop(context.Background(), StopUnknown)

	ad.mu.Lock()
	h := ad.handler
	ad.mu.Unlock()
	if h == nil {
		t.Fatal("command handler not installed")
	}
	reply := h(context.Background(), kit.Command{Name: "/buzzer-stats"})
	if !strings.Contains(reply, "Total alerts: 0") {
		t.Fatalf("reply = %q", reply)
	}
}

func TestAppStopIsIdempotent(t *testing.T) {
	ad := &fakeAdapter{}
	a, err := New(testConfig(t), WithAdapter(ad), WithPlayer(&countingPlayer{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
	if err := a.Stop(context.Background(), StopSIGTERM); err != nil {
		t.Fatal(err)
	}
	if err := a.Stop(context.Background(), StopSIGTERM); err != nil {
		t.Fatal(err)
	}
	ad.mu.Lock()
	defer ad.mu.Unlock()
	if !ad.stopped {
		t.Fatal("adapter not stopped")
	}
}

func TestNewRejectsBadStorageDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stats.Driver = "redis"
	if _, err := New(cfg, WithAdapter(&fakeAdapter{}), WithPlayer(&countingPlayer{})); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestMapNotifierConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Notifier.Desktop = false
	cfg.Notifier.RetryBase = "2s"
	nc, err := mapNotifierConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if nc.Enabled || nc.RetryBase != 2*time.Second || nc.DedupWindow != 30*time.Second {
		t.Fatalf("notifier config = %+v", nc)
	}

	cfg.Notifier.DedupWindow = "soon"
	if _, err := mapNotifierConfig(cfg); err == nil {
		t.Fatal("expected duration error")
	}
}
