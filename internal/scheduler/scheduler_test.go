package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "oncallbuzzer/pkg/logx"
)

func TestParseSpec(t *testing.T) {
	t.Parallel()
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"0 0 * * *", false},
		{"@every 6h", false},
		{"@daily", false},
		{"*/30 * * * * *", false},
		{"", true},
		{"every midnight", true},
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		_, err := ParseSpec(tt.spec)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseSpec(%q) err = %v, wantErr %v", tt.spec, err, tt.wantErr)
		}
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	s := New(time.UTC, logx.Nop())
	if err := s.Add("", "@daily", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := s.Add("x", "nonsense", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected error for bad spec")
	}
	if err := s.Add("x", "@daily", 0, nil); err == nil {
		t.Fatal("expected error for nil job")
	}
}

func TestRunNowAndSnapshot(t *testing.T) {
	s := New(time.UTC, logx.Nop())
	var runs atomic.Int32
	job := func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}
	if err := s.Add("stats.rollover", "0 0 * * *", time.Second, job); err != nil {
		t.Fatal(err)
	}
	if err := s.Add("directory.refresh", "@every 6h", 0, func(context.Context) error { return errors.New("boom") }); err != nil {
		t.Fatal(err)
	}
	// Replacing keeps a single entry.
	if err := s.Add("stats.rollover", "0 0 * * *", time.Second, job); err != nil {
		t.Fatal(err)
	}

	if err := s.RunNow("stats.rollover"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if err := s.RunNow("directory.refresh"); err != nil {
		t.Fatalf("RunNow (failing job): %v", err)
	}
	if err := s.RunNow("missing"); err == nil {
		t.Fatal("expected error for unknown job")
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}

	s.Start()
	defer s.Stop(context.Background())
	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].Name != "directory.refresh" || snap[1].Name != "stats.rollover" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestJobPanicIsRecovered(t *testing.T) {
	s := New(time.UTC, logx.Nop())
	if err := s.Add("panics", "@daily", 0, func(context.Context) error { panic("nope") }); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow("panics"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
}
