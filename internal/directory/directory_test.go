package directory

import (
	"context"
	"errors"
	"testing"

	kit "oncallbuzzer/internal/transport"
	logx "oncallbuzzer/pkg/logx"
)

type fakeLister struct {
	pages map[string]kit.ChannelPage
	err   error
	calls int
}

func (f *fakeLister) ListChannels(ctx context.Context, cursor string) (kit.ChannelPage, error) {
	f.calls++
	if f.err != nil {
		return kit.ChannelPage{}, f.err
	}
	return f.pages[cursor], nil
}

func twoPages() *fakeLister {
	return &fakeLister{pages: map[string]kit.ChannelPage{
		"": {
			Channels:   []kit.Channel{{ID: "C1", Name: "incidents"}, {ID: "C2", Name: "random"}},
			NextCursor: "next",
		},
		"next": {Channels: []kit.Channel{{ID: "C3", Name: "ops"}}},
	}}
}

func TestLazyLoadPagesOnce(t *testing.T) {
	l := twoPages()
	d := New(l, Policy{}, logx.Nop())
	ctx := context.Background()

	if name, ok := d.ResolveName(ctx, "C3"); !ok || name != "ops" {
		t.Fatalf("ResolveName(C3) = %q, %v", name, ok)
	}
	if id, ok := d.ResolveID(ctx, "incidents"); !ok || id != "C1" {
		t.Fatalf("ResolveID(incidents) = %q, %v", id, ok)
	}
	if l.calls != 2 {
		t.Fatalf("lister calls = %d, want 2 (one refresh, two pages)", l.calls)
	}
	if d.Len() != 3 {
		t.Fatalf("len = %d", d.Len())
	}
}

func TestFailedLoadIsNotRetried(t *testing.T) {
	l := &fakeLister{err: errors.New("ratelimited")}
	d := New(l, Policy{}, logx.Nop())
	ctx := context.Background()

	if _, ok := d.ResolveName(ctx, "C1"); ok {
		t.Fatal("expected no name after failed load")
	}
	d.ResolveName(ctx, "C1")
	d.ResolveID(ctx, "incidents")
	if l.calls != 1 {
		t.Fatalf("lister calls = %d, want 1", l.calls)
	}

	l.err = nil
	l.pages = twoPages().pages
	d.Invalidate()
	if name, ok := d.ResolveName(ctx, "C1"); !ok || name != "incidents" {
		t.Fatalf("after invalidate ResolveName = %q, %v", name, ok)
	}
}

func TestRefreshFailureKeepsPriorState(t *testing.T) {
	l := twoPages()
	d := New(l, Policy{}, logx.Nop())
	ctx := context.Background()
	if err := d.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	l.err = errors.New("boom")
	if err := d.Refresh(ctx); err == nil {
		t.Fatal("expected refresh error")
	}
	if name, ok := d.ResolveName(ctx, "C2"); !ok || name != "random" {
		t.Fatalf("prior state lost: %q, %v", name, ok)
	}
}

func TestMapsStayConsistent(t *testing.T) {
	l := &fakeLister{pages: map[string]kit.ChannelPage{
		"": {Channels: []kit.Channel{{ID: "C1", Name: "old"}, {ID: "C1", Name: "new"}, {ID: "C2", Name: "dup"}, {ID: "C3", Name: "dup"}}},
	}}
	d := New(l, Policy{}, logx.Nop())
	ctx := context.Background()
	if err := d.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	m := d.cur.Load()
	if len(m.byID) != len(m.byName) {
		t.Fatalf("maps diverged: byID=%v byName=%v", m.byID, m.byName)
	}
	for id, name := range m.byID {
		if m.byName[name] != id {
			t.Fatalf("inconsistent pair %s=%s", id, name)
		}
	}
}

func TestIsAllowed(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		policy  Policy
		channel string
		want    bool
	}{
		{"no lists allows all", Policy{}, "C2", true},
		{"allow by name", Policy{Allow: []string{"incidents"}}, "C1", true},
		{"allow by id", Policy{Allow: []string{"C2"}}, "C2", true},
		{"not in allow list", Policy{Allow: []string{"incidents"}}, "C2", false},
		{"block by name", Policy{Block: []string{"random"}}, "C2", false},
		{"block by id", Policy{Block: []string{"C3"}}, "C3", false},
		{"block wins over allow", Policy{Allow: []string{"incidents"}, Block: []string{"C1"}}, "C1", false},
		{"unknown channel with allow list", Policy{Allow: []string{"incidents"}}, "C9", false},
		{"unknown channel with block list", Policy{Block: []string{"random"}}, "C9", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(twoPages(), tt.policy, logx.Nop())
			if got := d.IsAllowed(ctx, tt.channel); got != tt.want {
				t.Fatalf("IsAllowed(%s) = %v, want %v", tt.channel, got, tt.want)
			}
		})
	}
}

func TestIsAllowedDegradesToIDsWhenListingFails(t *testing.T) {
	ctx := context.Background()
	d := New(&fakeLister{err: errors.New("down")}, Policy{Allow: []string{"incidents", "C7"}}, logx.Nop())
	if d.IsAllowed(ctx, "C1") {
		t.Fatal("name-based allow cannot match without a directory")
	}
	if !d.IsAllowed(ctx, "C7") {
		t.Fatal("id-based allow should still work")
	}
}

func TestNoListsSkipsLoad(t *testing.T) {
	l := twoPages()
	d := New(l, Policy{}, logx.Nop())
	d.IsAllowed(context.Background(), "C1")
	if l.calls != 0 {
		t.Fatalf("lister calls = %d, want 0", l.calls)
	}
}
