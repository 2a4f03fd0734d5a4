// Package directory caches channel id<->name lookups for allow/block checks.
package directory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	kit "oncallbuzzer/internal/transport"
	logx "oncallbuzzer/pkg/logx"
)

// Policy is the channel allow/block configuration. Entries are ids or names.
type Policy struct {
	Allow []string
	Block []string
}

// maps is swapped in whole so both directions always agree.
type maps struct {
	byID   map[string]string
	byName map[string]string
}

// Directory is loaded lazily on the first lookup. A failed load is not
// retried until Invalidate or Refresh is called.
type Directory struct {
	lister kit.ChannelLister
	log    logx.Logger
	allow  map[string]struct{}
	block  map[string]struct{}

	loadMu sync.Mutex
	loaded atomic.Bool
	cur    atomic.Pointer[maps]

	refreshes atomic.Uint64
	lastOK    atomic.Int64 // unix nanos of the last successful refresh
}

func New(lister kit.ChannelLister, p Policy, log logx.Logger) *Directory {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Directory{
		lister: lister,
		log:    log,
		allow:  toSet(p.Allow),
		block:  toSet(p.Block),
	}
	d.cur.Store(&maps{byID: map[string]string{}, byName: map[string]string{}})
	return d
}

func toSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

// ResolveName maps a channel id to its name.
func (d *Directory) ResolveName(ctx context.Context, id string) (string, bool) {
	d.ensureLoaded(ctx)
	name, ok := d.cur.Load().byID[id]
	return name, ok
}

// ResolveID maps a channel name to its id.
func (d *Directory) ResolveID(ctx context.Context, name string) (string, bool) {
	d.ensureLoaded(ctx)
	id, ok := d.cur.Load().byName[name]
	return id, ok
}

// IsAllowed applies the allow-list, then the block-list. A non-empty
// allow-list must contain the id or resolved name. The block-list vetoes by
// id or name regardless of the allow-list outcome.
func (d *Directory) IsAllowed(ctx context.Context, id string) bool {
	if len(d.allow) == 0 && len(d.block) == 0 {
		return true
	}
	name, _ := d.ResolveName(ctx, id)
	if len(d.allow) > 0 && !d.inSet(d.allow, id, name) {
		return false
	}
	if len(d.block) > 0 && d.inSet(d.block, id, name) {
		return false
	}
	return true
}

func (d *Directory) inSet(set map[string]struct{}, id, name string) bool {
	if _, ok := set[id]; ok {
		return true
	}
	if name == "" {
		return false
	}
	_, ok := set[name]
	return ok
}

func (d *Directory) ensureLoaded(ctx context.Context) {
	if d.loaded.Load() {
		return
	}
	d.loadMu.Lock()
	defer d.loadMu.Unlock()
	if d.loaded.Load() {
		return
	}
	_ = d.refreshLocked(ctx)
}

// Refresh pages through the full channel listing and replaces the cache.
// On failure the previous state is kept and the error returned.
func (d *Directory) Refresh(ctx context.Context) error {
	d.loadMu.Lock()
	defer d.loadMu.Unlock()
	return d.refreshLocked(ctx)
}

func (d *Directory) refreshLocked(ctx context.Context) error {
	// Marked before the attempt so a failing listing is not retried per lookup.
	d.loaded.Store(true)
	d.refreshes.Add(1)
	if d.lister == nil {
		return nil
	}

	start := time.Now()
	next := &maps{byID: map[string]string{}, byName: map[string]string{}}
	cursor := ""
	pages := 0
	for {
		page, err := d.lister.ListChannels(ctx, cursor)
		if err != nil {
			d.log.Warn("failed to load channel directory", logx.Int("pages", pages), logx.Err(err))
			return fmt.Errorf("list channels: %w", err)
		}
		pages++
		for _, ch := range page.Channels {
			if ch.ID == "" || ch.Name == "" {
				continue
			}
			// Keep the maps one-to-one: drop stale pairs for this id or name.
			if old, ok := next.byID[ch.ID]; ok {
				delete(next.byName, old)
			}
			if old, ok := next.byName[ch.Name]; ok {
				delete(next.byID, old)
			}
			next.byID[ch.ID] = ch.Name
			next.byName[ch.Name] = ch.ID
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	d.cur.Store(next)
	d.lastOK.Store(time.Now().UnixNano())
	d.log.Info("loaded channels into cache", logx.Int("channels", len(next.byID)), logx.Int("pages", pages), logx.Duration("took", time.Since(start)))
	return nil
}

// Invalidate makes the next lookup refresh the cache.
func (d *Directory) Invalidate() { d.loaded.Store(false) }

// Len is the number of cached channels.
func (d *Directory) Len() int { return len(d.cur.Load().byID) }

type Snapshot struct {
	Channels    int       `json:"channels"`
	Loaded      bool      `json:"loaded"`
	Refreshes   uint64    `json:"refreshes"`
	LastRefresh time.Time `json:"last_refresh,omitempty"`
}

func (d *Directory) Snapshot() Snapshot {
	s := Snapshot{Channels: d.Len(), Loaded: d.loaded.Load(), Refreshes: d.refreshes.Load()}
	if ns := d.lastOK.Load(); ns > 0 {
		s.LastRefresh = time.Unix(0, ns)
	}
	return s
}
