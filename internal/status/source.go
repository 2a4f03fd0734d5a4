package status

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"oncallbuzzer/internal/storage"
	logx "oncallbuzzer/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

// Source supplies the stats shown by the status surface.
type Source interface {
	Stats(ctx context.Context) (storage.Stats, error)
}

// SnapshotSource serves the live counters of a running bot.
type SnapshotSource struct {
	Snapshot func() storage.Stats
}

func (s SnapshotSource) Stats(context.Context) (storage.Stats, error) {
	if s.Snapshot == nil {
		return storage.Stats{}, nil
	}
	return s.Snapshot(), nil
}

// StoreSource reads the persisted stats on every request. Nothing saved
// yet reads as zero stats.
type StoreSource struct {
	Store storage.Store
}

func (s StoreSource) Stats(ctx context.Context) (storage.Stats, error) {
	if s.Store == nil {
		return storage.Stats{}, storage.ErrDisabled
	}
	st, err := s.Store.LoadStats(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Stats{}, nil
	}
	return st, err
}

// FileWatcher caches the stats file and reloads it when fsnotify reports a
// change. A missing or unreadable file reads as zero stats.
type FileWatcher struct {
	path     string
	log      logx.Logger
	debounce time.Duration

	mu     sync.RWMutex
	cur    storage.Stats
	loaded time.Time
}

func NewFileWatcher(path string, log logx.Logger) *FileWatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	w := &FileWatcher{path: path, log: log, debounce: 100 * time.Millisecond}
	w.reload()
	return w
}

func (w *FileWatcher) Stats(context.Context) (storage.Stats, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur, nil
}

// LoadedAt is when the cache was last refreshed.
func (w *FileWatcher) LoadedAt() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.loaded
}

func (w *FileWatcher) reload() {
	st, err := storage.ReadStatsFile(w.path)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		w.log.Debug("stats file unreadable; serving zero stats", logx.String("path", w.path), logx.Err(err))
	}
	if err != nil {
		st = storage.Stats{}
	}
	w.mu.Lock()
	w.cur = st
	w.loaded = time.Now()
	w.mu.Unlock()
}

// Watch watches the directory of the stats file until ctx is done. The
// file is replaced by rename on every save, so the directory is watched
// rather than the file. It returns an error when the watcher breaks; run it
// under a restart loop.
func (w *FileWatcher) Watch(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("stats watch init: %w", err)
	}
	defer func() { _ = fw.Close() }()
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("stats watch add %s: %w", dir, err)
	}
	w.log.Debug("stats watcher started", logx.String("dir", dir), logx.String("file", file))
	// Catch up on anything written before the watch was in place.
	w.reload()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("stats watcher events closed")
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			// Debounce partial writes.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("stats watcher errors closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.reload()
				continue
			}
			w.log.Warn("stats watcher error", logx.Err(err))
		}
	}
}
