package storage

import (
	"context"
	"errors"
	"strings"

	logx "oncallbuzzer/pkg/logx"
)

// Store persists Stats. Implementations are safe for concurrent use.
type Store interface {
	// LoadStats returns ErrNotFound when nothing was saved yet.
	LoadStats(ctx context.Context) (Stats, error)
	SaveStats(ctx context.Context, s Stats) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
