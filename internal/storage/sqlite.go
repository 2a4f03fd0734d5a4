package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "oncallbuzzer/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	// WAL lets the dashboard read while the bot writes.
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadStats(ctx context.Context) (Stats, error) {
	if s == nil || s.db == nil {
		return Stats{}, ErrDisabled
	}
	var (
		st   Stats
		last sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT total_alerts, alerts_today, last_alert_time, last_reset_date FROM alert_stats WHERE id = 1`,
	).Scan(&st.TotalAlerts, &st.AlertsToday, &last, &st.LastResetDate)
	if errors.Is(err, sql.ErrNoRows) {
		return Stats{}, ErrNotFound
	}
	if err != nil {
		return Stats{}, err
	}
	if last.Valid && last.String != "" {
		t, err := ParseTimestamp(last.String)
		if err != nil {
			return Stats{}, err
		}
		st.LastAlertTime = &t
	}
	return st, nil
}

func (s *sqliteStore) SaveStats(ctx context.Context, st Stats) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	var last any
	if st.LastAlertTime != nil {
		last = st.LastAlertTime.Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_stats(id, total_alerts, alerts_today, last_alert_time, last_reset_date, updated_at)
		 VALUES(1,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   total_alerts=excluded.total_alerts,
		   alerts_today=excluded.alerts_today,
		   last_alert_time=excluded.last_alert_time,
		   last_reset_date=excluded.last_reset_date,
		   updated_at=excluded.updated_at`,
		st.TotalAlerts, st.AlertsToday, last, st.LastResetDate, time.Now().Format(time.RFC3339Nano),
	)
	return err
}
