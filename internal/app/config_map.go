package app

import (
	"fmt"
	"strings"
	"time"

	"oncallbuzzer/internal/config"
	"oncallbuzzer/internal/notifier"
	"oncallbuzzer/internal/status"
	"oncallbuzzer/internal/storage"
	"oncallbuzzer/internal/transport/slack/adapter"
	logx "oncallbuzzer/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Stats
	if !sc.Enabled {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("stats.path is required when stats.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("stats.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	case "none":
		return storage.Config{}, false, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown stats.driver: %s", sc.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	out := notifier.Config{
		Enabled:         nc.Enabled(),
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		DedupMaxEntries: nc.DedupMaxEntries,
		HistorySize:     nc.HistorySize,
	}
	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, 500*time.Millisecond); err != nil {
		return out, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", nc.RetryMaxDelay, 10*time.Second); err != nil {
		return out, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", nc.DedupWindow, 30*time.Second); err != nil {
		return out, err
	}
	return out, nil
}

func mapStatusConfig(cfg *config.Config) (status.Config, error) {
	sc := cfg.Status
	out := status.Config{
		Enabled:       sc.Enabled,
		Addr:          sc.Addr,
		Token:         sc.Token,
		AllowInsecure: sc.AllowInsecure,
		Pprof:         sc.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("status.read_timeout", sc.ReadTimeout, 5*time.Second); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("status.write_timeout", sc.WriteTimeout, 0); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("status.idle_timeout", sc.IdleTimeout, 60*time.Second); err != nil {
		return out, err
	}
	return out, nil
}

// MapStatusConfig is exported for the standalone dashboard binary.
func MapStatusConfig(cfg *config.Config) (status.Config, error) { return mapStatusConfig(cfg) }

// MapStorageConfig is exported for the standalone dashboard binary.
func MapStorageConfig(cfg *config.Config) (storage.Config, bool, error) { return mapStorageConfig(cfg) }

func mapAdapterConfig(cfg *config.Config) (adapter.Config, error) {
	drop, err := config.ParseDurationOrDefault("slack.drop_report_interval", cfg.Slack.DropReportInterval, time.Minute)
	if err != nil {
		return adapter.Config{}, err
	}
	return adapter.Config{
		BotToken:           cfg.Slack.BotToken,
		AppToken:           cfg.Slack.AppToken,
		Debug:              cfg.Slack.Debug,
		DropReportInterval: drop,
	}, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: strings.TrimSpace(lc.File.Path) != "", Path: lc.File.Path},
		Slack: logx.SlackConfig{
			Enabled:    strings.TrimSpace(lc.Slack.Channel) != "",
			Channel:    lc.Slack.Channel,
			MinLevel:   lc.Slack.MinLevel,
			RatePerSec: lc.Slack.RatePerSec,
		},
	}
}
