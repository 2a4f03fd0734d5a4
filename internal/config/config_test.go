package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(LoadOptions{Environ: map[string]string{}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if want := []string{"@help", "help me", "urgent"}; !reflect.DeepEqual(cfg.Alert.Keywords, want) {
		t.Fatalf("keywords = %v, want %v", cfg.Alert.Keywords, want)
	}
	if !cfg.Alert.IgnoreBots || !cfg.Stats.Enabled || !cfg.Notifier.Desktop {
		t.Fatalf("expected bool defaults to be true: %+v", cfg)
	}
	if cfg.Cooldown() != 5*time.Minute {
		t.Fatalf("cooldown = %v", cfg.Cooldown())
	}
	if cfg.BuzzInterval() != 600*time.Millisecond {
		t.Fatalf("interval = %v", cfg.BuzzInterval())
	}
	if cfg.Dedup.Capacity != 500 || cfg.Dedup.Policy != "fifo" {
		t.Fatalf("dedup = %+v", cfg.Dedup)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	cfg, err := Load(LoadOptions{Environ: map[string]string{
		"KEYWORDS":           " URGENT , Sev1,, ",
		"KEYWORD_PATTERNS":   `^p[0-9]\b`,
		"CHANNEL_ALLOWLIST":  "incidents, C123",
		"IGNORE_BOTS":        "no",
		"ENABLE_STATS":       "Yes",
		"RATE_LIMIT_MINUTES": "0",
		"BUZZ_REPEAT":        "0",
		"SOUND_VOLUME":       "1.5",
		"STATS_DRIVER":       "SQLite",
	}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if want := []string{"urgent", "sev1"}; !reflect.DeepEqual(cfg.Alert.Keywords, want) {
		t.Fatalf("keywords = %v, want %v", cfg.Alert.Keywords, want)
	}
	if want := []string{"incidents", "C123"}; !reflect.DeepEqual(cfg.Alert.ChannelAllowlist, want) {
		t.Fatalf("allowlist = %v, want %v", cfg.Alert.ChannelAllowlist, want)
	}
	if cfg.Alert.IgnoreBots {
		t.Fatal("IGNORE_BOTS=no should disable bot filtering")
	}
	if !cfg.Stats.Enabled || cfg.Stats.Driver != "sqlite" {
		t.Fatalf("stats = %+v", cfg.Stats)
	}
	if cfg.Cooldown() != 0 {
		t.Fatalf("cooldown = %v, want disabled", cfg.Cooldown())
	}
	if cfg.Sound.Repeat != 1 || cfg.Sound.Volume != 1 {
		t.Fatalf("sound not clamped: %+v", cfg.Sound)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "buzzer.yaml")
	body := "alert:\n  keywords: [pager]\n  rate_limit_minutes: 10\nsound:\n  interval_seconds: 0.01\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(LoadOptions{Path: path, Environ: map[string]string{"RATE_LIMIT_MINUTES": "2"}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !reflect.DeepEqual(cfg.Alert.Keywords, []string{"pager"}) {
		t.Fatalf("keywords = %v", cfg.Alert.Keywords)
	}
	if cfg.Alert.RateLimitMinutes != 2 {
		t.Fatalf("env should win over file, got %d", cfg.Alert.RateLimitMinutes)
	}
	if cfg.BuzzInterval() != MinBuzzInterval {
		t.Fatalf("interval = %v, want floor %v", cfg.BuzzInterval(), MinBuzzInterval)
	}
}

func TestLoadFileRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buzzer.json")
	if err := os.WriteFile(path, []byte(`{"alert":{"keywordz":["x"]}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(LoadOptions{Path: path, Environ: map[string]string{}}); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		mut  func(c *Config)
	}{
		{"bad driver", func(c *Config) { c.Stats.Driver = "redis" }},
		{"bad policy", func(c *Config) { c.Dedup.Policy = "lru" }},
		{"bad duration", func(c *Config) { c.Notifier.DedupWindow = "soon" }},
		{"bad cron", func(c *Config) { c.Scheduler.StatsRollover = "every midnight" }},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Base" }},
		{"bad player", func(c *Config) { c.Sound.Player = "winamp" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mut(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestRequireSlack(t *testing.T) {
	cfg := Default()
	if err := cfg.RequireSlack(); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("err = %v, want ErrMissingToken", err)
	}
	cfg.Slack.AppToken = "xoxb-wrong"
	cfg.Slack.BotToken = "xoxb-1"
	if err := cfg.RequireSlack(); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("err = %v, want ErrMissingToken", err)
	}
	cfg.Slack.AppToken = "xapp-1"
	if err := cfg.RequireSlack(); err != nil {
		t.Fatalf("RequireSlack: %v", err)
	}
}

func TestParseBool(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]bool{
		"1": true, "TRUE": true, " t ": true, "y": true, "Yes": true,
		"0": false, "false": false, "no": false, "": false, "on": false,
	} {
		if got := ParseBool(in); got != want {
			t.Fatalf("ParseBool(%q) = %v, want %v", in, got, want)
		}
	}
}
