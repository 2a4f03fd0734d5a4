package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"oncallbuzzer/internal/scheduler"
)

var ErrMissingToken = errors.New("missing slack token")

// MinBuzzInterval is the floor applied to the inter-repeat interval.
const MinBuzzInterval = 50 * time.Millisecond

// RequireSlack checks the credentials the bot cannot start without.
func (c *Config) RequireSlack() error {
	if strings.TrimSpace(c.Slack.AppToken) == "" || strings.TrimSpace(c.Slack.BotToken) == "" {
		return fmt.Errorf("%w: SLACK_APP_TOKEN and SLACK_BOT_TOKEN are required", ErrMissingToken)
	}
	if !strings.HasPrefix(c.Slack.AppToken, "xapp-") {
		return fmt.Errorf("%w: SLACK_APP_TOKEN must start with xapp-", ErrMissingToken)
	}
	return nil
}

// Validate clamps soft limits in place and reports every hard error at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Sound.Repeat < 1 {
		c.Sound.Repeat = 1
	}
	if c.Sound.Volume < 0 {
		c.Sound.Volume = 0
	}
	if c.Sound.Volume > 1 {
		c.Sound.Volume = 1
	}
	if c.BuzzInterval() < MinBuzzInterval {
		c.Sound.IntervalSeconds = MinBuzzInterval.Seconds()
	}
	switch c.Sound.Player {
	case "", "auto", "afplay", "paplay", "aplay", "none":
	default:
		errs = append(errs, fmt.Errorf("sound.player: unknown player %q", c.Sound.Player))
	}

	if c.Dedup.Capacity <= 0 {
		c.Dedup.Capacity = 500
	}
	switch c.Dedup.Policy {
	case "", "fifo", "reset":
	default:
		errs = append(errs, fmt.Errorf("dedup.policy: must be fifo or reset, got %q", c.Dedup.Policy))
	}
	if c.Alert.QueueSize <= 0 {
		c.Alert.QueueSize = 256
	}

	switch c.Stats.Driver {
	case "file", "sqlite":
	case "":
		c.Stats.Driver = "file"
	default:
		errs = append(errs, fmt.Errorf("stats.driver: must be file or sqlite, got %q", c.Stats.Driver))
	}
	if c.Stats.Enabled && strings.TrimSpace(c.Stats.Path) == "" {
		errs = append(errs, errors.New("stats.path: required when stats are enabled"))
	}

	durations := []struct{ path, raw string }{
		{"slack.drop_report_interval", c.Slack.DropReportInterval},
		{"notifier.retry_base", c.Notifier.RetryBase},
		{"notifier.retry_max_delay", c.Notifier.RetryMaxDelay},
		{"notifier.dedup_window", c.Notifier.DedupWindow},
		{"stats.busy_timeout", c.Stats.BusyTimeout},
		{"status.read_timeout", c.Status.ReadTimeout},
		{"status.write_timeout", c.Status.WriteTimeout},
		{"status.idle_timeout", c.Status.IdleTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	for _, s := range []struct{ path, spec string }{
		{"scheduler.stats_rollover", c.Scheduler.StatsRollover},
		{"scheduler.directory_refresh", c.Scheduler.DirectoryRefresh},
	} {
		if strings.TrimSpace(s.spec) == "" {
			continue
		}
		if _, err := scheduler.ParseSpec(s.spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.path, err))
		}
	}

	if c.Status.Enabled && strings.TrimSpace(c.Status.Addr) == "" {
		c.Status.Addr = "127.0.0.1:5000"
	}

	return errors.Join(errs...)
}

// Cooldown is the minimum time between recorded alerts. Zero disables it.
func (c *Config) Cooldown() time.Duration {
	if c.Alert.RateLimitMinutes <= 0 {
		return 0
	}
	return time.Duration(c.Alert.RateLimitMinutes) * time.Minute
}

func (c *Config) BuzzInterval() time.Duration {
	return time.Duration(c.Sound.IntervalSeconds * float64(time.Second))
}

// Location resolves the scheduler timezone (local time when empty).
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}
