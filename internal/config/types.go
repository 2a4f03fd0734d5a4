package config

// Config is the single immutable configuration assembled at startup.
//
// Every field can come from a config file (json/yaml, snake_case keys) and is
// overridden by the environment variable named in its env tag when that
// variable is set. Durations are Go duration strings ("500ms", "6h").
type Config struct {
	Slack     SlackConfig     `json:"slack"`
	Alert     AlertConfig     `json:"alert"`
	Sound     SoundConfig     `json:"sound"`
	Notifier  NotifierConfig  `json:"notifier"`
	Stats     StatsConfig     `json:"stats"`
	Dedup     DedupConfig     `json:"dedup"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Logging   LoggingConfig   `json:"logging"`
	Status    StatusConfig    `json:"status"`
}

type SlackConfig struct {
	AppToken string `json:"app_token" env:"SLACK_APP_TOKEN"` // xapp-...
	BotToken string `json:"bot_token" env:"SLACK_BOT_TOKEN"` // xoxb-...
	Debug    bool   `json:"debug" env:"SLACK_DEBUG"`
	// DropReportInterval controls how often dropped inbound events are summarized in logs.
	DropReportInterval string `json:"drop_report_interval,omitempty" env:"SLACK_DROP_REPORT_INTERVAL"`
}

// AlertConfig is the match and channel policy.
type AlertConfig struct {
	Keywords         []string `json:"keywords" env:"KEYWORDS" envSeparator:","`
	Patterns         []string `json:"patterns" env:"KEYWORD_PATTERNS" envSeparator:","`
	ChannelAllowlist []string `json:"channel_allowlist" env:"CHANNEL_ALLOWLIST" envSeparator:","`
	ChannelBlocklist []string `json:"channel_blocklist" env:"CHANNEL_BLOCKLIST" envSeparator:","`
	IgnoreBots       bool     `json:"ignore_bots" env:"IGNORE_BOTS"`
	// RateLimitMinutes is the cooldown between recorded alerts. <=0 disables it.
	RateLimitMinutes int `json:"rate_limit_minutes" env:"RATE_LIMIT_MINUTES"`
	// QueueSize bounds inbound events waiting for the pipeline worker.
	QueueSize int `json:"queue_size,omitempty" env:"EVENT_QUEUE_SIZE"`
}

type SoundConfig struct {
	Path            string   `json:"path" env:"SOUND_PATH"`
	Volume          float64  `json:"volume" env:"SOUND_VOLUME"`
	Repeat          int      `json:"repeat" env:"BUZZ_REPEAT"`
	IntervalSeconds float64  `json:"interval_seconds" env:"BUZZ_INTERVAL_SECONDS"`
	Player          string   `json:"player" env:"SOUND_PLAYER"` // auto|afplay|paplay|aplay|none
	Dirs            []string `json:"dirs,omitempty" env:"SOUND_DIRS" envSeparator:","`
}

// NotifierConfig controls the async notification pipeline.
type NotifierConfig struct {
	Desktop         bool   `json:"desktop" env:"SHOW_MAC_NOTIFICATION"`
	SlackChannel    string `json:"slack_channel,omitempty" env:"NOTIFY_SLACK_CHANNEL"`
	Workers         int    `json:"workers,omitempty" env:"NOTIFY_WORKERS"`
	QueueSize       int    `json:"queue_size,omitempty" env:"NOTIFY_QUEUE_SIZE"`
	RatePerSec      int    `json:"rate_per_sec,omitempty" env:"NOTIFY_RATE_PER_SEC"`
	RetryMax        int    `json:"retry_max,omitempty" env:"NOTIFY_RETRY_MAX"`
	RetryBase       string `json:"retry_base,omitempty" env:"NOTIFY_RETRY_BASE"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty" env:"NOTIFY_RETRY_MAX_DELAY"`
	DedupWindow     string `json:"dedup_window,omitempty" env:"NOTIFY_DEDUP_WINDOW"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty" env:"NOTIFY_DEDUP_MAX_ENTRIES"`
	HistorySize     int    `json:"history_size,omitempty" env:"NOTIFY_HISTORY_SIZE"`
}

// Enabled reports whether any sink is configured.
func (c NotifierConfig) Enabled() bool { return c.Desktop || c.SlackChannel != "" }

// StatsConfig controls alert counters and their persistence.
//
// Example:
//
//	"stats": { "enabled": true, "driver": "sqlite", "path": "./alert_stats.db" }
type StatsConfig struct {
	Enabled     bool   `json:"enabled" env:"ENABLE_STATS"`
	Driver      string `json:"driver" env:"STATS_DRIVER"` // file|sqlite
	Path        string `json:"path" env:"STATS_FILE"`
	BusyTimeout string `json:"busy_timeout,omitempty" env:"STATS_BUSY_TIMEOUT"` // sqlite
}

type DedupConfig struct {
	Capacity int    `json:"capacity" env:"DEDUP_CAPACITY"`
	Policy   string `json:"policy" env:"DEDUP_POLICY"` // fifo|reset
}

// SchedulerConfig holds the cron specs of the periodic jobs.
// An empty spec disables the job.
type SchedulerConfig struct {
	Timezone         string `json:"timezone,omitempty" env:"SCHEDULER_TIMEZONE"`
	StatsRollover    string `json:"stats_rollover" env:"STATS_ROLLOVER_SCHEDULE"`
	DirectoryRefresh string `json:"directory_refresh" env:"DIRECTORY_REFRESH_SCHEDULE"`
}

type LoggingConfig struct {
	Level   string       `json:"level" env:"LOG_LEVEL"`
	Console bool         `json:"console" env:"LOG_CONSOLE"`
	File    LoggingFile  `json:"file"`
	Slack   LoggingSlack `json:"slack"`
}

type LoggingFile struct {
	Path string `json:"path,omitempty" env:"LOG_FILE"`
}

// LoggingSlack forwards records at or above MinLevel to a Slack channel.
type LoggingSlack struct {
	Channel    string `json:"channel,omitempty" env:"LOG_SLACK_CHANNEL"`
	MinLevel   string `json:"min_level,omitempty" env:"LOG_SLACK_MIN_LEVEL"`
	RatePerSec int    `json:"rate_per_sec,omitempty" env:"LOG_SLACK_RATE_PER_SEC"`
}

// StatusConfig controls the optional HTTP status surface.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:5000").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type StatusConfig struct {
	Enabled       bool   `json:"enabled" env:"STATUS_ENABLED"`
	Addr          string `json:"addr,omitempty" env:"STATUS_ADDR"`
	Token         string `json:"token,omitempty" env:"STATUS_TOKEN"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty" env:"STATUS_ALLOW_INSECURE"`
	Pprof         bool   `json:"pprof,omitempty" env:"STATUS_PPROF"`

	ReadTimeout  string `json:"read_timeout,omitempty" env:"STATUS_READ_TIMEOUT"`
	WriteTimeout string `json:"write_timeout,omitempty" env:"STATUS_WRITE_TIMEOUT"`
	IdleTimeout  string `json:"idle_timeout,omitempty" env:"STATUS_IDLE_TIMEOUT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Slack: SlackConfig{DropReportInterval: "1m"},
		Alert: AlertConfig{
			Keywords:         []string{"@help", "help me", "urgent"},
			IgnoreBots:       true,
			RateLimitMinutes: 5,
			QueueSize:        256,
		},
		Sound: SoundConfig{
			Path:            "/System/Library/Sounds/Submarine.aiff",
			Volume:          0.7,
			Repeat:          3,
			IntervalSeconds: 0.6,
			Player:          "auto",
			Dirs:            []string{"/System/Library/Sounds", "/usr/share/sounds"},
		},
		Notifier: NotifierConfig{
			Desktop:         true,
			Workers:         2,
			QueueSize:       64,
			RatePerSec:      2,
			RetryMax:        3,
			RetryBase:       "500ms",
			RetryMaxDelay:   "10s",
			DedupWindow:     "30s",
			DedupMaxEntries: 256,
			HistorySize:     50,
		},
		Stats: StatsConfig{
			Enabled:     true,
			Driver:      "file",
			Path:        "alert_stats.json",
			BusyTimeout: "5s",
		},
		Dedup: DedupConfig{Capacity: 500, Policy: "fifo"},
		Scheduler: SchedulerConfig{
			StatsRollover:    "0 0 * * *",
			DirectoryRefresh: "@every 6h",
		},
		Logging: LoggingConfig{
			Level:   "INFO",
			Console: true,
			Slack:   LoggingSlack{MinLevel: "ERROR", RatePerSec: 1},
		},
		Status: StatusConfig{
			Addr:        "127.0.0.1:5000",
			ReadTimeout: "5s",
			IdleTimeout: "60s",
		},
	}
}
