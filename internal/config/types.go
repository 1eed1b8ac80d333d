package config

// Config is the daemon and CLI configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Alarm   AlarmConfig   `json:"alarm"`

	// Notifier defaults to enabled with a console sink when the whole
	// section is omitted.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  StorageConfig   `json:"storage"`
	Bell     BellConfig      `json:"bell"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// AlarmConfig controls the alarm scheduler.
//
// Defaults (when fields are omitted/zero):
//   - tick_interval: "1s"
//   - resync: "" (disabled); a cron spec such as "@every 5m" or "*/10 * * * *"
//     re-reads the store and reconciles on that schedule
//   - timezone: local; used for CLI time input/output and the resync schedule
type AlarmConfig struct {
	TickInterval string `json:"tick_interval,omitempty"`
	Resync       string `json:"resync,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
}

// NotifierConfig controls the async notification pipeline and its sinks.
//
// Example:
//
//	"notifier": {
//	  "enabled": true,
//	  "console": true,
//	  "command": ["notify-send", "{title}", "{message}"]
//	}
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`

	Console  bool                    `json:"console"`
	Command  []string                `json:"command,omitempty"`
	Telegram *NotifierTelegramConfig `json:"telegram,omitempty"`
}

type NotifierTelegramConfig struct {
	Token  string `json:"token"` // do not log
	ChatID int64  `json:"chat_id"`
}

// StorageConfig selects the task store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./taskbell.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// BellConfig controls the terminal bell rung by continuous alerts.
type BellConfig struct {
	Enabled    bool `json:"enabled"`
	RatePerSec int  `json:"rate_per_sec,omitempty"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Alarm:   AlarmConfig{TickInterval: "1s"},
		Notifier: &NotifierConfig{
			Enabled: true,
			Console: true,
		},
		Storage: StorageConfig{Driver: "file", Path: "./taskbell.json"},
		Bell:    BellConfig{Enabled: true, RatePerSec: 2},
	}
}

// NotifierOrDefault returns the notifier section, applying the
// omitted-section default.
func (c *Config) NotifierOrDefault() NotifierConfig {
	if c == nil || c.Notifier == nil {
		return NotifierConfig{Enabled: true, Console: true}
	}
	return *c.Notifier
}
