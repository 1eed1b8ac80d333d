package config

import (
	"reflect"
	"sort"
	"strings"

	logx "taskbell/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Alarm
	if strings.TrimSpace(oldCfg.Alarm.TickInterval) != strings.TrimSpace(newCfg.Alarm.TickInterval) ||
		strings.TrimSpace(oldCfg.Alarm.Resync) != strings.TrimSpace(newCfg.Alarm.Resync) ||
		strings.TrimSpace(oldCfg.Alarm.Timezone) != strings.TrimSpace(newCfg.Alarm.Timezone) {
		changed = append(changed, "alarm")
		attrs = append(attrs,
			logx.String("alarm.tick_interval", strings.TrimSpace(newCfg.Alarm.TickInterval)),
			logx.String("alarm.resync", strings.TrimSpace(newCfg.Alarm.Resync)),
			logx.String("alarm.timezone", strings.TrimSpace(newCfg.Alarm.Timezone)),
		)
	}

	// Notifier (never log token)
	// A nil section means runtime defaults.
	oldN := oldCfg.NotifierOrDefault()
	newN := newCfg.NotifierOrDefault()
	if !reflect.DeepEqual(oldN, newN) {
		changed = append(changed, "notifier")
		tokenSet := newN.Telegram != nil && strings.TrimSpace(newN.Telegram.Token) != ""
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.queue_size", newN.QueueSize),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Bool("notifier.console", newN.Console),
			logx.Bool("notifier.command_set", len(newN.Command) > 0),
			logx.Bool("notifier.telegram_token_set", tokenSet),
		)
	}

	// Storage (requires restart)
	if strings.TrimSpace(oldCfg.Storage.Driver) != strings.TrimSpace(newCfg.Storage.Driver) ||
		strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	// Bell
	if oldCfg.Bell != newCfg.Bell {
		changed = append(changed, "bell")
		attrs = append(attrs,
			logx.Bool("bell.enabled", newCfg.Bell.Enabled),
			logx.Int("bell.rate_per_sec", newCfg.Bell.RatePerSec),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
