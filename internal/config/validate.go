package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"taskbell/internal/storage"
	logx "taskbell/pkg/logx"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field specs plus descriptors like "@every 5m".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a resync schedule.
func ParseCron(spec string) (cron.Schedule, error) {
	return cronParser.Parse(strings.TrimSpace(spec))
}

// CronParser returns the parser used for resync schedules.
func CronParser() cron.Parser { return cronParser }

// Location resolves alarm.timezone; empty means time.Local.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Alarm.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("alarm.timezone: %w", err)
	}
	return loc, nil
}

// duration parses a non-negative Go duration found at path. Empty is zero.
func duration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", path, raw)
	}
	return d, nil
}

// Tick is alarm.tick_interval; zero means the scheduler default.
func (a AlarmConfig) Tick() (time.Duration, error) {
	return duration("alarm.tick_interval", a.TickInterval)
}

// BusyWait is storage.busy_timeout; zero means the driver default.
func (s StorageConfig) BusyWait() (time.Duration, error) {
	return duration("storage.busy_timeout", s.BusyTimeout)
}

// NotifierTimings are the parsed duration fields of NotifierConfig.
type NotifierTimings struct {
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	DedupWindow   time.Duration
}

func (n NotifierConfig) Timings() (NotifierTimings, error) {
	var (
		t    NotifierTimings
		errs []error
		err  error
	)
	t.RetryBase, err = duration("notifier.retry_base", n.RetryBase)
	errs = append(errs, err)
	t.RetryMaxDelay, err = duration("notifier.retry_max_delay", n.RetryMaxDelay)
	errs = append(errs, err)
	t.DedupWindow, err = duration("notifier.dedup_window", n.DedupWindow)
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return NotifierTimings{}, err
	}
	if t.RetryMaxDelay > 0 && t.RetryBase > t.RetryMaxDelay {
		return NotifierTimings{}, fmt.Errorf("notifier.retry_base %s exceeds retry_max_delay %s", t.RetryBase, t.RetryMaxDelay)
	}
	return t, nil
}

// Validate checks every field that would otherwise fail later at apply time.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		add(fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		add(errors.New("logging.file.path is required when file logging is enabled"))
	}

	_, err := c.Alarm.Tick()
	add(err)
	if spec := strings.TrimSpace(c.Alarm.Resync); spec != "" {
		if _, err := ParseCron(spec); err != nil {
			add(fmt.Errorf("alarm.resync: %w", err))
		}
	}
	_, err = c.Location()
	add(err)

	if n := c.Notifier; n != nil {
		_, err := n.Timings()
		add(err)
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
			add(errors.New("notifier: workers, queue_size, rate_per_sec and retry_max must be >= 0"))
		}
		if len(n.Command) > 0 && strings.TrimSpace(n.Command[0]) == "" {
			add(errors.New("notifier.command: program is empty"))
		}
		if tg := n.Telegram; tg != nil {
			if strings.TrimSpace(tg.Token) == "" || tg.ChatID == 0 {
				add(errors.New("notifier.telegram: token and chat_id are required"))
			}
		}
	}

	switch d := storage.NormalizeDriver(c.Storage.Driver); d {
	case storage.DriverFile, storage.DriverSQLite:
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	_, err = c.Storage.BusyWait()
	add(err)

	if c.Bell.RatePerSec < 0 {
		add(errors.New("bell.rate_per_sec must be >= 0"))
	}
	return errors.Join(errs...)
}
