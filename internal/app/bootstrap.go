package app

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"taskbell/internal/alarm"
	"taskbell/internal/bell"
	"taskbell/internal/config"
	"taskbell/internal/notifier"
	"taskbell/internal/storage"
	logx "taskbell/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapTickInterval(cfg *config.Config) (time.Duration, error) {
	d, err := cfg.Alarm.Tick()
	if err != nil {
		return 0, err
	}
	if d == 0 {
		d = alarm.DefaultTickInterval
	}
	return d, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.NotifierOrDefault()
	tm, err := nc.Timings()
	if err != nil {
		return notifier.Config{}, err
	}
	if nc.Workers < 0 || nc.QueueSize < 0 || nc.RatePerSec < 0 || nc.RetryMax < 0 {
		return notifier.Config{}, errors.New("notifier: negative sizes are not allowed")
	}
	return notifier.Config{
		Enabled:         nc.Enabled,
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        nc.RetryMax,
		RetryBase:       tm.RetryBase,
		RetryMaxDelay:   tm.RetryMaxDelay,
		DedupWindow:     tm.DedupWindow,
		DedupMaxEntries: nc.DedupMaxEntries,
	}, nil
}

// mapSinks builds the delivery sinks; console output goes to out.
func mapSinks(cfg *config.Config, out io.Writer) ([]notifier.Sink, error) {
	nc := cfg.NotifierOrDefault()
	var sinks []notifier.Sink
	if nc.Console {
		sinks = append(sinks, notifier.NewConsoleSink(out))
	}
	if len(nc.Command) > 0 {
		cs, err := notifier.NewCommandSink(nc.Command)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, cs)
	}
	if tg := nc.Telegram; tg != nil {
		ts, err := notifier.NewTelegramSink(tg.Token, tg.ChatID)
		if err != nil {
			return nil, fmt.Errorf("notifier.telegram: %w", err)
		}
		sinks = append(sinks, ts)
	}
	return sinks, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := storage.NormalizeDriver(sc.Driver)
	switch driver {
	case storage.DriverFile, storage.DriverSQLite:
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	busy, err := sc.BusyWait()
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, nil
}

func mapBellConfig(cfg *config.Config) bell.Config {
	return bell.Config{Enabled: cfg.Bell.Enabled, RatePerSec: cfg.Bell.RatePerSec}
}

// storeWatchNames lists the files that change when another process writes
// to the store at path.
func storeWatchNames(driver, path string) []string {
	base := filepath.Base(path)
	if driver == storage.DriverSQLite {
		return []string{base, base + "-wal"}
	}
	return []string{base}
}
