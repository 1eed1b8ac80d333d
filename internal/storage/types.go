package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"taskbell/internal/task"
	logx "taskbell/pkg/logx"
)

var (
	ErrNotFound = errors.New("task not found")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file" (default): JSON document at Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"

	DefaultFilePath   = "./taskbell.json"
	DefaultSQLitePath = "./taskbell.db"
)

// Store is the task persistence API.
//
// Create assigns ID, CreatedAt and UpdatedAt. Update keeps CreatedAt and
// refreshes UpdatedAt. Update and Delete return ErrNotFound for unknown ids.
type Store interface {
	List(ctx context.Context, f task.Filter) ([]task.Task, error)
	Get(ctx context.Context, id int64) (task.Task, error)
	Create(ctx context.Context, t task.Task) (task.Task, error)
	Update(ctx context.Context, t task.Task) error
	Delete(ctx context.Context, id int64) error
	// Path is the file other processes modify; watch it to detect changes.
	Path() string
	Close() error
}

// NormalizeDriver maps aliases to a driver name; empty means file.
func NormalizeDriver(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "", "file", "json":
		return DriverFile
	case "sqlite", "sqlite3":
		return DriverSQLite
	default:
		return strings.ToLower(strings.TrimSpace(d))
	}
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	switch NormalizeDriver(cfg.Driver) {
	case DriverFile:
		if strings.TrimSpace(cfg.Path) == "" {
			cfg.Path = DefaultFilePath
		}
		return openFile(cfg, log)
	case DriverSQLite:
		if strings.TrimSpace(cfg.Path) == "" {
			cfg.Path = DefaultSQLitePath
		}
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
