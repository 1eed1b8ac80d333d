// Package cli is the taskbell command tree.
package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"taskbell/internal/config"
	"taskbell/internal/storage"
	"taskbell/internal/tasks"
	logx "taskbell/pkg/logx"
)

const DefaultConfigPath = "./taskbell.yaml"

// RootCmd builds the full command tree.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskbell",
		Short: "Task manager with start/end alarms and continuous alerts",
		Long: `taskbell keeps tasks with a time window. The daemon ("taskbell run")
notifies when a window opens and closes and rings while it is open.
Task commands edit the same store; a running daemon picks up changes.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", DefaultConfigPath, "path to config (json or yaml)")

	root.AddCommand(RunCmd())
	root.AddCommand(ListCmd())
	root.AddCommand(AddCmd())
	root.AddCommand(UpdateCmd())
	root.AddCommand(DeleteCmd())
	root.AddCommand(CompleteCmd())
	root.AddCommand(NextCmd())
	return root
}

// env is what one-shot task commands need.
type env struct {
	cfg   *config.Config
	loc   *time.Location
	store storage.Store
	tasks *tasks.Service
}

func (e *env) Close() error { return e.store.Close() }

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("config")
	if p == "" {
		return DefaultConfigPath
	}
	return p
}

func openEnv(cmd *cobra.Command) (*env, error) {
	cfg, _, err := config.NewConfigManager(configPath(cmd)).LoadOrDefault()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	busy, err := cfg.Storage.BusyWait()
	if err != nil {
		return nil, err
	}
	// One-shot commands only log problems.
	log := logx.NewConsole("warn")
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// No refresh hook: the daemon's store watcher reconciles.
	svc := tasks.New(store, tasks.WithLogger(log.With(logx.String("comp", "tasks"))))
	return &env{cfg: cfg, loc: loc, store: store, tasks: svc}, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}
