package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"taskbell/internal/alarm"
	"taskbell/internal/config"
	"taskbell/internal/eventbus"
	"taskbell/internal/storage"
	"taskbell/internal/task"
	"taskbell/internal/tasks"
	logx "taskbell/pkg/logx"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func writeConfig(t *testing.T, path, storePath string, bellRate int) {
	t.Helper()
	body := fmt.Sprintf(`{
  "logging": {"level": "error", "console": true},
  "notifier": {"enabled": true, "console": true},
  "storage": {"driver": "file", "path": %q},
  "bell": {"enabled": false, "rate_per_sec": %d}
}`, storePath, bellRate)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func seed(t *testing.T, storePath string, in task.Task) task.Task {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: storePath}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	out, err := st.Create(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func startApp(t *testing.T, cfgPath string) *App {
	t.Helper()
	a, err := New(cfgPath, WithOutput(&syncBuffer{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	})
	return a
}

func TestStartupReconcileAndStoreWatch(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "tasks.json")
	cfgPath := filepath.Join(dir, "taskbell.json")
	writeConfig(t, cfgPath, storePath, 0)

	now := time.Now()
	active := seed(t, storePath, task.Task{Name: "Focus", StartAt: now.Add(-time.Minute), EndAt: now.Add(time.Hour), Status: task.StatusInProgress})

	a := startApp(t, cfgPath)
	if !a.Scheduler().Alerts().Running(active.ID) {
		t.Fatal("startup reconcile did not start the alert of an open window")
	}
	if !a.Scheduler().Alarms().Has(alarm.Key{TaskID: active.ID, Phase: alarm.PhaseEnd}) {
		t.Fatal("end alarm missing after startup")
	}

	// Another process (the CLI) writes to the store.
	future := seed(t, storePath, task.Task{Name: "Later", StartAt: now.Add(time.Hour), EndAt: now.Add(2 * time.Hour), Status: task.StatusPending})
	waitFor(t, 5*time.Second, "store watcher resync", func() bool {
		return a.Scheduler().Alarms().Has(alarm.Key{TaskID: future.ID, Phase: alarm.PhaseStart})
	})
}

func TestMutationsRefreshSchedule(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "tasks.json")
	cfgPath := filepath.Join(dir, "taskbell.json")
	writeConfig(t, cfgPath, storePath, 0)

	a := startApp(t, cfgPath)
	ctx := context.Background()
	now := time.Now()
	tk, err := a.Tasks().Add(ctx, tasks.Input{Name: "Call", StartAt: now.Add(-time.Minute), EndAt: now.Add(time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if !a.Scheduler().Alerts().Running(tk.ID) {
		t.Fatal("Add did not refresh the schedule")
	}
	if _, err := a.Tasks().Complete(ctx, tk.ID); err != nil {
		t.Fatal(err)
	}
	if a.Scheduler().Alerts().Running(tk.ID) || a.Scheduler().Alarms().Len() != 0 {
		t.Fatal("completed task still scheduled")
	}
}

func TestConfigHotReload(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "tasks.json")
	cfgPath := filepath.Join(dir, "taskbell.json")
	writeConfig(t, cfgPath, storePath, 0)

	a := startApp(t, cfgPath)
	events, unsub := a.Bus().Subscribe(64)
	defer unsub()

	time.Sleep(100 * time.Millisecond)
	writeConfig(t, cfgPath, storePath, 4)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type != eventbus.TypeConfigApplied {
				continue
			}
			sections, _ := e.Data.([]string)
			if !slices.Contains(sections, "bell") {
				t.Fatalf("sections = %v", sections)
			}
			if a.Config().Bell.RatePerSec != 4 {
				t.Fatalf("committed rate = %d", a.Config().Bell.RatePerSec)
			}
			return
		case <-deadline:
			t.Fatal("config reload not applied")
		}
	}
}

func TestNewWithoutConfigFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	// Default store path is relative to the working directory.
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(wd) }()

	a, err := New(filepath.Join(dir, "missing.yaml"), WithOutput(&syncBuffer{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.store.Close()
	if a.Config().Storage.Driver != storage.DriverFile {
		t.Fatalf("driver = %q", a.Config().Storage.Driver)
	}
	if got := a.Notifier().Sinks(); !slices.Equal(got, []string{"console"}) {
		t.Fatalf("sinks = %v", got)
	}
}

func TestNewFailureClosesLogFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "taskbell.log")
	storeDir := filepath.Join(dir, "store.json")
	if err := os.Mkdir(storeDir, 0o755); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "taskbell.json")
	body := fmt.Sprintf(`{
  "logging": {"level": "error", "file": {"enabled": true, "path": %q}},
  "storage": {"driver": "file", "path": %q}
}`, logPath, storeDir)
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	var svc *logx.Service
	prev := newLogService
	newLogService = func(cfg logx.Config) (*logx.Service, logx.Logger) {
		s, l := prev(cfg)
		svc = s
		return s, l
	}
	t.Cleanup(func() { newLogService = prev })

	if _, err := New(cfgPath, WithOutput(&syncBuffer{})); err == nil {
		t.Fatal("New succeeded with a directory as the store document")
	}
	if svc == nil {
		t.Fatal("log service was not created")
	}
	if p := svc.FilePath(); p != "" {
		t.Fatalf("log file %q left open", p)
	}
}

func TestMappers(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Storage = config.StorageConfig{Driver: "sqlite3", Path: " x.db ", BusyTimeout: "2s"}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Driver != storage.DriverSQLite || sc.Path != "x.db" || sc.BusyTimeout != 2*time.Second {
		t.Fatalf("storage = %+v", sc)
	}
	cfg.Storage.Driver = "redis"
	if _, err := mapStorageConfig(cfg); err == nil {
		t.Fatal("expected unknown driver error")
	}

	if got := storeWatchNames(storage.DriverSQLite, "/d/t.db"); !slices.Equal(got, []string{"t.db", "t.db-wal"}) {
		t.Fatalf("sqlite names = %v", got)
	}
	if got := storeWatchNames(storage.DriverFile, "/d/t.json"); !slices.Equal(got, []string{"t.json"}) {
		t.Fatalf("file names = %v", got)
	}

	cfg = config.Default()
	cfg.Notifier = nil
	nc, err := mapNotifierConfig(cfg)
	if err != nil || !nc.Enabled {
		t.Fatalf("notifier = %+v, %v", nc, err)
	}
	cfg.Alarm.TickInterval = ""
	if d, err := mapTickInterval(cfg); err != nil || d != alarm.DefaultTickInterval {
		t.Fatalf("tick = %v, %v", d, err)
	}
}

func TestResyncTrigger(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	r := newResyncTrigger(logx.Nop(), func() { calls.Add(1) })
	defer r.Stop(context.Background())

	if err := r.Apply("not a spec", time.UTC); err == nil {
		t.Fatal("expected parse error")
	}
	if err := r.Apply("@every 1s", time.UTC); err != nil {
		t.Fatal(err)
	}
	if r.Next().IsZero() {
		t.Fatal("Next() is zero while enabled")
	}
	waitFor(t, 3*time.Second, "resync fire", func() bool { return calls.Load() > 0 })

	if err := r.Apply("", time.UTC); err != nil {
		t.Fatal(err)
	}
	if !r.Next().IsZero() {
		t.Fatal("Next() set while disabled")
	}
}
