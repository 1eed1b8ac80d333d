package fswatch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	logx "taskbell/pkg/logx"
)

func TestMatches(t *testing.T) {
	t.Parallel()
	tests := []struct {
		names []string
		path  string
		want  bool
	}{
		{nil, "/x/any.json", true},
		{[]string{"tasks.json"}, "/x/tasks.json", true},
		{[]string{"tasks.json"}, "/x/TASKS.JSON", true},
		{[]string{"tasks.json"}, "/x/tasks.json.tmp", false},
		{[]string{"tasks.db", "tasks.db-wal"}, "tasks.db-wal", true},
	}
	for _, tt := range tests {
		if got := matches(tt.names, tt.path); got != tt.want {
			t.Fatalf("matches(%v, %q) = %v, want %v", tt.names, tt.path, got, tt.want)
		}
	}
}

func TestWatchDebouncesWrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	changed := make(chan struct{}, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, Options{
			Dir:      dir,
			Names:    []string{"tasks.json"},
			Debounce: 50 * time.Millisecond,
			Log:      logx.Nop(),
			OnChange: func() {
				calls.Add(1)
				changed <- struct{}{}
			},
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("{\"n\":1}"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	// Unwatched names never trigger.
	_ = os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600)

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("no change reported")
	}
	time.Sleep(150 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("OnChange calls = %d, want 1", n)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchRequiresCallback(t *testing.T) {
	t.Parallel()
	if err := Watch(context.Background(), Options{Dir: t.TempDir()}); err == nil {
		t.Fatal("expected error without OnChange")
	}
}
