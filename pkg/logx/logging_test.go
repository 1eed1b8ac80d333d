package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	// Must not panic.
	l.Info("hello", String("k", "v"))
	if l.With(String("a", "b")).IsZero() {
		t.Fatal("With() should produce a non-zero logger")
	}
}

func TestLoggerWritesFieldsInOrder(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := New(zerolog.New(&buf)).With(String("comp", "test"), String("k", "first"))
	l.Info("msg", String("k", "second"), Err(errors.New("boom")), Int("n", 3))

	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if m["comp"] != "test" {
		t.Fatalf("comp = %v", m["comp"])
	}
	if m["n"] != float64(3) {
		t.Fatalf("n = %v", m["n"])
	}
	if m["message"] != "msg" {
		t.Fatalf("message = %v", m["message"])
	}
	if !strings.Contains(buf.String(), `"k":"second"`) {
		t.Fatalf("expected call-site field to be written: %s", buf.String())
	}
}

func TestEnabledRespectsLevel(t *testing.T) {
	t.Parallel()
	l := New(zerolog.New(&bytes.Buffer{}).Level(zerolog.WarnLevel))
	if l.Enabled(LevelDebug) {
		t.Fatal("debug should be disabled at warn level")
	}
	if !l.Enabled(LevelError) {
		t.Fatal("error should be enabled at warn level")
	}
}

func TestServiceFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bell.log")
	svc, log := NewService(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("written to file", String("k", "v"))
	if got := svc.FilePath(); got != path {
		t.Fatalf("FilePath() = %q, want %q", got, path)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := svc.FilePath(); got != "" {
		t.Fatalf("FilePath() after Close = %q", got)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), "written to file") {
		t.Fatalf("log file missing message: %q", string(b))
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"", "info", "WARN", "warning", "Debug"} {
		if !ValidLevel(s) {
			t.Fatalf("ValidLevel(%q) = false", s)
		}
	}
	if ValidLevel("loud") {
		t.Fatal("ValidLevel(loud) = true")
	}
}
