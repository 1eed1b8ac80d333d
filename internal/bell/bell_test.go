package bell

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"taskbell/internal/eventbus"
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

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestTickRingsAndPublishes(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	var buf syncBuffer
	b := New(Config{Enabled: true}, &buf, logx.Nop(), bus)
	b.Tick(7, 1)
	b.Tick(7, 2)

	if got := buf.String(); got != BEL+BEL {
		t.Fatalf("output = %q, want two BELs", got)
	}
	for want := uint64(1); want <= 2; want++ {
		ev := <-ch
		te, ok := ev.Data.(TickEvent)
		if ev.Type != eventbus.TypeAlertTick || !ok || te.TaskID != 7 || te.N != want || !te.Rung {
			t.Fatalf("event = %+v", ev)
		}
	}
}

func TestTickRateLimited(t *testing.T) {
	t.Parallel()
	var buf syncBuffer
	b := New(Config{Enabled: true, RatePerSec: 1}, &buf, logx.Nop(), nil)
	for i := uint64(1); i <= 5; i++ {
		b.Tick(1, i)
	}
	if n := strings.Count(buf.String(), BEL); n != 1 {
		t.Fatalf("rang %d times, want 1 (burst of 1)", n)
	}
	rung, suppressed := b.Counts()
	if rung != 1 || suppressed != 4 {
		t.Fatalf("counts = %d/%d, want 1/4", rung, suppressed)
	}
}

func TestApplyDisables(t *testing.T) {
	t.Parallel()
	var buf syncBuffer
	b := New(Config{Enabled: true}, &buf, logx.Nop(), nil)
	b.Apply(Config{Enabled: false})
	b.Tick(1, 1)
	if buf.String() != "" {
		t.Fatalf("disabled bell wrote %q", buf.String())
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestWriteErrorCountsAsSuppressed(t *testing.T) {
	t.Parallel()
	b := New(Config{Enabled: true}, failWriter{}, logx.Nop(), nil)
	b.Tick(1, 1)
	if rung, suppressed := b.Counts(); rung != 0 || suppressed != 1 {
		t.Fatalf("counts = %d/%d", rung, suppressed)
	}
}
