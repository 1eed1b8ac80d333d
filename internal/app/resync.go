package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"taskbell/internal/config"
	logx "taskbell/pkg/logx"

	"github.com/robfig/cron/v3"
)

// resyncTrigger re-reads the store on a cron schedule. An empty spec disables it.
type resyncTrigger struct {
	log logx.Logger
	fn  func()

	mu   sync.Mutex
	c    *cron.Cron
	spec string
	loc  *time.Location
}

func newResyncTrigger(log logx.Logger, fn func()) *resyncTrigger {
	return &resyncTrigger{log: log, fn: fn}
}

// Apply (re)starts the cron with spec in loc. Unchanged settings are a no-op.
func (r *resyncTrigger) Apply(spec string, loc *time.Location) error {
	spec = strings.TrimSpace(spec)
	if loc == nil {
		loc = time.Local
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil && spec == r.spec && r.loc != nil && loc.String() == r.loc.String() {
		return nil
	}
	if r.c != nil {
		<-r.c.Stop().Done()
		r.c = nil
	}
	r.spec, r.loc = spec, loc
	if spec == "" {
		r.log.Debug("resync disabled")
		return nil
	}

	c := cron.New(cron.WithParser(config.CronParser()), cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, r.fn); err != nil {
		return err
	}
	c.Start()
	r.c = c
	r.log.Info("resync scheduled", logx.String("spec", spec), logx.String("tz", loc.String()),
		logx.Time("next", r.nextLocked()))
	return nil
}

// Next is the next resync time, or zero when disabled.
func (r *resyncTrigger) Next() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextLocked()
}

func (r *resyncTrigger) nextLocked() time.Time {
	if r.c == nil {
		return time.Time{}
	}
	entries := r.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (r *resyncTrigger) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}
