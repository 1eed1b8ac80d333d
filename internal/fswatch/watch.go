// Package fswatch watches a few files in one directory and reports debounced
// changes.
//
// The directory is watched rather than the files, so editors and stores that
// replace files by rename are handled. When fsnotify gets into a bad state
// (common on Windows and with some editors) the watcher is recreated with
// jittered exponential backoff.
package fswatch

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "taskbell/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

const (
	DefaultDebounce    = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// Options configure Watch.
type Options struct {
	// Dir is the directory to watch.
	Dir string
	// Names are base names inside Dir; matching is case-insensitive.
	// Empty means every file in Dir.
	Names []string
	// Debounce collapses bursts of events into one OnChange call.
	Debounce time.Duration
	// OnChange runs on a timer goroutine after the debounce window.
	OnChange func()
	Log      logx.Logger
}

// Watch blocks until ctx is done.
func Watch(ctx context.Context, opt Options) error {
	if opt.OnChange == nil {
		return errors.New("fswatch: OnChange is required")
	}
	if opt.Dir == "" {
		opt.Dir = "."
	}
	if opt.Debounce <= 0 {
		opt.Debounce = DefaultDebounce
	}
	log := opt.Log

	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	nextWait := func() time.Duration {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if backoff < restartBackoffMax {
			backoff *= 2
			if backoff > restartBackoffMax {
				backoff = restartBackoffMax
			}
		}
		return wait
	}
	sleep := func(d time.Duration) bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
			return true
		}
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(opt.Debounce, func() {
			if ctx.Err() != nil {
				return
			}
			opt.OnChange()
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err != nil {
			log.Warn("watch init failed", logx.Err(err), logx.String("dir", opt.Dir))
			if !sleep(nextWait()) {
				return nil
			}
			continue
		}
		if err := w.Add(opt.Dir); err != nil {
			_ = w.Close()
			log.Warn("watch add failed", logx.Err(err), logx.String("dir", opt.Dir))
			if !sleep(nextWait()) {
				return nil
			}
			continue
		}

		// success; reset backoff so transient issues don't cause long restart delays
		backoff = restartBackoffBase
		log.Debug("watcher started", logx.String("dir", opt.Dir), logx.String("files", strings.Join(opt.Names, ",")))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if !matches(opt.Names, ev.Name) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					debounce()
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				// Overflow means we may have missed events; report a change and keep going.
				if errors.Is(err, fsnotify.ErrEventOverflow) {
					log.Warn("watch overflow; forcing reload", logx.String("dir", opt.Dir))
					debounce()
					continue
				}
				log.Warn("watch error", logx.Err(err), logx.String("dir", opt.Dir))
				if errors.Is(err, fsnotify.ErrClosed) {
					broken = true
				}
			}
		}

		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		wait := nextWait()
		log.Warn("watcher stopped; restarting", logx.String("dir", opt.Dir), logx.Duration("backoff", wait))
		if !sleep(wait) {
			return nil
		}
	}
}

func matches(names []string, path string) bool {
	if len(names) == 0 {
		return true
	}
	base := filepath.Base(path)
	for _, n := range names {
		if strings.EqualFold(base, n) {
			return true
		}
	}
	return false
}
