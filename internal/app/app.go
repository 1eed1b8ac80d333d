// Package app wires the daemon: config, logging, store, notifier, bell and the
// alarm scheduler, plus the triggers that refresh the schedule.
package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"taskbell/internal/alarm"
	"taskbell/internal/bell"
	"taskbell/internal/config"
	"taskbell/internal/eventbus"
	"taskbell/internal/fswatch"
	"taskbell/internal/notifier"
	"taskbell/internal/runtime/supervisor"
	"taskbell/internal/storage"
	"taskbell/internal/task"
	"taskbell/internal/tasks"
	"taskbell/pkg/clock"
	logx "taskbell/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

type Option func(*options)

type options struct {
	clk clock.Clock
	out io.Writer
}

// WithClock replaces the wall clock used for reconciliation and alarms.
func WithClock(clk clock.Clock) Option { return func(o *options) { o.clk = clk } }

// WithOutput redirects console notifications and the bell (default stdout).
func WithOutput(w io.Writer) Option { return func(o *options) { o.out = w } }

var newLogService = logx.NewService

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor
	clk  clock.Clock
	out  io.Writer

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	sdrv  string

	notif  *notifier.Service
	bell   *bell.Bell
	sched  *alarm.Scheduler
	tasks  *tasks.Service
	resync *resyncTrigger

	// resyncMu keeps list+reconcile atomic so an older list never wins.
	resyncMu sync.Mutex
}

// New loads the config at cfgPath (defaults when the file is missing) and
// builds every component. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	o := options{clk: clock.Real(), out: logx.Stdout()}
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, found, err := cfgm.LoadOrDefault()
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	logSvc, log := newLogService(mapLoggingConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))
	if !found {
		appLog.Info("config file not found; using defaults", logx.String("path", cfgPath))
	}
	if p := logSvc.FilePath(); p != "" {
		appLog.Debug("file logging enabled", logx.String("path", p))
	}

	var store storage.Store
	fail := func(err error) (*App, error) {
		if store != nil {
			_ = store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return fail(err)
	}
	store, err = storage.Open(sc, log.With(logx.String("comp", "store")))
	if err != nil {
		return fail(err)
	}
	appLog.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", store.Path()))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return fail(err)
	}
	sinks, err := mapSinks(cfg, o.out)
	if err != nil {
		return fail(err)
	}
	notif := notifier.New(ncfg, sinks, log.With(logx.String("comp", "notifier")), bus)

	bl := bell.New(mapBellConfig(cfg), o.out, log.With(logx.String("comp", "bell")), bus)

	tick, err := mapTickInterval(cfg)
	if err != nil {
		return fail(err)
	}
	sched := alarm.New(o.clk, notif,
		alarm.WithLogger(log.With(logx.String("comp", "scheduler"))),
		alarm.WithBus(bus),
		alarm.WithTickInterval(tick),
		alarm.WithOnTick(bl.Tick),
	)

	a := &App{
		cfgm:  cfgm,
		clk:   o.clk,
		out:   o.out,
		log:   appLog,
		logs:  logSvc,
		bus:   bus,
		store: store,
		sdrv:  sc.Driver,
		notif: notif,
		bell:  bl,
		sched: sched,
	}
	a.tasks = tasks.New(store,
		tasks.WithLogger(log.With(logx.String("comp", "tasks"))),
		tasks.WithStopper(sched),
		tasks.WithRefresh(func(_ context.Context, all []task.Task) { a.apply(all) }),
	)
	a.resync = newResyncTrigger(log.With(logx.String("comp", "resync")), func() {
		if err := a.Resync(context.Background()); err != nil {
			a.log.Warn("scheduled resync failed", logx.Err(err))
		}
	})
	return a, nil
}

func (a *App) Tasks() *tasks.Service { return a.tasks }

func (a *App) Scheduler() *alarm.Scheduler { return a.sched }

func (a *App) Notifier() *notifier.Service { return a.notif }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Config() *config.Config { return a.cfgm.Get() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Resync loads the full task list and reconciles it at the current time.
func (a *App) Resync(ctx context.Context) error {
	a.resyncMu.Lock()
	defer a.resyncMu.Unlock()
	all, err := a.store.List(ctx, task.Filter{})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	a.sched.Reconcile(all, a.clk.Now())
	return nil
}

func (a *App) apply(all []task.Task) {
	a.resyncMu.Lock()
	defer a.resyncMu.Unlock()
	a.sched.Reconcile(all, a.clk.Now())
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}

	// Startup reconciliation: nothing is served before the schedule matches
	// the store.
	if err := a.Resync(a.sup.Context()); err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}
	snap := a.sched.Snapshot()
	a.log.Info("startup reconcile done",
		logx.Int("tasks", snap.LastResult.Tasks),
		logx.Int("alarms", len(snap.Pending)),
		logx.Int("alerts", len(snap.Workers)),
	)

	cfg := a.cfgm.Get()
	loc, _ := cfg.Location()
	if err := a.resync.Apply(cfg.Alarm.Resync, loc); err != nil {
		return fmt.Errorf("alarm.resync: %w", err)
	}

	// Keep this debug-level to avoid noise from alert ticks.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if e.Type == eventbus.TypeAlertTick {
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	a.sup.Go("store.watch", func(c context.Context) error {
		path := a.store.Path()
		return fswatch.Watch(c, fswatch.Options{
			Dir:   filepath.Dir(path),
			Names: storeWatchNames(a.sdrv, path),
			Log:   a.log.With(logx.String("comp", "store.watch")),
			OnChange: func() {
				a.bus.Publish(eventbus.Event{Type: eventbus.TypeStoreChanged, Data: path})
				if err := a.Resync(c); err != nil {
					a.log.Warn("resync after store change failed", logx.Err(err))
				}
			},
		})
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if strings.TrimSpace(oldCfg.Alarm.TickInterval) != strings.TrimSpace(newCfg.Alarm.TickInterval) {
		a.log.Warn("alarm.tick_interval changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLoggingConfig(newCfg))
	a.bell.Apply(mapBellConfig(newCfg))

	loc, err := newCfg.Location()
	if err != nil {
		a.log.Warn("invalid alarm.timezone; keeping previous", logx.Err(err))
	} else if err := a.resync.Apply(newCfg.Alarm.Resync, loc); err != nil {
		a.log.Warn("invalid alarm.resync; keeping previous", logx.Err(err))
	}

	if slices.Contains(sections, "notifier") {
		a.applyNotifier(ctx, newCfg)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigApplied, Data: sections})
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyNotifier(ctx context.Context, cfg *config.Config) {
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	sinks, err := mapSinks(cfg, a.out)
	if err != nil {
		a.log.Warn("invalid notifier sinks; keeping previous", logx.Err(err))
		return
	}
	prev := a.notif.Enabled()
	a.notif.Apply(ncfg)
	a.notif.SetSinks(sinks)
	switch {
	case prev && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !prev && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("resync", time.Second, func(c context.Context) error { a.resync.Stop(c); return nil })
	// Scheduler before notifier: no alarm may enqueue into a stopped pipeline.
	step("scheduler", 2*time.Second, func(c context.Context) error { return a.sched.Close(c) })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
