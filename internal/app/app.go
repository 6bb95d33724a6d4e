package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"taskpush/internal/config"
	"taskpush/internal/digest"
	"taskpush/internal/eventbus"
	"taskpush/internal/history"
	"taskpush/internal/model"
	"taskpush/internal/observability/pprof"
	"taskpush/internal/provider"
	"taskpush/internal/reminder"
	"taskpush/internal/router"
	"taskpush/internal/runtime/supervisor"
	"taskpush/internal/scheduler"
	"taskpush/internal/storage"
	"taskpush/internal/taskapi"
	"taskpush/internal/template"
	"taskpush/internal/webhook"
	"taskpush/pkg/logx"
)

const (
	jobReminderScan    = "reminder.scan"
	jobReminderCleanup = "reminder.cleanup"
	jobDigestCheck     = "digest.check"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store     storage.ConfigStore
	tasks     *taskapi.Client
	dispatch  *provider.Dispatcher
	router    *router.Router
	reminders *reminder.Engine
	digests   *digest.Service
	sched     *scheduler.Service
	http      *webhook.Server

	reminderInit atomic.Bool // a reminder.init goroutine is in flight
	startedAt    time.Time
}

// New loads the config file and wires every component. Nothing runs until
// Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return checkWiring(cfg) })
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgm: cfgm, logs: logSvc, log: log.With(logx.String("comp", "app")), bus: eventbus.New()}
	if err := a.wire(ctx, cfg, log); err != nil {
		_ = a.closeStore()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, cfg *config.Config, log logx.Logger) error {
	sc, err := mapStorage(cfg)
	if err != nil {
		return err
	}
	store, err := storage.Open(ctx, sc, log)
	if err != nil {
		return err
	}
	a.store = store

	tc, err := mapTaskAPI(cfg)
	if err != nil {
		return err
	}
	if a.tasks, err = taskapi.New(tc, log); err != nil {
		return err
	}

	policy, err := mapPolicy(cfg)
	if err != nil {
		return err
	}
	builtin, err := mapBuiltin(cfg)
	if err != nil {
		return err
	}
	a.dispatch = provider.NewDispatcher(log, provider.WithBus(a.bus), provider.WithPolicy(policy))
	for _, p := range provider.Builtin(builtin) {
		a.dispatch.Register(p)
	}

	loc, err := config.Location(cfg.Digest.Timezone)
	if err != nil {
		return err
	}
	renderer := template.New(log, template.WithLocation(loc))
	pushHistory := history.New[model.PushRecord](historySize(cfg.History.PushSize))

	a.router = router.New(router.Deps{
		Configs:  a.store,
		Enricher: a.tasks,
		Sender:   a.dispatch,
		Renderer: renderer,
		History:  pushHistory,
		Links:    a.tasks,
	}, log)

	rs, err := mapReminder(cfg)
	if err != nil {
		return err
	}
	a.reminders = reminder.New(rs.Engine, reminder.Deps{
		Configs:     a.store,
		Tasks:       a.tasks,
		Sender:      a.dispatch,
		Renderer:    renderer,
		History:     history.New[model.ReminderRecord](historySize(cfg.History.ReminderSize)),
		PushHistory: pushHistory,
		Links:       a.tasks,
		Bus:         a.bus,
	}, log)
	a.reminders.SetActive(cfg.Reminder.IsEnabled())

	a.digests = digest.New(digest.Deps{
		Configs:  a.store,
		Tasks:    a.tasks,
		Sender:   a.dispatch,
		Renderer: renderer,
		History:  history.New[model.DigestRecord](historySize(cfg.History.DigestSize)),
		Bus:      a.bus,
		Location: loc,
	}, log)

	a.sched = scheduler.New(scheduler.Config{
		Timezone:   cfg.Digest.Timezone,
		JobTimeout: 5 * time.Minute,
		Spread:     true,
	}, log)
	if cfg.Reminder.IsEnabled() {
		if err := a.scheduleReminders(rs); err != nil {
			return err
		}
	}
	if cfg.Digest.IsEnabled() {
		err := a.sched.AddCron(jobDigestCheck, digestSchedule(cfg), func(ctx context.Context) error {
			a.digests.Check(ctx)
			return nil
		})
		if err != nil {
			return err
		}
	}

	_, opts, err := mapServer(cfg)
	if err != nil {
		return err
	}
	// The engine ignores lifecycle events while reminders are disabled, so it
	// can stay attached across reloads.
	a.http = webhook.New(webhook.Deps{
		Router:    a.router,
		Reminders: a.reminders,
		Digests:   a.digests,
		Configs:   a.store,
		Tester:    a.dispatch,
		Status:    a.status,
	}, opts, log)
	return nil
}

func (a *App) scheduleReminders(rs reminderSettings) error {
	if err := a.sched.AddInterval(jobReminderScan, rs.ScanInterval, func(ctx context.Context) error {
		a.reminders.Scan(ctx)
		return nil
	}); err != nil {
		return err
	}
	return a.sched.AddInterval(jobReminderCleanup, rs.CleanupInterval, func(context.Context) error {
		a.reminders.Cleanup()
		return nil
	})
}

// initReminders populates the reminder index in the background. The task
// service may come up after us, so failures are retried with backoff.
func (a *App) initReminders() {
	if a.sup == nil || !a.reminderInit.CompareAndSwap(false, true) {
		return
	}
	a.sup.GoRestart("reminder.init", func(c context.Context) error {
		_, err := a.reminders.Initialize(c)
		if err == nil {
			a.reminderInit.Store(false)
		}
		return err
	}, supervisor.WithRestartBackoff(5*time.Second, 5*time.Minute))
}

// Handler exposes the HTTP surface, mainly for tests.
func (a *App) Handler() *webhook.Server { return a.http }

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

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	srv, _, err := mapServer(cfg)
	if err != nil {
		return err
	}
	srv.Handler = a.http

	a.startedAt = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	a.sup.Go("eventbus.log", func(c context.Context) error {
		return eventbus.LogEvents(c, a.bus, a.log.With(logx.String("comp", "events")))
	})

	if cfg.Reminder.IsEnabled() {
		a.initReminders()
	}

	a.sched.Start(run)

	a.sup.Go("http", func(c context.Context) error {
		return webhook.ListenAndServe(c, srv, a.log)
	})

	if pc, err := mapPprof(cfg); err == nil && pc.Enabled() {
		a.sup.Go("pprof", func(c context.Context) error {
			return pprof.Serve(c, pc, a.log.With(logx.String("comp", "pprof")))
		})
	}

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
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("addr", srv.Addr),
		logx.Strings("providers", a.dispatch.Types()),
		logx.Bool("reminders", cfg.Reminder.IsEnabled()),
		logx.Bool("digests", cfg.Digest.IsEnabled()),
	)
	return nil
}

// applyConfig pushes the live-reloadable sections into running components.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(mapLogging(newCfg))

	if policy, err := mapPolicy(newCfg); err != nil {
		a.log.Warn("invalid dispatch config; keeping previous", logx.Err(err))
	} else {
		a.dispatch.Apply(policy)
	}

	if rs, err := mapReminder(newCfg); err != nil {
		a.log.Warn("invalid reminder config; keeping previous", logx.Err(err))
	} else {
		a.reminders.Apply(rs.Engine)
		switch {
		case newCfg.Reminder.IsEnabled():
			if err := a.scheduleReminders(rs); err != nil {
				a.log.Warn("reschedule reminders failed", logx.Err(err))
			}
			if !oldCfg.Reminder.IsEnabled() {
				a.reminders.SetActive(true)
				a.initReminders()
				a.log.Info("reminders enabled via config")
			}
		case oldCfg.Reminder.IsEnabled():
			a.sched.Remove(jobReminderScan)
			a.sched.Remove(jobReminderCleanup)
			a.reminders.SetActive(false)
			a.reminders.Close()
			a.log.Info("reminders disabled via config")
		}
	}

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("sections", restart))
	}
	a.log.Info("config reloaded", fields...)
}

type status struct {
	Uptime      string             `json:"uptime"`
	Providers   []string           `json:"providers"`
	Pending     int                `json:"pending_reminders"`
	SentKeys    int                `json:"sent_reminder_keys"`
	Scheduler   scheduler.Snapshot `json:"scheduler"`
	RecentRuns  []scheduler.Run    `json:"recent_runs"`
	Goroutines  []supervisor.Stats `json:"goroutines"`
	PushTotal   int64              `json:"push_total"`
	DigestTotal int64              `json:"digest_total"`
}

func (a *App) status() any {
	st := status{
		Uptime:      time.Since(a.startedAt).Truncate(time.Second).String(),
		Providers:   a.dispatch.Types(),
		Pending:     len(a.reminders.Pending()),
		SentKeys:    a.reminders.SentKeyCount(),
		Scheduler:   a.sched.Snapshot(),
		RecentRuns:  a.sched.Runs().Recent(20),
		PushTotal:   a.router.History().TotalCount(),
		DigestTotal: a.digests.History().TotalCount(),
	}
	if a.sup != nil {
		st.Goroutines = a.sup.Snapshot()
	}
	return st
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		err := a.closeStore()
		_ = a.logs.Close()
		return err
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

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
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Scheduler first so no new scans or digests start during shutdown.
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("supervisor", 12*time.Second, func(c context.Context) error { return a.sup.Stop(c) })
	step("reminders", time.Second, func(context.Context) error { a.reminders.Close(); return nil })
	step("storage", 2*time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}
