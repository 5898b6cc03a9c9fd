package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trackerd/internal/config"
	"trackerd/internal/httpapi"
	"trackerd/internal/mailer"
	"trackerd/internal/maintenance"
	"trackerd/internal/notify"
	"trackerd/internal/observability/pprof"
	"trackerd/internal/presence"
	"trackerd/internal/realtime"
	"trackerd/internal/runtime/supervisor"
	"trackerd/internal/scheduler"
	"trackerd/internal/storage"
	logx "trackerd/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store    *storage.SQLiteStore
	mail     *mailer.Mailer
	presence *presence.Registry
	hub      *realtime.Hub
	notify   *notify.Service
	sweeper  *maintenance.Sweeper
	sched    *scheduler.Service
	http     *httpapi.Server
	pprof    *pprof.Server

	// job is the sweep registration currently in the scheduler.
	job sweepJob
}

// New loads the config file at cfgPath and wires every component. Nothing
// runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(context.Background(), cfg); err != nil {
		return nil, err
	}

	mailEnv, err := config.LoadMailEnv()
	if err != nil {
		return nil, err
	}

	// The logger comes first; the mailer logs through it and then becomes
	// its alert transport.
	logSvc, root := logx.New(mapLogConfig(cfg), mailEnv.AppName, nil)
	log := root.With(logx.String("comp", "app"))

	mail := mailer.New(mapMailerConfig(mailEnv), root.With(logx.String("comp", "mailer")))
	if mailEnv.Configured() {
		logSvc.SetAlertSender(mail)
	} else if cfg.Logging.Alert.Enabled {
		log.Warn("log alerts enabled but no mail transport configured (MAIL_SERVICE or MAIL_HOST)")
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	ncfg, err := mapNotifyConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	reg := presence.New()
	buffer := cfg.Realtime.Buffer
	if buffer == 0 {
		buffer = defaultRealtimeBuffer
	}
	hub := realtime.NewHub(buffer)
	notifySvc := notify.New(ncfg, store, reg, hub, root.With(logx.String("comp", "notify")))

	schedCfg, job, err := mapScheduler(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sweeper := maintenance.NewSweeper(store, root)
	sched := scheduler.New(schedCfg, root.With(logx.String("comp", "scheduler")))
	if err := sched.Add(maintenance.JobName, job.cadence, job.timeout, job.runOnStart, sweeper.Job(nil)); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("registering sweep: %w", err)
	}

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		store:    store,
		mail:     mail,
		presence: reg,
		hub:      hub,
		notify:   notifySvc,
		sweeper:  sweeper,
		sched:    sched,
		job:      job,
	}

	if cfg.HTTP.Enabled {
		hcfg, err := mapHTTPConfig(cfg)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		deps := httpapi.Deps{
			Notifications: notifySvc,
			Streams:       hub,
			Presence:      reg,
			Jobs:          sched,
			Health:        a.health,
		}
		if mailEnv.Configured() {
			deps.Mailer = mail
		}
		a.http = httpapi.New(hcfg, deps, root.With(logx.String("comp", "http")))
	}
	if pc := mapPprofConfig(cfg); pc.Enabled {
		a.pprof = pprof.New(pc, root.With(logx.String("comp", "pprof")))
	}
	return a, nil
}

// Notifications exposes the dispatch service to embedding code.
func (a *App) Notifications() *notify.Service { return a.notify }

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) health() map[string]any {
	open, dropped := a.hub.Stats()
	out := map[string]any{
		"scheduler": a.sched.Snapshot(),
		"realtime":  map[string]any{"open": open, "dropped": dropped},
	}
	if a.sup != nil {
		out["supervisor"] = a.sup.Snapshot()
	}
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Info("scheduler disabled; expiry sweep runs only on manual trigger")
	}

	if a.http != nil {
		a.sup.GoRestart("http.serve", a.http.Serve,
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
			supervisor.WithMaxRestarts(5),
		)
	}

	if a.pprof != nil {
		// A refused bind is not fatal for the daemon.
		a.sup.GoRestart("pprof.serve", func(c context.Context) error {
			if err := a.pprof.Serve(c); err != nil {
				a.log.Warn("pprof unavailable", logx.Err(err))
			}
			return nil
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.Bool("http", a.http != nil), logx.Bool("pprof", a.pprof != nil), logx.Bool("scheduler", a.sched.Enabled()))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the
	// rest. The caller's deadline is never extended.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped: deadline exceeded", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
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
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 5*time.Second, a.sched.Stop)
	step("supervisor", 5*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// reloadLoop applies published configs until ctx ends. Bursts are coalesced
// to the newest config.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(next))

	schedCfg, job, err := mapScheduler(next)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.applyScheduler(ctx, schedCfg, job)
	}

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyScheduler(ctx context.Context, cfg scheduler.Config, job sweepJob) {
	wasEnabled := a.sched.Enabled()
	a.sched.Apply(cfg)

	if job != a.job {
		if err := a.sched.Add(maintenance.JobName, job.cadence, job.timeout, job.runOnStart, a.sweeper.Job(nil)); err != nil {
			a.log.Warn("sweep re-registration failed; keeping previous", logx.Err(err))
		} else {
			a.job = job
			a.log.Info("sweep schedule updated", logx.String("cadence", job.cadence), logx.Duration("timeout", job.timeout))
		}
	}

	switch {
	case wasEnabled && !cfg.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		_ = a.sched.Stop(stopCtx)
		cancel()
	case !wasEnabled && cfg.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(a.sup.Context())
	}
}
