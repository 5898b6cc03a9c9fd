package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trackerd/internal/config"
	"trackerd/internal/httpapi"
	"trackerd/internal/mailer"
	"trackerd/internal/maintenance"
	"trackerd/internal/notify"
	"trackerd/internal/observability/pprof"
	"trackerd/internal/scheduler"
	"trackerd/internal/storage"
	logx "trackerd/pkg/logx"
)

const (
	defaultSweepTimeout   = 10 * time.Minute
	defaultBusyTimeout    = time.Second
	defaultRealtimeBuffer = 16
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lg := cfg.Logging
	return logx.Config{
		Level:   lg.Level,
		Console: lg.Console,
		File:    logx.FileConfig{Enabled: lg.File.Enabled, Path: lg.File.Path},
		Alert: logx.AlertConfig{
			Enabled:       lg.Alert.Enabled,
			To:            lg.Alert.To,
			MinLevel:      lg.Alert.MinLevel,
			RatePerMinute: lg.Alert.RatePerMinute,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, nil
}

// sweepJob is the scheduler registration derived from config.
type sweepJob struct {
	cadence    string
	timeout    time.Duration
	runOnStart bool
}

func mapScheduler(cfg *config.Config) (scheduler.Config, sweepJob, error) {
	sc := cfg.Scheduler
	timeout, err := config.ParseDurationOrDefault("scheduler.timeout", sc.Timeout, defaultSweepTimeout)
	if err != nil {
		return scheduler.Config{}, sweepJob{}, err
	}
	history := sc.HistorySize
	if history == 0 {
		history = config.DefaultHistorySize
	}
	return scheduler.Config{
			Enabled:        sc.Enabled,
			Timezone:       strings.TrimSpace(sc.Timezone),
			DefaultTimeout: timeout,
			HistorySize:    history,
		}, sweepJob{
			cadence:    sc.CadenceOrDefault(),
			timeout:    timeout,
			runOnStart: sc.RunOnStartOrDefault(),
		}, nil
}

func mapNotifyConfig(cfg *config.Config) (notify.Config, error) {
	d, err := config.ParseDurationField("notifier.persist_timeout", cfg.Notifier.PersistTimeout)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{PersistTimeout: d}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	h := cfg.HTTP
	readHeader, err := config.ParseDurationField("http.read_header_timeout", h.ReadHeaderTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	shutdown, err := config.ParseDurationField("http.shutdown_timeout", h.ShutdownTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	heartbeat, err := config.ParseDurationField("realtime.heartbeat", cfg.Realtime.Heartbeat)
	if err != nil {
		return httpapi.Config{}, err
	}
	addr := strings.TrimSpace(h.Addr)
	if addr == "" {
		addr = config.DefaultHTTPAddr
	}
	return httpapi.Config{
		Addr:              addr,
		JWTSecret:         h.JWTSecret,
		ReadHeaderTimeout: readHeader,
		ShutdownTimeout:   shutdown,
		Heartbeat:         heartbeat,
		SweepJob:          maintenance.JobName,
	}, nil
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	pp := cfg.Pprof
	return pprof.Config{
		Enabled:              pp.Enabled,
		Addr:                 strings.TrimSpace(pp.Addr),
		Token:                strings.TrimSpace(pp.Token),
		AllowInsecure:        pp.AllowInsecure,
		MutexProfileFraction: pp.MutexProfileFraction,
		BlockProfileRate:     pp.BlockProfileRate,
	}
}

func mapMailerConfig(env config.MailEnv) mailer.Config {
	return mailer.Config{
		Service:  env.Service,
		Host:     env.Host,
		Port:     env.Port,
		Secure:   env.Secure,
		User:     env.User,
		Password: env.Password,
		From:     env.From,
		AppName:  env.AppName,
		Timeout:  env.Timeout,
	}
}

// validateConfig rejects configs that decode and pass config.Validate but
// cannot be applied: a bad cadence or an unknown timezone.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if err := scheduler.ValidateSchedule(cfg.Scheduler.CadenceOrDefault()); err != nil {
		return fmt.Errorf("scheduler.cadence: %w", err)
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if _, _, err := mapScheduler(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	_, err := mapNotifyConfig(cfg)
	return err
}
