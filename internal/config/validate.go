package config

import (
	"errors"
	"fmt"
	"strings"
)

var validLevels = map[string]bool{"": true, "trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}

// Validate checks the parts of cfg that can be checked without building the
// services. Cadence syntax is checked by the scheduler validator installed
// by the app.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	lg := cfg.Logging
	if !validLevels[strings.ToLower(strings.TrimSpace(lg.Level))] {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lg.Level))
	}
	if lg.Alert.Enabled {
		if strings.TrimSpace(lg.Alert.To) == "" {
			errs = append(errs, errors.New("logging.alert.to: required when alerts are enabled"))
		}
		if !validLevels[strings.ToLower(strings.TrimSpace(lg.Alert.MinLevel))] {
			errs = append(errs, fmt.Errorf("logging.alert.min_level: unknown level %q", lg.Alert.MinLevel))
		}
		if lg.Alert.RatePerMinute < 0 {
			errs = append(errs, errors.New("logging.alert.rate_per_minute: must be >= 0"))
		}
	}

	if cfg.Scheduler.HistorySize < 0 {
		errs = append(errs, errors.New("scheduler.history_size: must be >= 0"))
	}
	if _, err := ParseDurationField("scheduler.timeout", cfg.Scheduler.Timeout); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path: required for sqlite"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unsupported driver %q", cfg.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	if cfg.HTTP.Enabled && strings.TrimSpace(cfg.HTTP.JWTSecret) == "" {
		errs = append(errs, errors.New("http.jwt_secret: required when http is enabled"))
	}
	for path, raw := range map[string]string{
		"http.read_header_timeout": cfg.HTTP.ReadHeaderTimeout,
		"http.shutdown_timeout":    cfg.HTTP.ShutdownTimeout,
		"realtime.heartbeat":       cfg.Realtime.Heartbeat,
		"notifier.persist_timeout": cfg.Notifier.PersistTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Realtime.Buffer < 0 {
		errs = append(errs, errors.New("realtime.buffer: must be >= 0"))
	}

	if pp := cfg.Pprof; pp.Enabled && pp.MutexProfileFraction < 0 {
		errs = append(errs, errors.New("pprof.mutex_profile_fraction: must be >= 0"))
	}
	if pp := cfg.Pprof; pp.Enabled && pp.BlockProfileRate < 0 {
		errs = append(errs, errors.New("pprof.block_profile_rate: must be >= 0"))
	}

	return errors.Join(errs...)
}
