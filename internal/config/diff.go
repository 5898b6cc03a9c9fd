package config

import (
	"strings"

	logx "trackerd/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured fields for logging. Secrets (the JWT secret) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	osch, ns := oldCfg.Scheduler, newCfg.Scheduler
	if osch.Enabled != ns.Enabled ||
		strings.TrimSpace(osch.Timezone) != strings.TrimSpace(ns.Timezone) ||
		osch.CadenceOrDefault() != ns.CadenceOrDefault() ||
		osch.RunOnStartOrDefault() != ns.RunOnStartOrDefault() ||
		strings.TrimSpace(osch.Timeout) != strings.TrimSpace(ns.Timeout) ||
		osch.HistorySize != ns.HistorySize {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", ns.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(ns.Timezone)),
			logx.String("scheduler.cadence", ns.CadenceOrDefault()),
			logx.String("scheduler.timeout", strings.TrimSpace(ns.Timeout)),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
		)
	}

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	if oh.Enabled != nh.Enabled ||
		strings.TrimSpace(oh.Addr) != strings.TrimSpace(nh.Addr) ||
		oh.JWTSecret != nh.JWTSecret ||
		oh.ReadHeaderTimeout != nh.ReadHeaderTimeout ||
		oh.ShutdownTimeout != nh.ShutdownTimeout {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", nh.Enabled),
			logx.String("http.addr", strings.TrimSpace(nh.Addr)),
			logx.Bool("http.jwt_secret_changed", oh.JWTSecret != nh.JWTSecret),
		)
	}

	if oldCfg.Realtime != newCfg.Realtime {
		changed = append(changed, "realtime")
		attrs = append(attrs,
			logx.Int("realtime.buffer", newCfg.Realtime.Buffer),
			logx.String("realtime.heartbeat", newCfg.Realtime.Heartbeat),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs, logx.String("notifier.persist_timeout", newCfg.Notifier.PersistTimeout))
	}

	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
		)
	}

	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a
// process restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, c := range changed {
		switch c {
		case "storage", "http", "realtime", "notifier", "pprof":
			out = append(out, c)
		}
	}
	return out
}
