package config

// Config is the file-sourced configuration. Mail settings are not part of
// it; they come from the environment (see LoadMailEnv).
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	HTTP      HTTPConfig      `json:"http"`
	Realtime  RealtimeConfig  `json:"realtime,omitempty"`
	Notifier  NotifierConfig  `json:"notifier,omitempty"`
	Pprof     PprofConfig     `json:"pprof,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert mails log records at or above MinLevel to To.
type LoggingAlert struct {
	Enabled       bool   `json:"enabled"`
	To            string `json:"to,omitempty"`
	MinLevel      string `json:"min_level,omitempty"`       // default "error"
	RatePerMinute int    `json:"rate_per_minute,omitempty"` // default 6
}

// SchedulerConfig controls the maintenance scheduler.
//
// All durations are Go duration strings (e.g. "30s", "10m").
//
// Defaults (when fields are omitted/zero):
//   - cadence: "0 0 * * *" (daily at midnight, scheduler timezone)
//   - run_on_start: true
//   - timeout: "10m"
//   - history_size: 200
type SchedulerConfig struct {
	Enabled    bool   `json:"enabled"`
	Timezone   string `json:"timezone,omitempty"`
	Cadence    string `json:"cadence,omitempty"`
	RunOnStart *bool  `json:"run_on_start,omitempty"`
	Timeout    string `json:"timeout,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

// StorageConfig controls the sqlite store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/trackerd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// HTTPConfig controls the API server. The JWT secret is never logged.
type HTTPConfig struct {
	Enabled           bool   `json:"enabled"`
	Addr              string `json:"addr,omitempty"` // default ":8080"
	JWTSecret         string `json:"jwt_secret,omitempty"`
	ReadHeaderTimeout string `json:"read_header_timeout,omitempty"`
	ShutdownTimeout   string `json:"shutdown_timeout,omitempty"`
}

type RealtimeConfig struct {
	// Buffer is the per-connection event queue length. Default 16.
	Buffer int `json:"buffer,omitempty"`
	// Heartbeat is the SSE keep-alive interval. Default "25s".
	Heartbeat string `json:"heartbeat,omitempty"`
}

type NotifierConfig struct {
	// PersistTimeout bounds each store call. Default "5s".
	PersistTimeout string `json:"persist_timeout,omitempty"`
}

// PprofConfig enables the debug profiling listener. A non-loopback Addr
// needs Token unless AllowInsecure is set.
type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Addr                 string `json:"addr,omitempty"` // default "127.0.0.1:6060"
	Token                string `json:"token,omitempty"`
	AllowInsecure        bool   `json:"allow_insecure,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
}

const (
	DefaultCadence     = "0 0 * * *"
	DefaultHTTPAddr    = ":8080"
	DefaultHistorySize = 200
)

// RunOnStartOrDefault resolves the optional run_on_start flag.
func (s SchedulerConfig) RunOnStartOrDefault() bool {
	if s.RunOnStart == nil {
		return true
	}
	return *s.RunOnStart
}

// CadenceOrDefault returns the configured cadence or DefaultCadence.
func (s SchedulerConfig) CadenceOrDefault() string {
	if s.Cadence == "" {
		return DefaultCadence
	}
	return s.Cadence
}
