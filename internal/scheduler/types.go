package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "trackerd/pkg/logx"
)

var (
	ErrUnknownJob = errors.New("scheduler: unknown job")
	ErrNotRunning = errors.New("scheduler: not running")
)

// Config controls the scheduler service.
type Config struct {
	Enabled        bool
	Timezone       string // IANA TZ, e.g. "Asia/Jakarta"; empty means Local
	DefaultTimeout time.Duration
	HistorySize    int
}

// Job is one unit of scheduled work. The context is cancelled when the run
// times out or the scheduler stops.
type Job func(ctx context.Context) error

// runState is shared by every trigger of one job and enforces single-flight.
type runState struct {
	mu      sync.Mutex
	running bool
}

func (r *runState) tryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *runState) release() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

func (r *runState) isRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

type jobDef struct {
	name       string
	spec       string // normalized cron spec handed to robfig/cron
	raw        string
	timeout    time.Duration
	runOnStart bool
	job        Job
	entryID    cron.EntryID
	state      *runState
}

// HistoryItem records one trigger. Skipped triggers never ran the job.
type HistoryItem struct {
	Name     string        `json:"name"`
	Trigger  string        `json:"trigger"` // "cron" | "start" | "manual"
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Skipped  bool          `json:"skipped,omitempty"`
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []*jobDef

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}

type JobInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Running bool          `json:"running"`
	Next    time.Time     `json:"next,omitempty"`
	Prev    time.Time     `json:"prev,omitempty"`
}

type Snapshot struct {
	Enabled  bool          `json:"enabled"`
	Running  bool          `json:"running"`
	Timezone string        `json:"timezone"`
	Jobs     []JobInfo     `json:"jobs"`
	History  []HistoryItem `json:"history"`
}
