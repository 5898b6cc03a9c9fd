package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	logx "trackerd/pkg/logx"
)

// Add registers job under name, replacing any job with the same name. A run
// of the replaced job that is still in progress keeps blocking triggers of
// the new one until it returns.
//
// Supported schedule formats are those of ParseSchedule. A job added with
// runOnStart fires once on every Start in addition to its cadence.
func (s *Service) Add(name, schedule string, timeout time.Duration, runOnStart bool, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec := ps.CronSpec()
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A replacement inherits the run state so an in-flight run of the old
	// definition still blocks new triggers.
	state := &runState{}
	for _, old := range s.defs {
		if old.name == name {
			state = old.state
		}
	}
	_ = s.removeLocked(name)
	d := &jobDef{
		name:       name,
		spec:       spec,
		raw:        schedule,
		timeout:    s.resolveTimeout(timeout),
		runOnStart: runOnStart,
		job:        job,
		state:      state,
	}
	s.defs = append(s.defs, d)
	if s.c != nil {
		s.addCronLocked(d)
	}
	s.log.Debug("job registered",
		logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", d.timeout), logx.Bool("run_on_start", runOnStart))
	return nil
}

// Remove unregisters name. It reports whether a job was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeLocked(strings.TrimSpace(name))
	if removed {
		s.log.Debug("job removed", logx.String("name", name))
	}
	return removed
}

// RunNow triggers name outside its cadence. It reports false when the
// previous run is still in progress and this trigger was skipped.
func (s *Service) RunNow(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return false, ErrNotRunning
	}
	for _, d := range s.defs {
		if d.name == name {
			return s.triggerLocked(d, "manual"), nil
		}
	}
	return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

// removeLocked removes name from defs and from the running cron loop.
// Call with s.mu held.
func (s *Service) removeLocked(name string) bool {
	if name == "" {
		return false
	}
	n := 0
	removed := false
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			d.entryID = 0
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

// addCronLocked registers d with the current cron loop. Call with s.mu held.
func (s *Service) addCronLocked(d *jobDef) {
	eid, err := s.c.AddFunc(d.spec, func() { s.trigger(d, "cron") })
	if err != nil {
		// Add validated the spec already; this only happens on a parser change.
		s.log.Error("job register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return
	}
	d.entryID = eid
	if s.log.Enabled(logx.LevelDebug) {
		if e := s.c.Entry(eid); !e.Next.IsZero() {
			s.log.Debug("job scheduled", logx.String("name", d.name), logx.Time("next", e.Next))
		}
	}
}

func (s *Service) trigger(d *jobDef, how string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	s.triggerLocked(d, how)
}

// triggerLocked starts one run of d unless it is already running.
// Call with s.mu held.
func (s *Service) triggerLocked(d *jobDef, how string) bool {
	if s.runCtx == nil {
		return false
	}
	if !d.state.tryAcquire() {
		s.log.Debug("run skipped (previous run still running)", logx.String("job", d.name), logx.String("trigger", how))
		s.record(HistoryItem{Name: d.name, Trigger: how, Started: time.Now(), Skipped: true}, s.cfg.HistorySize)
		return false
	}
	ctx := s.runCtx
	historySize := s.cfg.HistorySize
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer d.state.release()
		s.execOne(ctx, d, how, historySize)
	}()
	return true
}

func (s *Service) execOne(ctx context.Context, d *jobDef, how string, historySize int) {
	start := time.Now()
	runCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	err := s.safeRun(runCtx, d)
	dur := time.Since(start)
	item := HistoryItem{Name: d.name, Trigger: how, Started: start, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		s.log.Error("job failed", logx.String("job", d.name), logx.String("trigger", how), logx.Duration("dur", dur), logx.Err(err))
	} else if dur >= 750*time.Millisecond {
		s.log.Info("job completed", logx.String("job", d.name), logx.String("trigger", how), logx.Duration("dur", dur))
	} else {
		s.log.Debug("job completed", logx.String("job", d.name), logx.String("trigger", how), logx.Duration("dur", dur))
	}
	s.record(item, historySize)
}

func (s *Service) safeRun(ctx context.Context, d *jobDef) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in job", logx.String("job", d.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.job(ctx)
}

func (s *Service) record(item HistoryItem, size int) {
	if size <= 0 {
		size = 200
	}
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
}
