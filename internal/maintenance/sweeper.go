// Package maintenance deactivates projects whose maintenance window has ended.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"trackerd/internal/model"
	logx "trackerd/pkg/logx"
)

// Store is the persistence port used by the sweep.
type Store interface {
	ExpiredWindows(ctx context.Context, now time.Time) ([]model.ExpiredWindow, error)
	// DeactivateProject flips an active project to inactive and reports
	// whether it changed anything.
	DeactivateProject(ctx context.Context, id string) (bool, error)
}

// JobName is the scheduler name of the expiry sweep.
const JobName = "maintenance.sweep"

// SweepResult summarizes one run.
type SweepResult struct {
	Scanned     int
	Deactivated int
	Skipped     int
	Failed      int
}

type Sweeper struct {
	store Store
	log   logx.Logger
}

func NewSweeper(store Store, log logx.Logger) *Sweeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sweeper{store: store, log: log.With(logx.String("comp", "maintenance"))}
}

// Run evaluates every window that ended strictly before now. Active owners
// are deactivated; inactive owners are left alone. A failure on one item is
// logged and the sweep moves on, so only a failure to load the windows is
// returned.
//
// ctx bounds loading the windows. Once loaded, every item is processed even
// if ctx is canceled meanwhile. Nothing is checkpointed between runs: a
// sweep cut short by a crash is completed by the next one, because
// re-evaluating an already inactive owner changes nothing.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult

	expired, err := s.store.ExpiredWindows(ctx, now)
	if err != nil {
		s.log.Error("maintenance sweep: loading expired windows failed", logx.Err(err))
		return res, fmt.Errorf("maintenance: loading expired windows: %w", err)
	}
	res.Scanned = len(expired)

	itemCtx := context.WithoutCancel(ctx)
	for _, ew := range expired {
		if !ew.Project.IsActive {
			res.Skipped++
			continue
		}

		changed, err := s.store.DeactivateProject(itemCtx, ew.Project.ID)
		if err != nil {
			res.Failed++
			s.log.Error("maintenance sweep: deactivation failed",
				logx.String("project", ew.Project.ID),
				logx.String("window", ew.Window.ID),
				logx.Err(err),
			)
			continue
		}
		if !changed {
			// Another window of the same project got there first.
			res.Skipped++
			continue
		}
		res.Deactivated++
		s.log.Info("project deactivated: maintenance window ended",
			logx.String("project", ew.Project.ID),
			logx.String("name", ew.Project.Name),
			logx.String("window", ew.Window.ID),
			logx.Time("end_date", ew.Window.EndDate),
		)
	}

	s.log.Debug("maintenance sweep finished",
		logx.Int("scanned", res.Scanned),
		logx.Int("deactivated", res.Deactivated),
		logx.Int("skipped", res.Skipped),
		logx.Int("failed", res.Failed),
	)
	return res, nil
}

// Job adapts the sweep to a scheduler job. now supplies the sweep time;
// nil means time.Now. The job never fails: Run has already logged whatever
// went wrong, and the next run retries it.
func (s *Sweeper) Job(now func() time.Time) func(ctx context.Context) error {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		_, _ = s.Run(ctx, now())
		return nil
	}
}
