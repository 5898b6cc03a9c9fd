package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"trackerd/internal/model"
	"trackerd/internal/storage"
	"trackerd/internal/storage/storagetest"
	logx "trackerd/pkg/logx"
)

var sweepNow = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

type seed struct {
	name   string
	active bool
	end    time.Duration // relative to sweepNow
}

func seedStore(t *testing.T, st *storage.SQLiteStore, seeds []seed) map[string]string {
	t.Helper()
	ctx := context.Background()
	ids := make(map[string]string, len(seeds))
	for _, s := range seeds {
		id, ok := ids[s.name]
		if !ok {
			p, err := st.CreateProject(ctx, model.Project{Name: s.name, IsActive: s.active})
			if err != nil {
				t.Fatalf("CreateProject: %v", err)
			}
			id = p.ID
			ids[s.name] = id
		}
		end := sweepNow.Add(s.end)
		if _, err := st.CreateMaintenanceWindow(ctx, model.MaintenanceWindow{
			ProjectID: id, StartDate: end.Add(-24 * time.Hour), EndDate: end,
		}); err != nil {
			t.Fatalf("CreateMaintenanceWindow: %v", err)
		}
	}
	return ids
}

func activeByName(t *testing.T, st *storage.SQLiteStore, ids map[string]string) map[string]bool {
	t.Helper()
	out := make(map[string]bool, len(ids))
	for name, id := range ids {
		p, err := st.GetProject(context.Background(), id)
		if err != nil {
			t.Fatalf("GetProject: %v", err)
		}
		out[name] = p.IsActive
	}
	return out
}

func TestSweepDeactivatesExpiredOwners(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		seeds      []seed
		wantActive map[string]bool
		want       SweepResult
	}{
		{
			name:       "expired active owner",
			seeds:      []seed{{"alpha", true, -time.Hour}},
			wantActive: map[string]bool{"alpha": false},
			want:       SweepResult{Scanned: 1, Deactivated: 1},
		},
		{
			name:       "already inactive owner is skipped",
			seeds:      []seed{{"alpha", false, -time.Hour}},
			wantActive: map[string]bool{"alpha": false},
			want:       SweepResult{Scanned: 1, Skipped: 1},
		},
		{
			name:       "window ending exactly now is not expired",
			seeds:      []seed{{"alpha", true, 0}},
			wantActive: map[string]bool{"alpha": true},
			want:       SweepResult{},
		},
		{
			name:       "future window untouched",
			seeds:      []seed{{"alpha", true, time.Hour}, {"beta", true, -time.Minute}},
			wantActive: map[string]bool{"alpha": true, "beta": false},
			want:       SweepResult{Scanned: 1, Deactivated: 1},
		},
		{
			name:       "two expired windows for one project",
			seeds:      []seed{{"alpha", true, -2 * time.Hour}, {"alpha", true, -time.Hour}},
			wantActive: map[string]bool{"alpha": false},
			want:       SweepResult{Scanned: 2, Deactivated: 1, Skipped: 1},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := storagetest.New(t)
			ids := seedStore(t, st, tt.seeds)

			got, err := NewSweeper(st, logx.Nop()).Run(context.Background(), sweepNow)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got != tt.want {
				t.Fatalf("result = %+v, want %+v", got, tt.want)
			}
			active := activeByName(t, st, ids)
			for name, want := range tt.wantActive {
				if active[name] != want {
					t.Fatalf("%s active = %v, want %v", name, active[name], want)
				}
			}
		})
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	t.Parallel()
	st := storagetest.New(t)
	ids := seedStore(t, st, []seed{{"alpha", true, -time.Hour}, {"beta", true, -time.Hour}, {"gamma", true, time.Hour}})
	sw := NewSweeper(st, logx.Nop())

	first, err := sw.Run(context.Background(), sweepNow)
	if err != nil || first.Deactivated != 2 {
		t.Fatalf("first run = (%+v, %v)", first, err)
	}
	before := activeByName(t, st, ids)

	second, err := sw.Run(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Deactivated != 0 || second.Failed != 0 || second.Skipped != 2 {
		t.Fatalf("second run = %+v, want no changes", second)
	}
	after := activeByName(t, st, ids)
	for name := range before {
		if before[name] != after[name] {
			t.Fatalf("%s changed on second run", name)
		}
	}
}

func TestSweepWithNothingExpired(t *testing.T) {
	t.Parallel()
	fs := &fakeStore{}
	got, err := NewSweeper(fs, logx.Nop()).Run(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != (SweepResult{}) || len(fs.deactivated) != 0 {
		t.Fatalf("result = %+v, mutations = %v", got, fs.deactivated)
	}
}

// An interrupted sweep is completed by the next run without any saved
// progress.
func TestSweepResumesAfterInterruption(t *testing.T) {
	t.Parallel()
	st := storagetest.New(t)
	ids := seedStore(t, st, []seed{{"alpha", true, -3 * time.Hour}, {"beta", true, -2 * time.Hour}, {"gamma", true, -time.Hour}})

	// Simulate a crash after the first item by deactivating it directly.
	if _, err := st.DeactivateProject(context.Background(), ids["alpha"]); err != nil {
		t.Fatalf("DeactivateProject: %v", err)
	}

	got, err := NewSweeper(st, logx.Nop()).Run(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Deactivated != 2 || got.Skipped != 1 {
		t.Fatalf("result = %+v", got)
	}
	for name, active := range activeByName(t, st, ids) {
		if active {
			t.Fatalf("%s still active", name)
		}
	}
}

type fakeStore struct {
	windows     []model.ExpiredWindow
	loadErr     error
	failIDs     map[string]bool
	deactivated []string
	// afterLoad runs once the windows have been handed out.
	afterLoad func()
}

func (f *fakeStore) ExpiredWindows(context.Context, time.Time) ([]model.ExpiredWindow, error) {
	if f.afterLoad != nil {
		f.afterLoad()
	}
	return f.windows, f.loadErr
}

func (f *fakeStore) DeactivateProject(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if f.failIDs[id] {
		return false, errors.New("disk I/O error")
	}
	f.deactivated = append(f.deactivated, id)
	return true, nil
}

func expired(ids ...string) []model.ExpiredWindow {
	out := make([]model.ExpiredWindow, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.ExpiredWindow{
			Window:  model.MaintenanceWindow{ID: "w-" + id, ProjectID: id, EndDate: sweepNow.Add(-time.Hour)},
			Project: model.Project{ID: id, Name: id, IsActive: true},
		})
	}
	return out
}

func TestSweepContinuesPastItemFailure(t *testing.T) {
	t.Parallel()
	fs := &fakeStore{windows: expired("a", "b", "c"), failIDs: map[string]bool{"b": true}}

	got, err := NewSweeper(fs, logx.Nop()).Run(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("Run returned %v; item failures must not fail the sweep", err)
	}
	if got != (SweepResult{Scanned: 3, Deactivated: 2, Failed: 1}) {
		t.Fatalf("result = %+v", got)
	}
	if len(fs.deactivated) != 2 || fs.deactivated[0] != "a" || fs.deactivated[1] != "c" {
		t.Fatalf("deactivated = %v", fs.deactivated)
	}
}

func TestSweepLoadFailure(t *testing.T) {
	t.Parallel()
	fs := &fakeStore{loadErr: errors.New("no such table")}
	if _, err := NewSweeper(fs, logx.Nop()).Run(context.Background(), sweepNow); err == nil {
		t.Fatal("expected load error")
	}
}

func TestSweepFinishesAfterCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fs := &fakeStore{windows: expired("a", "b", "c"), afterLoad: cancel}

	got, err := NewSweeper(fs, logx.Nop()).Run(ctx, sweepNow)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != (SweepResult{Scanned: 3, Deactivated: 3}) || len(fs.deactivated) != 3 {
		t.Fatalf("result = %+v, deactivated = %v", got, fs.deactivated)
	}
}

func TestJobSwallowsLoadFailure(t *testing.T) {
	t.Parallel()
	fs := &fakeStore{loadErr: errors.New("no such table")}
	if err := NewSweeper(fs, logx.Nop()).Job(nil)(context.Background()); err != nil {
		t.Fatalf("job returned %v; sweep errors stay with the sweep", err)
	}
}

func TestJobUsesClock(t *testing.T) {
	t.Parallel()
	st := storagetest.New(t)
	ids := seedStore(t, st, []seed{{"alpha", true, -time.Hour}})
	job := NewSweeper(st, logx.Nop()).Job(func() time.Time { return sweepNow.Add(-2 * time.Hour) })

	if err := job(context.Background()); err != nil {
		t.Fatalf("job: %v", err)
	}
	if !activeByName(t, st, ids)["alpha"] {
		t.Fatal("window had not ended at the job's clock time")
	}
}
