package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"trackerd/internal/model"
)

type projectRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	IsActive  int    `db:"is_active"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r projectRow) toModel() model.Project {
	return model.Project{
		ID:        r.ID,
		Name:      r.Name,
		IsActive:  r.IsActive != 0,
		CreatedAt: fromMillis(r.CreatedAt),
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
}

type expiredRow struct {
	WindowID         string `db:"w_id"`
	StartDate        int64  `db:"w_start"`
	EndDate          int64  `db:"w_end"`
	WindowCreatedAt  int64  `db:"w_created"`
	ProjectID        string `db:"p_id"`
	ProjectName      string `db:"p_name"`
	ProjectActive    int    `db:"p_active"`
	ProjectCreatedAt int64  `db:"p_created"`
	ProjectUpdatedAt int64  `db:"p_updated"`
}

// CreateProject inserts a new project. An empty ID is filled with a uuid.
func (s *SQLiteStore) CreateProject(ctx context.Context, p model.Project) (model.Project, error) {
	if strings.TrimSpace(p.Name) == "" {
		return model.Project{}, fmt.Errorf("project name must not be empty")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, boolToInt(p.IsActive), toMillis(p.CreatedAt), toMillis(p.UpdatedAt),
	)
	if err != nil {
		return model.Project{}, fmt.Errorf("creating project: %w", err)
	}
	return p, nil
}

// GetProject returns a project by id.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (model.Project, error) {
	var row projectRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, name, is_active, created_at, updated_at FROM projects WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Project{}, fmt.Errorf("project %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Project{}, fmt.Errorf("getting project %s: %w", id, err)
	}
	return row.toModel(), nil
}

// CreateMaintenanceWindow records a window for an existing project.
func (s *SQLiteStore) CreateMaintenanceWindow(ctx context.Context, w model.MaintenanceWindow) (model.MaintenanceWindow, error) {
	if w.ProjectID == "" {
		return model.MaintenanceWindow{}, fmt.Errorf("maintenance window requires a project id")
	}
	if w.EndDate.Before(w.StartDate) {
		return model.MaintenanceWindow{}, fmt.Errorf("maintenance window ends before it starts")
	}
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	w.CreatedAt = s.now().UTC().Truncate(time.Millisecond)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO maintenance_windows (id, project_id, start_date, end_date, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		w.ID, w.ProjectID, toMillis(w.StartDate), toMillis(w.EndDate), toMillis(w.CreatedAt),
	)
	if err != nil {
		return model.MaintenanceWindow{}, fmt.Errorf("creating maintenance window: %w", err)
	}
	w.StartDate = w.StartDate.UTC().Truncate(time.Millisecond)
	w.EndDate = w.EndDate.UTC().Truncate(time.Millisecond)
	return w, nil
}

// ExpiredWindows returns every window whose end date is strictly before now,
// joined with its owning project, oldest first.
func (s *SQLiteStore) ExpiredWindows(ctx context.Context, now time.Time) ([]model.ExpiredWindow, error) {
	var rows []expiredRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT
			w.id         AS w_id,
			w.start_date AS w_start,
			w.end_date   AS w_end,
			w.created_at AS w_created,
			p.id         AS p_id,
			p.name       AS p_name,
			p.is_active  AS p_active,
			p.created_at AS p_created,
			p.updated_at AS p_updated
		FROM maintenance_windows w
		JOIN projects p ON p.id = w.project_id
		WHERE w.end_date < ?
		ORDER BY w.end_date, w.id`,
		toMillis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("listing expired windows: %w", err)
	}

	out := make([]model.ExpiredWindow, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.ExpiredWindow{
			Window: model.MaintenanceWindow{
				ID:        r.WindowID,
				ProjectID: r.ProjectID,
				StartDate: fromMillis(r.StartDate),
				EndDate:   fromMillis(r.EndDate),
				CreatedAt: fromMillis(r.WindowCreatedAt),
			},
			Project: model.Project{
				ID:        r.ProjectID,
				Name:      r.ProjectName,
				IsActive:  r.ProjectActive != 0,
				CreatedAt: fromMillis(r.ProjectCreatedAt),
				UpdatedAt: fromMillis(r.ProjectUpdatedAt),
			},
		})
	}
	return out, nil
}

// DeactivateProject flips is_active from true to false. It reports whether a
// row changed; an already inactive project is left untouched.
func (s *SQLiteStore) DeactivateProject(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET is_active = 0, updated_at = ? WHERE id = ? AND is_active = 1`,
		toMillis(s.now()), id,
	)
	if err != nil {
		return false, fmt.Errorf("deactivating project %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivating project %s: %w", id, err)
	}
	if n > 0 {
		return true, nil
	}

	var exists int
	if err := s.db.GetContext(ctx, &exists, `SELECT COUNT(*) FROM projects WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("deactivating project %s: %w", id, err)
	}
	if exists == 0 {
		return false, fmt.Errorf("project %s: %w", id, model.ErrNotFound)
	}
	return false, nil
}
