package model

import "time"

// Project is a long-lived tracked entity that can be taken out of service.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MaintenanceWindow is a recorded time range during which a project is
// scheduled to be out of active service.
type MaintenanceWindow struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the window ended strictly before now.
func (w MaintenanceWindow) Expired(now time.Time) bool {
	return w.EndDate.Before(now)
}

// ExpiredWindow pairs a past-due window with the project that owns it.
type ExpiredWindow struct {
	Window  MaintenanceWindow
	Project Project
}
