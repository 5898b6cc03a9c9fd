package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"trackerd/internal/model"
	logx "trackerd/pkg/logx"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := Open(Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustProject(t *testing.T, st *SQLiteStore, name string, active bool) model.Project {
	t.Helper()
	p, err := st.CreateProject(context.Background(), model.Project{Name: name, IsActive: active})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return p
}

func mustWindow(t *testing.T, st *SQLiteStore, projectID string, start, end time.Time) model.MaintenanceWindow {
	t.Helper()
	w, err := st.CreateMaintenanceWindow(context.Background(), model.MaintenanceWindow{
		ProjectID: projectID, StartDate: start, EndDate: end,
	})
	if err != nil {
		t.Fatalf("CreateMaintenanceWindow: %v", err)
	}
	return w
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing sqlite path")
	}
}

func TestMigrationsAreRerunnable(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	if err := st.migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var v int
	if err := st.db.Get(&v, `SELECT MAX(version) FROM schema_version`); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if v != len(migrations) {
		t.Fatalf("schema version = %d, want %d", v, len(migrations))
	}
}

func TestExpiredWindowsStrictlyBeforeNow(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	past := mustProject(t, st, "past", true)
	edge := mustProject(t, st, "edge", true)
	future := mustProject(t, st, "future", true)
	mustWindow(t, st, past.ID, now.Add(-48*time.Hour), now.Add(-time.Hour))
	mustWindow(t, st, edge.ID, now.Add(-48*time.Hour), now)
	mustWindow(t, st, future.ID, now.Add(-time.Hour), now.Add(time.Hour))

	got, err := st.ExpiredWindows(ctx, now)
	if err != nil {
		t.Fatalf("ExpiredWindows: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d expired windows, want 1", len(got))
	}
	if got[0].Project.ID != past.ID || !got[0].Project.IsActive {
		t.Fatalf("unexpected owner %+v", got[0].Project)
	}
	if !got[0].Window.EndDate.Equal(now.Add(-time.Hour)) {
		t.Fatalf("EndDate = %v", got[0].Window.EndDate)
	}
}

func TestDeactivateProjectIsMonotonic(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	p := mustProject(t, st, "alpha", true)

	changed, err := st.DeactivateProject(ctx, p.ID)
	if err != nil || !changed {
		t.Fatalf("first deactivate = (%v, %v), want (true, nil)", changed, err)
	}
	changed, err = st.DeactivateProject(ctx, p.ID)
	if err != nil || changed {
		t.Fatalf("second deactivate = (%v, %v), want (false, nil)", changed, err)
	}
	got, err := st.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.IsActive {
		t.Fatal("project still active")
	}

	if _, err := st.DeactivateProject(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("missing project err = %v, want ErrNotFound", err)
	}
}

func TestCreateMaintenanceWindowValidation(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	p := mustProject(t, st, "alpha", true)
	now := time.Now()
	_, err := st.CreateMaintenanceWindow(context.Background(), model.MaintenanceWindow{
		ProjectID: p.ID, StartDate: now, EndDate: now.Add(-time.Minute),
	})
	if err == nil {
		t.Fatal("expected error for inverted window")
	}
}

func TestNotificationRoundTrip(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	typ, id := "issue", "TCK-1"
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	in := model.Notification{
		ID: "n1", RecipientID: "u1", RecipientType: model.RecipientUser,
		Title: "Issue Assigned", Message: "You were assigned TCK-1",
		RelatedEntityType: &typ, RelatedEntityID: &id, CreatedAt: created,
	}
	if err := st.InsertNotification(ctx, in); err != nil {
		t.Fatalf("InsertNotification: %v", err)
	}
	plain := model.Notification{ID: "n2", RecipientID: "u1", RecipientType: model.RecipientUser, Title: "t", Message: "m", CreatedAt: created.Add(time.Minute)}
	if err := st.InsertNotification(ctx, plain); err != nil {
		t.Fatalf("InsertNotification: %v", err)
	}
	if err := st.InsertNotification(ctx, plain); err == nil {
		t.Fatal("duplicate id should fail")
	}

	got, err := st.GetNotification(ctx, "u1", "n1")
	if err != nil {
		t.Fatalf("GetNotification: %v", err)
	}
	if got.RelatedEntityType == nil || *got.RelatedEntityType != "issue" || *got.RelatedEntityID != "TCK-1" {
		t.Fatalf("related fields lost: %+v", got)
	}
	if !got.CreatedAt.Equal(created) || got.IsRead {
		t.Fatalf("unexpected record %+v", got)
	}

	if _, err := st.GetNotification(ctx, "u2", "n1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("foreign recipient err = %v, want ErrNotFound", err)
	}

	list, err := st.ListNotifications(ctx, model.NotificationQuery{RecipientID: "u1", Limit: 10})
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(list) != 2 || list[0].ID != "n2" || list[1].ID != "n1" {
		t.Fatalf("unexpected list order: %+v", list)
	}
	if list[0].RelatedEntityType != nil {
		t.Fatal("absent related fields should stay nil")
	}
}

func TestMarkNotificationReadMonotonic(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		if err := st.InsertNotification(ctx, model.Notification{ID: id, RecipientID: "u1", RecipientType: model.RecipientUser, Title: "t", Message: "m", CreatedAt: now}); err != nil {
			t.Fatalf("InsertNotification: %v", err)
		}
	}

	changed, err := st.MarkNotificationRead(ctx, "u1", "a", now)
	if err != nil || !changed {
		t.Fatalf("first mark = (%v, %v)", changed, err)
	}
	changed, err = st.MarkNotificationRead(ctx, "u1", "a", now)
	if err != nil || changed {
		t.Fatalf("second mark = (%v, %v), want no-op", changed, err)
	}
	if _, err := st.MarkNotificationRead(ctx, "u2", "a", now); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("foreign mark err = %v, want ErrNotFound", err)
	}

	unread, err := st.CountNotifications(ctx, "u1", true)
	if err != nil || unread != 2 {
		t.Fatalf("unread = (%d, %v), want 2", unread, err)
	}
	n, err := st.MarkAllNotificationsRead(ctx, "u1", now)
	if err != nil || n != 2 {
		t.Fatalf("MarkAll = (%d, %v), want 2", n, err)
	}
	total, _ := st.CountNotifications(ctx, "u1", false)
	unread, _ = st.CountNotifications(ctx, "u1", true)
	if total != 3 || unread != 0 {
		t.Fatalf("total=%d unread=%d", total, unread)
	}
}
