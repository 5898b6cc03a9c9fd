package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trackerd/internal/model"
)

type notificationRow struct {
	ID                string         `db:"id"`
	RecipientID       string         `db:"recipient_id"`
	RecipientType     string         `db:"recipient_type"`
	Title             string         `db:"title"`
	Message           string         `db:"message"`
	RelatedEntityType sql.NullString `db:"related_entity_type"`
	RelatedEntityID   sql.NullString `db:"related_entity_id"`
	IsRead            int            `db:"is_read"`
	CreatedAt         int64          `db:"created_at"`
}

func (r notificationRow) toModel() model.Notification {
	n := model.Notification{
		ID:            r.ID,
		RecipientID:   r.RecipientID,
		RecipientType: model.RecipientType(r.RecipientType),
		Title:         r.Title,
		Message:       r.Message,
		IsRead:        r.IsRead != 0,
		CreatedAt:     fromMillis(r.CreatedAt),
	}
	if r.RelatedEntityType.Valid {
		v := r.RelatedEntityType.String
		n.RelatedEntityType = &v
	}
	if r.RelatedEntityID.Valid {
		v := r.RelatedEntityID.String
		n.RelatedEntityID = &v
	}
	return n
}

const notificationColumns = `id, recipient_id, recipient_type, title, message,
	related_entity_type, related_entity_id, is_read, created_at`

// InsertNotification persists one record as-is.
func (s *SQLiteStore) InsertNotification(ctx context.Context, n model.Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.RecipientID, string(n.RecipientType), n.Title, n.Message,
		nullable(n.RelatedEntityType), nullable(n.RelatedEntityID),
		boolToInt(n.IsRead), toMillis(n.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating notification: %w", err)
	}
	return nil
}

// GetNotification returns a record owned by recipientID.
func (s *SQLiteStore) GetNotification(ctx context.Context, recipientID, id string) (model.Notification, error) {
	var row notificationRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ? AND recipient_id = ?`,
		id, recipientID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Notification{}, fmt.Errorf("notification %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Notification{}, fmt.Errorf("getting notification %s: %w", id, err)
	}
	return row.toModel(), nil
}

// ListNotifications returns one page of a recipient's records, newest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, q model.NotificationQuery) ([]model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE recipient_id = ?`
	args := []any{q.RecipientID}
	if q.UnreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, q.Limit, q.Offset)

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	out := make([]model.Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// CountNotifications counts a recipient's records.
func (s *SQLiteStore) CountNotifications(ctx context.Context, recipientID string, unreadOnly bool) (int, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE recipient_id = ?`
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	var n int
	if err := s.db.GetContext(ctx, &n, query, recipientID); err != nil {
		return 0, fmt.Errorf("counting notifications: %w", err)
	}
	return n, nil
}

// MarkNotificationRead sets is_read for one record. It reports whether the
// record changed; marking an already read record is a no-op.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, recipientID, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1, read_at = ? WHERE id = ? AND recipient_id = ? AND is_read = 0`,
		toMillis(at), id, recipientID,
	)
	if err != nil {
		return false, fmt.Errorf("marking notification %s read: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marking notification %s read: %w", id, err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetNotification(ctx, recipientID, id); err != nil {
		return false, err
	}
	return false, nil
}

// MarkAllNotificationsRead marks every unread record of a recipient.
func (s *SQLiteStore) MarkAllNotificationsRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1, read_at = ? WHERE recipient_id = ? AND is_read = 0`,
		toMillis(at), recipientID,
	)
	if err != nil {
		return 0, fmt.Errorf("marking notifications read: %w", err)
	}
	return res.RowsAffected()
}

func nullable(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
