package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trackerd/internal/model"
)

// EventNotification is the push event name carrying a full record.
const EventNotification = "notification"

// ErrInvalidRecipient rejects a dispatch before anything is persisted.
var ErrInvalidRecipient = errors.New("notify: recipient id required")

// Store is the persistence port.
type Store interface {
	InsertNotification(ctx context.Context, n model.Notification) error
	ListNotifications(ctx context.Context, q model.NotificationQuery) ([]model.Notification, error)
	CountNotifications(ctx context.Context, recipientID string, unreadOnly bool) (int, error)
	MarkNotificationRead(ctx context.Context, recipientID, id string, at time.Time) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, recipientID string, at time.Time) (int64, error)
}

// Presence resolves a recipient to its current delivery channel.
type Presence interface {
	Lookup(recipientID string) (channelID string, ok bool)
}

// PersistenceError reports the recipient whose record could not be stored.
// Records stored for earlier recipients of the same dispatch remain in the
// store but are not returned; Index counts them.
type PersistenceError struct {
	RecipientID string
	Index       int
	Err         error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("notify: persisting notification for recipient %s (#%d): %v", e.RecipientID, e.Index, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Config controls the notification service.
type Config struct {
	// PersistTimeout bounds each store call. 0 means 5s.
	PersistTimeout time.Duration
}

// Page is one page of a recipient's notifications.
type Page struct {
	Items      []model.Notification `json:"items"`
	Page       int                  `json:"page"`
	Limit      int                  `json:"limit"`
	Total      int                  `json:"total"`
	TotalPages int                  `json:"total_pages"`
}
