package model

import "time"

// RecipientType qualifies a recipient id.
type RecipientType string

const (
	RecipientUser  RecipientType = "user"
	RecipientGroup RecipientType = "group"
)

// Recipient is a notification target.
type Recipient struct {
	ID   string        `json:"id"`
	Type RecipientType `json:"type"`
}

// Related points at the entity a notification is about.
type Related struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// Notification is the persisted record. The same shape is the payload of the
// "notification" push event.
type Notification struct {
	ID                string        `json:"notification_id"`
	RecipientID       string        `json:"recipient_id"`
	RecipientType     RecipientType `json:"recipient_type"`
	Title             string        `json:"title"`
	Message           string        `json:"message"`
	RelatedEntityType *string       `json:"related_entity_type"`
	RelatedEntityID   *string       `json:"related_entity_id"`
	IsRead            bool          `json:"is_read"`
	CreatedAt         time.Time     `json:"created_at"`
}

// NotificationQuery selects one page of a recipient's notifications,
// newest first.
type NotificationQuery struct {
	RecipientID string
	UnreadOnly  bool
	Limit       int
	Offset      int
}
