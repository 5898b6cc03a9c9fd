// Package notify persists notifications and fans them out to connected
// recipients through the realtime gateway.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"trackerd/internal/model"
	"trackerd/internal/realtime"
	logx "trackerd/pkg/logx"
	"trackerd/pkg/pagination"
)

type Service struct {
	cfg      Config
	store    Store
	presence Presence
	gateway  realtime.Gateway
	log      logx.Logger

	now   func() time.Time
	newID func() string
}

type Option func(*Service)

// WithClock replaces time.Now for created_at and read timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDFunc replaces the uuid v4 generator.
func WithIDFunc(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func New(cfg Config, store Store, presence Presence, gw realtime.Gateway, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	s := &Service{
		cfg:      cfg,
		store:    store,
		presence: presence,
		gateway:  gw,
		log:      log,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dispatch creates one record per recipient, in order. Each record is
// persisted before the next recipient is considered and, if the recipient
// is present, pushed as a "notification" event.
//
// A store failure stops the dispatch with a *PersistenceError; the records
// already stored are returned alongside it and are not rolled back. Push
// failures and absent recipients never fail the call.
func (s *Service) Dispatch(ctx context.Context, recipients []model.Recipient, title, message string, related *model.Related) ([]model.Notification, error) {
	if len(recipients) == 0 {
		return []model.Notification{}, nil
	}
	for _, r := range recipients {
		if strings.TrimSpace(r.ID) == "" {
			return nil, ErrInvalidRecipient
		}
	}

	out := make([]model.Notification, 0, len(recipients))
	pushed := 0
	for i, r := range recipients {
		n := s.newRecord(r, title, message, related)

		pctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
		err := s.store.InsertNotification(pctx, n)
		cancel()
		if err != nil {
			s.log.Error("notification persist failed",
				logx.String("recipient", r.ID), logx.Int("index", i), logx.Int("persisted", len(out)), logx.Err(err))
			return nil, &PersistenceError{RecipientID: r.ID, Index: i, Err: err}
		}
		out = append(out, n)

		if s.push(n) {
			pushed++
		}
	}

	s.log.Debug("notifications dispatched",
		logx.Int("recipients", len(recipients)), logx.Int("pushed", pushed), logx.String("title", title))
	return out, nil
}

func (s *Service) newRecord(r model.Recipient, title, message string, related *model.Related) model.Notification {
	typ := r.Type
	if typ == "" {
		typ = model.RecipientUser
	}
	n := model.Notification{
		ID:            s.newID(),
		RecipientID:   r.ID,
		RecipientType: typ,
		Title:         title,
		Message:       message,
		IsRead:        false,
		// Storage keeps millisecond precision; the pushed copy must match it.
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if related != nil {
		et, eid := related.EntityType, related.EntityID
		n.RelatedEntityType = &et
		n.RelatedEntityID = &eid
	}
	return n
}

func (s *Service) push(n model.Notification) bool {
	if s.presence == nil || s.gateway == nil {
		return false
	}
	channelID, ok := s.presence.Lookup(n.RecipientID)
	if !ok {
		s.log.Trace("recipient offline; push skipped", logx.String("recipient", n.RecipientID))
		return false
	}
	if err := s.gateway.Push(channelID, EventNotification, n); err != nil {
		s.log.Debug("notification push failed",
			logx.String("recipient", n.RecipientID), logx.String("channel", channelID), logx.Err(err))
		return false
	}
	return true
}

// MarkRead marks one of the recipient's notifications as read. It reports
// whether the record changed; repeating the call is a no-op.
// Unknown ids and records owned by someone else yield model.ErrNotFound.
func (s *Service) MarkRead(ctx context.Context, recipientID, notificationID string) (bool, error) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()
	changed, err := s.store.MarkNotificationRead(pctx, recipientID, notificationID, s.now())
	if err != nil {
		return false, err
	}
	if changed {
		s.log.Debug("notification marked read", logx.String("recipient", recipientID), logx.String("id", notificationID))
	}
	return changed, nil
}

// MarkAllRead marks every unread notification of the recipient.
func (s *Service) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()
	return s.store.MarkAllNotificationsRead(pctx, recipientID, s.now())
}

// List returns one page of the recipient's notifications, newest first.
func (s *Service) List(ctx context.Context, recipientID string, page, limit int, unreadOnly bool) (Page, error) {
	page, limit = pagination.Normalize(page, limit)

	pctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()

	total, err := s.store.CountNotifications(pctx, recipientID, unreadOnly)
	if err != nil {
		return Page{}, err
	}
	items, err := s.store.ListNotifications(pctx, model.NotificationQuery{
		RecipientID: recipientID,
		UnreadOnly:  unreadOnly,
		Limit:       limit,
		Offset:      pagination.Offset(page, limit),
	})
	if err != nil {
		return Page{}, err
	}
	return Page{
		Items:      items,
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: pagination.TotalPages(total, limit),
	}, nil
}

// UnreadCount returns how many of the recipient's notifications are unread.
func (s *Service) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()
	return s.store.CountNotifications(pctx, recipientID, true)
}
