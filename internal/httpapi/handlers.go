package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"trackerd/internal/mailer"
	"trackerd/internal/model"
	"trackerd/internal/notify"
	"trackerd/internal/scheduler"
	logx "trackerd/pkg/logx"
)

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.deps.Presence != nil {
		body["connected"] = s.deps.Presence.Len()
	}
	if s.deps.Health != nil {
		for k, v := range s.deps.Health() {
			body[k] = v
		}
	}
	c.JSON(http.StatusOK, body)
}

func queryInt(c *gin.Context, key string) (int, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}

func (s *Server) handleList(c *gin.Context) {
	page, ok := queryInt(c, "page")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be an integer"})
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	unread := false
	if raw := c.Query("unread"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unread must be a boolean"})
			return
		}
		unread = v
	}

	res, err := s.deps.Notifications.List(c.Request.Context(), RecipientID(c), page, limit, unread)
	if err != nil {
		s.internalError(c, "listing notifications failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleUnreadCount(c *gin.Context) {
	n, err := s.deps.Notifications.UnreadCount(c.Request.Context(), RecipientID(c))
	if err != nil {
		s.internalError(c, "counting unread notifications failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	id := c.Param("id")
	changed, err := s.deps.Notifications.MarkRead(c.Request.Context(), RecipientID(c), id)
	switch {
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	case err != nil:
		s.internalError(c, "marking notification read failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_read": true, "changed": changed})
}

func (s *Server) handleMarkAllRead(c *gin.Context) {
	n, err := s.deps.Notifications.MarkAllRead(c.Request.Context(), RecipientID(c))
	if err != nil {
		s.internalError(c, "marking notifications read failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

type dispatchRequest struct {
	Recipients []model.Recipient `json:"recipients"`
	Title      string            `json:"title" binding:"required"`
	Message    string            `json:"message" binding:"required"`
	Related    *model.Related    `json:"related,omitempty"`
}

func (s *Server) handleDispatch(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := s.deps.Notifications.Dispatch(c.Request.Context(), req.Recipients, req.Title, req.Message, req.Related)
	var perr *notify.PersistenceError
	switch {
	case errors.Is(err, notify.ErrInvalidRecipient):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.As(err, &perr):
		s.log.Error("dispatch stopped on persistence failure",
			logx.String("recipient", perr.RecipientID), logx.Int("persisted", perr.Index), logx.Err(perr.Err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":        "notification could not be stored",
			"recipient_id": perr.RecipientID,
			"index":        perr.Index,
		})
		return
	case err != nil:
		s.internalError(c, "dispatch failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"notifications": created})
}

func (s *Server) handleSweep(c *gin.Context) {
	if s.deps.Jobs == nil || s.cfg.SweepJob == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler unavailable"})
		return
	}
	started, err := s.deps.Jobs.RunNow(s.cfg.SweepJob)
	switch {
	case errors.Is(err, scheduler.ErrNotRunning):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler not running"})
		return
	case errors.Is(err, scheduler.ErrUnknownJob):
		c.JSON(http.StatusNotFound, gin.H{"error": "sweep job not registered"})
		return
	case err != nil:
		s.internalError(c, "sweep trigger failed", err)
		return
	}
	if !started {
		c.JSON(http.StatusConflict, gin.H{"error": "sweep already running"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"started": true})
}

type mailTestRequest struct {
	To string `json:"to" binding:"required"`
}

func (s *Server) handleMailTest(c *gin.Context) {
	if s.deps.Mailer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mailer not configured"})
		return
	}
	var req mailTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.deps.Mailer.Send(c.Request.Context(), req.To, "Mail configuration test",
		"This message confirms that outgoing mail is configured correctly.")
	var derr *mailer.DeliveryError
	switch {
	case errors.As(err, &derr):
		c.JSON(http.StatusBadGateway, gin.H{"error": derr.Error()})
		return
	case err != nil:
		s.internalError(c, "mail test failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true, "to": req.To})
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.log.Error(msg, logx.String("path", c.FullPath()), logx.Err(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
