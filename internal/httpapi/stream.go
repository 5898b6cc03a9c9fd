package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	logx "trackerd/pkg/logx"
)

const (
	eventReady     = "ready"
	eventHeartbeat = "heartbeat"
)

// handleStream keeps a server-sent events connection open for the caller.
// While it is open the caller is present: notifications dispatched to them
// arrive as "notification" events. A newer connection by the same caller
// takes over delivery.
func (s *Server) handleStream(c *gin.Context) {
	if s.deps.Streams == nil || s.deps.Presence == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime unavailable"})
		return
	}
	recipient := RecipientID(c)

	channelID, events, closeCh := s.deps.Streams.Open()
	s.deps.Presence.Register(recipient, channelID)
	defer func() {
		s.deps.Presence.UnregisterChannel(recipient, channelID)
		closeCh()
	}()
	log := s.log.With(logx.String("recipient", recipient), logx.String("channel", channelID))
	log.Debug("stream opened")

	w := c.Writer
	w.Header().Set("Content-Type", sse.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(ev sse.Event) bool {
		if err := sse.Encode(w, ev); err != nil {
			log.Debug("stream write failed", logx.Err(err))
			return false
		}
		w.Flush()
		return true
	}

	if !send(sse.Event{Event: eventReady, Data: gin.H{"channel_id": channelID}}) {
		return
	}

	hb := time.NewTicker(s.cfg.Heartbeat)
	defer hb.Stop()
	var seq uint64
	for {
		select {
		case <-c.Request.Context().Done():
			log.Debug("stream closed by client")
			return
		case ev, ok := <-events:
			if !ok {
				// Channel closed by the hub.
				return
			}
			seq++
			if !send(sse.Event{Event: ev.Name, Id: strconv.FormatUint(seq, 10), Data: ev.Data}) {
				return
			}
		case t := <-hb.C:
			if !send(sse.Event{Event: eventHeartbeat, Data: t.UTC().Format(time.RFC3339)}) {
				return
			}
		}
	}
}
