// Package realtime pushes events to connected clients without durability:
// one attempt, no acknowledgement, no retry, no queue for absent channels.
package realtime

import (
	"errors"
	"time"
)

var (
	// ErrChannelClosed is returned when the target channel is not open.
	ErrChannelClosed = errors.New("realtime: channel closed")
	// ErrChannelFull is returned when the client is not draining fast enough.
	ErrChannelFull = errors.New("realtime: channel buffer full")
)

// Event is one pushed message.
type Event struct {
	Name string
	Time time.Time
	Data any
}

// Gateway delivers an event to a single channel. Errors are informational;
// nothing is retried.
type Gateway interface {
	Push(channelID, event string, payload any) error
}
