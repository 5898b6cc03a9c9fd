package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Hub is the in-process Gateway. Each open connection owns one buffered
// channel; Push never blocks and drops when the buffer is full.
type Hub struct {
	mu      sync.RWMutex
	chans   map[string]chan Event
	buffer  int
	dropped uint64
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{chans: map[string]chan Event{}, buffer: buffer}
}

// Open allocates a channel for a new connection. The returned close func is
// idempotent.
func (h *Hub) Open() (string, <-chan Event, func()) {
	id := uuid.New().String()
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	h.chans[id] = ch
	h.mu.Unlock()

	var once sync.Once
	closeFn := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.chans, id)
			h.mu.Unlock()
			// Push recovers from a send racing this close.
			close(ch)
		})
	}
	return id, ch, closeFn
}

func (h *Hub) Push(channelID, event string, payload any) (err error) {
	h.mu.RLock()
	ch, ok := h.chans[channelID]
	h.mu.RUnlock()
	if !ok {
		return ErrChannelClosed
	}

	defer func() {
		if recover() != nil {
			err = ErrChannelClosed
		}
	}()
	select {
	case ch <- Event{Name: event, Time: time.Now(), Data: payload}:
		return nil
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		return ErrChannelFull
	}
}

// Stats reports open channels and events dropped on full buffers.
func (h *Hub) Stats() (open int, dropped uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.chans), h.dropped
}
