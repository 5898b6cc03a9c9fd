// Package presence tracks which delivery channel currently reaches a
// recipient. Entries live for the process lifetime only.
package presence

import "sync"

// Registry maps recipient ids to channel ids. The last Register wins.
// The zero value is not usable; call New.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]string
}

func New() *Registry {
	return &Registry{entries: map[string]string{}}
}

// Register points recipientID at channelID, replacing any previous channel.
func (r *Registry) Register(recipientID, channelID string) {
	if recipientID == "" || channelID == "" {
		return
	}
	r.mu.Lock()
	r.entries[recipientID] = channelID
	r.mu.Unlock()
}

// Unregister removes recipientID unconditionally.
func (r *Registry) Unregister(recipientID string) {
	r.mu.Lock()
	delete(r.entries, recipientID)
	r.mu.Unlock()
}

// UnregisterChannel removes recipientID only while it still points at
// channelID, so a late disconnect cannot evict a newer connection.
// It reports whether an entry was removed.
func (r *Registry) UnregisterChannel(recipientID, channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[recipientID]; ok && cur == channelID {
		delete(r.entries, recipientID)
		return true
	}
	return false
}

func (r *Registry) Lookup(recipientID string) (string, bool) {
	r.mu.RLock()
	ch, ok := r.entries[recipientID]
	r.mu.RUnlock()
	return ch, ok
}

// Len returns the number of reachable recipients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
