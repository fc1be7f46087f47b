// Package presence keeps the client's view of who is in the room.
package presence

import (
	"slices"
	"sync"

	"github.com/serroba/coderoom/internal/ws"
)

// Tracker is derived state: it only ever mirrors what the hub announced.
// Order and uniqueness are the hub's.
type Tracker struct {
	mu      sync.RWMutex
	members []ws.Member
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Replace installs the authoritative member list from a member_joined message.
func (t *Tracker) Replace(members []ws.Member) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.members = slices.Clone(members)
}

// Remove drops the member named by a member_left message.
func (t *Tracker) Remove(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.members = slices.DeleteFunc(t.members, func(m ws.Member) bool {
		return m.ConnectionID == connID
	})
}

// Reset forgets everyone.
func (t *Tracker) Reset() {
	t.Replace(nil)
}

// Members returns a copy of the current members in hub order.
func (t *Tracker) Members() []ws.Member {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]ws.Member, len(t.members))
	copy(result, t.members)

	return result
}

// Len returns the number of members.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.members)
}
