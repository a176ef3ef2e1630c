// Package roster describes the live set of connected entities the cache
// consults for departure detection and kicks.
package roster

import (
	"sort"
	"sync"
)

// Roster is implemented by the host process
type Roster interface {
	// Active returns the ids currently connected
	Active() []int64

	// IsPresent reports whether id is connected
	IsPresent(id int64) bool

	// Kick disconnects id with a message shown to the user
	Kick(id int64, message string)
}

// Static is an in-memory Roster for tests and single-process deployments
type Static struct {
	mu      sync.RWMutex
	present map[int64]bool
	kicked  map[int64]string
	onKick  func(id int64, message string)
}

// NewStatic creates a roster with ids already connected
func NewStatic(ids ...int64) *Static {
	s := &Static{
		present: make(map[int64]bool),
		kicked:  make(map[int64]string),
	}
	for _, id := range ids {
		s.present[id] = true
	}
	return s
}

// Join marks id connected and clears any previous kick
func (s *Static) Join(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present[id] = true
	delete(s.kicked, id)
}

// Leave marks id disconnected
func (s *Static) Leave(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.present, id)
}

// OnKick registers a callback invoked after every kick
func (s *Static) OnKick(fn func(id int64, message string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onKick = fn
}

// Active implements Roster
func (s *Static) Active() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.present))
	for id := range s.present {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsPresent implements Roster
func (s *Static) IsPresent(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.present[id]
}

// Kick implements Roster; the entity leaves the roster
func (s *Static) Kick(id int64, message string) {
	s.mu.Lock()
	delete(s.present, id)
	s.kicked[id] = message
	fn := s.onKick
	s.mu.Unlock()

	if fn != nil {
		fn(id, message)
	}
}

// Kicked returns the message of the last kick of id
func (s *Static) Kicked(id int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.kicked[id]
	return msg, ok
}

var _ Roster = (*Static)(nil)
