package supervisor

import (
	"sync"

	"github.com/flotilla-dev/flotilla/pkg/sink"
)

// Set resolves delegate sink targets to service inboxes. Runners are
// registered as they are built; lookups happen on service goroutines.
type Set struct {
	mu      sync.RWMutex
	inboxes map[string]sink.Inbox
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{inboxes: make(map[string]sink.Inbox)}
}

// Register adds one service's inbox under its name.
func (s *Set) Register(name string, inbox sink.Inbox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inboxes[name] = inbox
}

// Lookup implements sink.Resolver.
func (s *Set) Lookup(name string) (sink.Inbox, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inbox, ok := s.inboxes[name]
	return inbox, ok
}
