package subscription

import "sync"

// DefaultSeenCapacity bounds the dedup window when none is configured.
const DefaultSeenCapacity = 4096

// SeenSet remembers the most recent signatures across all endpoints.
// Once full, inserting evicts the oldest entry.
type SeenSet struct {
	mu    sync.Mutex
	index map[string]struct{}
	order []string
	head  int
	size  int
}

// NewSeenSet creates a set holding at most capacity signatures.
func NewSeenSet(capacity int) *SeenSet {
	if capacity <= 0 {
		capacity = DefaultSeenCapacity
	}
	return &SeenSet{
		index: make(map[string]struct{}, capacity),
		order: make([]string, capacity),
	}
}

// CheckAndInsert inserts sig and reports whether it was absent.
func (s *SeenSet) CheckAndInsert(sig string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[sig]; ok {
		return false
	}
	if s.size == len(s.order) {
		delete(s.index, s.order[s.head])
	} else {
		s.size++
	}
	s.order[s.head] = sig
	s.head = (s.head + 1) % len(s.order)
	s.index[sig] = struct{}{}
	return true
}

// Contains reports whether sig is currently remembered.
func (s *SeenSet) Contains(sig string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[sig]
	return ok
}

// Len returns the number of remembered signatures.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Cap returns the configured capacity.
func (s *SeenSet) Cap() int { return len(s.order) }
