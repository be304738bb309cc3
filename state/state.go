package state

import "sync"

// SeenSet tracks message identities already handled in the current run,
// so duplicate deliveries inside the search window are summarized once.
// Nothing is persisted across runs.
type SeenSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

func NewSeenSet() *SeenSet {
	return &SeenSet{seen: make(map[string]struct{})}
}

// Seen reports whether the key was marked earlier in this run. An empty
// key is never considered seen.
func (s *SeenSet) Seen(key string) bool {
	if key == "" {
		return false
	}

	s.mu.RLock()
	_, ok := s.seen[key]
	s.mu.RUnlock()
	return ok
}

func (s *SeenSet) Mark(key string) {
	if key == "" {
		return
	}

	s.mu.Lock()
	s.seen[key] = struct{}{}
	s.mu.Unlock()
}

func (s *SeenSet) Count() int {
	s.mu.RLock()
	count := len(s.seen)
	s.mu.RUnlock()
	return count
}
