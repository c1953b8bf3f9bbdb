// README: Request sequencing so superseded responses can be discarded.
package domain

import "sync"

// Sequencer hands out monotonically increasing tags per key. A response is applied
// only if its tag is still the latest issued for that key.
type Sequencer struct {
	mu     sync.Mutex
	latest map[string]uint64
}

func NewSequencer() *Sequencer {
	return &Sequencer{latest: make(map[string]uint64)}
}

// Next tags a new request for key.
func (s *Sequencer) Next(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[key]++
	return s.latest[key]
}

// IsLatest reports whether no newer request for key has been issued since tag.
func (s *Sequencer) IsLatest(key string, tag uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[key] == tag
}
