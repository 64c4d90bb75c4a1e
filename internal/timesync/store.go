package timesync

import "sync"

// Store хранит Status. Replace и Snapshot атомарны относительно друг друга.
type Store struct {
	mu     sync.RWMutex
	status Status
}

// Replace заменяет статус целиком.
func (s *Store) Replace(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = st
	if st.Last != nil {
		m := *st.Last
		s.status.Last = &m
	}
}

// Snapshot возвращает копию текущего статуса.
func (s *Store) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.status
	if s.status.Last != nil {
		m := *s.status.Last
		snap.Last = &m
	}
	return snap
}
