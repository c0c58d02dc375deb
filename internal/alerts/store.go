package alerts

import (
	"sync"
	"time"

	"attackwatch/internal/model"
)

// Store keeps the most recent dispatch outcomes in memory.
type Store struct {
	mu    sync.RWMutex
	buf   []model.DispatchRecord
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(records ...model.DispatchRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if len(s.buf) < s.limit {
			s.buf = append(s.buf, rec)
			continue
		}
		copy(s.buf, s.buf[1:])
		s.buf[len(s.buf)-1] = rec
	}
}

// List returns up to limit of the newest records, oldest first.
func (s *Store) List(limit int) []model.DispatchRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.DispatchRecord, 0, limit)
	for i := len(s.buf) - limit; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.DispatchRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DispatchRecord, 0)
	for _, rec := range s.buf {
		if !rec.Timestamp.Before(ts) {
			out = append(out, rec)
		}
	}
	return out
}

// Failed returns the failed deliveries currently held.
func (s *Store) Failed() []model.DispatchRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DispatchRecord, 0)
	for _, rec := range s.buf {
		if !rec.Delivered {
			out = append(out, rec)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
