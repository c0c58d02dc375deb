package metrics

import (
	"sync"

	"attackwatch/internal/model"
)

// Totals are running counters across every cycle since process start.
type Totals struct {
	Cycles       int `json:"cycles"`
	Committed    int `json:"committed"`
	RolledBack   int `json:"rolled_back"`
	Fetched      int `json:"fetched"`
	Notified     int `json:"notified"`
	Suppressed   int `json:"suppressed"`
	Delivered    int `json:"delivered"`
	Failed       int `json:"failed"`
	Unidentified int `json:"unidentified"`
	Marked       int `json:"marked"`
}

// Store keeps a bounded history of cycle reports plus totals.
type Store struct {
	mu     sync.RWMutex
	cycles []model.CycleReport
	totals Totals
	limit  int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 500
	}
	return &Store{limit: limit}
}

func (s *Store) Record(report model.CycleReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals.Cycles++
	if report.Committed {
		s.totals.Committed++
		for _, kr := range report.Kinds {
			s.totals.Fetched += kr.Fetched
			s.totals.Notified += kr.Notified
			s.totals.Suppressed += kr.Suppressed
			s.totals.Delivered += kr.Delivered
			s.totals.Failed += kr.Failed
			s.totals.Unidentified += kr.Unidentified
			s.totals.Marked += kr.Marked
		}
	} else {
		s.totals.RolledBack++
	}
	// dispatch detail lives in the alerts store
	report.Dispatches = nil
	if len(s.cycles) < s.limit {
		s.cycles = append(s.cycles, report)
		return
	}
	copy(s.cycles, s.cycles[1:])
	s.cycles[len(s.cycles)-1] = report
}

// Recent returns up to limit of the newest cycle reports, newest first.
func (s *Store) Recent(limit int) []model.CycleReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.cycles) {
		limit = len(s.cycles)
	}
	out := make([]model.CycleReport, 0, limit)
	for i := len(s.cycles) - 1; i >= len(s.cycles)-limit; i-- {
		out = append(out, s.cycles[i])
	}
	return out
}

func (s *Store) Last() (model.CycleReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.cycles) == 0 {
		return model.CycleReport{}, false
	}
	return s.cycles[len(s.cycles)-1], true
}

func (s *Store) Totals() Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totals
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles = nil
	s.totals = Totals{}
}
