package opt

import (
	"sync"

	"vrpdicho/internal/model"
)

// MetricsStore keeps per-solve statistics of running jobs in memory.
type MetricsStore struct {
	mu    sync.Mutex
	byJob map[string][]model.SolveStats
}

func NewMetricsStore() *MetricsStore {
	return &MetricsStore{byJob: map[string][]model.SolveStats{}}
}

func (s *MetricsStore) Record(jobID string, st model.SolveStats) {
	s.mu.Lock()
	s.byJob[jobID] = append(s.byJob[jobID], st)
	s.mu.Unlock()
}

func (s *MetricsStore) Get(jobID string) []model.SolveStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.SolveStats(nil), s.byJob[jobID]...)
}

// Drop forgets a job once its statistics were persisted.
func (s *MetricsStore) Drop(jobID string) {
	s.mu.Lock()
	delete(s.byJob, jobID)
	s.mu.Unlock()
}
