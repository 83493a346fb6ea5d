package memory

import (
	"context"
	"sync"

	"github.com/zatekoja/telemedsync/internal/domain/entities"
	"github.com/zatekoja/telemedsync/internal/domain/repositories"
)

// SyncJobStore keeps a copy of every saved job
type SyncJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*entities.SyncJob
}

var _ repositories.SyncJobRepository = (*SyncJobStore)(nil)

// NewSyncJobStore creates an empty job store
func NewSyncJobStore() *SyncJobStore {
	return &SyncJobStore{jobs: make(map[string]*entities.SyncJob)}
}

// Save upserts job by id
func (s *SyncJobStore) Save(_ context.Context, job *entities.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns the last saved version of a job
func (s *SyncJobStore) Get(id string) (*entities.SyncJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

// Len returns the number of distinct jobs saved
func (s *SyncJobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
