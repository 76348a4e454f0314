package job

import (
	"context"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of Store.
// It uses a map with RWMutex for thread-safe access.
// Suitable for development and testing; records are lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

// NewMemoryStore creates a new in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

// Upsert creates the job on first write and merges the patch.
func (s *MemoryStore) Upsert(_ context.Context, id string, p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	j, ok := s.jobs[id]
	if !ok {
		j = NewRecord(id, now)
		s.jobs[id] = j
	}
	j.Apply(p, now)
	return nil
}

// Update merges the patch into an existing job.
func (s *MemoryStore) Update(_ context.Context, id string, p Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.Apply(p, s.now())
	return nil
}

// Get retrieves a job by its ID.
// Returns a clone to prevent external mutations.
func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.Clone(), nil
}
