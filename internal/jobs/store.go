package jobs

import (
	"sync"
)

// Store is the analysis-id to job map. Insert-if-absent is atomic, which is
// what enforces the at-most-one-run guarantee; reads of one job never block
// writers of another because per-job state carries its own lock.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]*Job)}
}

// Insert adds the job under its id if no job holds it yet. Returns the job
// that owns the id and whether the insert won.
func (s *Store) Insert(id string, job *Job) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[id]; ok {
		return existing, false
	}
	s.jobs[id] = job
	return job, true
}

// Get returns the job for an id.
func (s *Store) Get(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok
}

// Delete removes an id.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// Range calls fn for every job until fn returns false. The callback runs
// without the store lock ordering guarantees beyond snapshot consistency of
// the id set.
func (s *Store) Range(fn func(id string, job *Job) bool) {
	s.mu.RLock()
	snapshot := make(map[string]*Job, len(s.jobs))
	for id, job := range s.jobs {
		snapshot[id] = job
	}
	s.mu.RUnlock()

	for id, job := range snapshot {
		if !fn(id, job) {
			return
		}
	}
}

// Len returns the number of tracked jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
