// Package memory implements the job store in process memory. It backs
// tests and single-node development; production deployments use the
// redis store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/adreel/adreel"
	"github.com/adreel/adreel/id"
	"github.com/adreel/adreel/job"
)

// Store is an in-memory job.Store.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// New creates an empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*job.Job)}
}

var _ job.Store = (*Store)(nil)

func clone(j *job.Job) *job.Job {
	c := *j
	if j.Failure != nil {
		f := *j.Failure
		c.Failure = &f
	}
	return &c
}

// Create implements job.Store.
func (s *Store) Create(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := j.ID.String()
	if _, exists := s.jobs[key]; exists {
		return fmt.Errorf("%w: %s", adreel.ErrJobAlreadyExists, j.ID)
	}
	s.jobs[key] = clone(j)
	return nil
}

// Get implements job.Store.
func (s *Store) Get(_ context.Context, jobID id.JobID) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", adreel.ErrJobNotFound, jobID)
	}
	return clone(j), nil
}

// Update implements job.Store. Updates against a terminal job are
// rejected with adreel.ErrInvalidState.
func (s *Store) Update(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := j.ID.String()
	stored, ok := s.jobs[key]
	if !ok {
		return fmt.Errorf("%w: %s", adreel.ErrJobNotFound, j.ID)
	}
	if stored.State.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", adreel.ErrInvalidState, j.ID, stored.State)
	}
	j.UpdatedAt = time.Now().UTC()
	s.jobs[key] = clone(j)
	return nil
}

// Dequeue implements job.Store. Runnable jobs are ordered by priority
// descending, then RunAt ascending.
func (s *Store) Dequeue(_ context.Context, workerID id.WorkerID, queues []string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(queues))
	for _, q := range queues {
		wanted[q] = true
	}

	now := time.Now().UTC()
	var runnable []*job.Job
	for _, j := range s.jobs {
		if j.State == job.StateQueued && wanted[j.Queue] && !j.RunAt.After(now) {
			runnable = append(runnable, j)
		}
	}
	if len(runnable) == 0 {
		return nil, nil
	}
	sort.Slice(runnable, func(i, k int) bool {
		if runnable[i].Priority != runnable[k].Priority {
			return runnable[i].Priority > runnable[k].Priority
		}
		return runnable[i].RunAt.Before(runnable[k].RunAt)
	})

	next := runnable[0]
	next.State = job.StateRunning
	next.WorkerID = workerID
	next.StartedAt = &now
	next.HeartbeatAt = &now
	next.UpdatedAt = now
	return clone(next), nil
}

// Heartbeat implements job.Store.
func (s *Store) Heartbeat(_ context.Context, jobID id.JobID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID.String()]
	if !ok {
		return fmt.Errorf("%w: %s", adreel.ErrJobNotFound, jobID)
	}
	at = at.UTC()
	j.HeartbeatAt = &at
	return nil
}

// Stale implements job.Store.
func (s *Store) Stale(_ context.Context, cutoff time.Time) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stale []*job.Job
	for _, j := range s.jobs {
		if j.State == job.StateRunning && j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, clone(j))
		}
	}
	return stale, nil
}

// Close implements job.Store.
func (s *Store) Close() error { return nil }
