package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the authoritative in-memory map of job records. A single RWMutex
// guards the map; snapshots are returned by value so readers never observe a
// partially updated record.
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	created   int
	completed int
	now       func() time.Time
}

// NewStore constructs an empty job store.
func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

// Create inserts a queued job owned by the given identity key and returns its
// snapshot. Ids are random UUIDs so they stay unguessable to non-owners.
func (s *Store) Create(owner string, task Task) Job {
	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Owner:     owner,
		Task:      task,
		CreatedAt: s.now().UTC(),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.created++
	s.mu.Unlock()
	return *job
}

// MarkRunning moves a queued job to running and stamps StartedAt.
func (s *Store) MarkRunning(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if err := checkTransition(job.Status, StatusRunning); err != nil {
		return err
	}
	now := s.now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &now
	return nil
}

// Complete moves a running job to completed with its result.
func (s *Store) Complete(id string, result Result) error {
	return s.finish(id, StatusCompleted, &result, "")
}

// Fail moves a running job to failed with a descriptive message.
func (s *Store) Fail(id, message string) error {
	return s.finish(id, StatusFailed, nil, message)
}

func (s *Store) finish(id string, status Status, result *Result, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if err := checkTransition(job.Status, status); err != nil {
		return err
	}
	now := s.now().UTC()
	job.Status = status
	job.CompletedAt = &now
	job.Result = result
	job.Error = message
	s.completed++
	return nil
}

func checkTransition(from, to Status) error {
	if transitionAllowed(from, to) {
		return nil
	}
	if from.Terminal() {
		return fmt.Errorf("%w: job already %s", ErrAlreadyTerminal, from)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Get returns the job snapshot if the caller owns it. A non-owner lookup
// returns ErrAccessDenied, distinct from ErrNotFound.
func (s *Store) Get(id, owner string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	if job.Owner != owner {
		return Job{}, ErrAccessDenied
	}
	return *job, nil
}

// Snapshot returns the job snapshot without an ownership check. Callers that
// hold only an unguessable job id (watch streams) use this path.
func (s *Store) Snapshot(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// ListByOwner returns the owner's jobs newest first.
func (s *Store) ListByOwner(owner string) []Job {
	s.mu.RLock()
	out := make([]Job, 0)
	for _, job := range s.jobs {
		if job.Owner == owner {
			out = append(out, *job)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Counts returns created, completed, and active totals for the metrics
// endpoint. Eventually consistent with in-flight transitions.
func (s *Store) Counts() (created, completed, active int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		if !job.Status.Terminal() {
			active++
		}
	}
	return s.created, s.completed, active
}
