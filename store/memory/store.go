// Package memory implements store.Store fully in memory. Safe for
// concurrent access. Intended for unit testing and development; nothing
// survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/relaymill/conveyor"
	"github.com/relaymill/conveyor/backoff"
	"github.com/relaymill/conveyor/id"
	"github.com/relaymill/conveyor/job"
	"github.com/relaymill/conveyor/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithBackoff sets the retry backoff strategy.
func WithBackoff(bo backoff.Strategy) Option {
	return func(s *Store) { s.backoff = bo }
}

// Store is a mutex-guarded in-memory job store.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*job.Job
	backoff backoff.Strategy
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs:    make(map[string]*job.Job),
		backoff: backoff.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// EnqueueJob persists a new job in Scheduled state. The uniqueness check
// and the insert happen under one lock acquisition, so two concurrent
// enqueues with the same unique key cannot both succeed.
func (s *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := j.ID.String()
	if _, exists := s.jobs[key]; exists {
		return conveyor.ErrJobAlreadyExists
	}

	if j.UniqueKey != "" {
		for _, existing := range s.jobs {
			if existing.UniqueKey == j.UniqueKey && existing.State.IsActive() {
				return conveyor.ErrDuplicateJob
			}
		}
	}

	cp := *j
	if cp.State == "" {
		cp.State = job.StateScheduled
	}
	s.jobs[key] = &cp
	return nil
}

// NextJob claims the earliest-eligible job for the queue among the given
// names. The claim happens under the write lock, so no two workers can
// take the same job.
func (s *Store) NextJob(_ context.Context, queueName string, names []string, workerID id.WorkerID) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nameSet := make(map[string]struct{}, len(names))
	for _, n := range names {
		nameSet[n] = struct{}{}
	}

	now := time.Now().UTC()
	var candidates []*job.Job
	for _, j := range s.jobs {
		if j.State != job.StateScheduled && j.State != job.StateRetry {
			continue
		}
		if j.Queue != queueName {
			continue
		}
		if _, ok := nameSet[j.Name]; !ok {
			continue
		}
		if j.AttemptRunAt.After(now) {
			continue
		}
		candidates = append(candidates, j)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, k int) bool {
		if !candidates[i].AttemptRunAt.Equal(candidates[k].AttemptRunAt) {
			return candidates[i].AttemptRunAt.Before(candidates[k].AttemptRunAt)
		}
		return candidates[i].ScheduledAt.Before(candidates[k].ScheduledAt)
	})

	claimed := candidates[0]
	claimed.State = job.StateInProgress
	started := now
	claimed.StartedAt = &started
	claimed.WorkerID = workerID
	claimed.UpdatedAt = now

	// Return a copy so callers can mutate without racing with the store.
	cp := *claimed
	return &cp, nil
}

// RetryJob applies the retry decision to a job in Error or TimedOut
// state: mark Dead when the attempt budget is spent, otherwise insert a
// linked successor scheduled after backoff.
func (s *Store) RetryJob(_ context.Context, jobID id.JobID) (id.JobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return id.Nil, conveyor.ErrJobNotFound
	}
	if j.State != job.StateError && j.State != job.StateTimedOut {
		return id.Nil, conveyor.ErrRetryNotPermitted
	}
	if j.NextID != id.Nil {
		return id.Nil, conveyor.ErrRetryNotPermitted
	}

	now := time.Now().UTC()

	if j.CurrentAttempt >= j.MaxAttempts {
		j.State = job.StateDead
		finished := now
		j.FinishedAt = &finished
		j.UpdatedAt = now
		return id.Nil, nil
	}

	successor := &job.Job{
		Entity:         conveyor.NewEntity(),
		ID:             id.NewJobID(),
		Name:           j.Name,
		Queue:          j.Queue,
		UniqueKey:      j.UniqueKey,
		State:          job.StateRetry,
		CurrentAttempt: j.CurrentAttempt + 1,
		MaxAttempts:    j.MaxAttempts,
		Payload:        j.Payload,
		ScheduledAt:    j.ScheduledAt,
		AttemptRunAt:   now.Add(s.backoff.Delay(j.CurrentAttempt)),
		PreviousID:     j.ID,
	}
	j.NextID = successor.ID
	j.UpdatedAt = now

	s.jobs[successor.ID.String()] = successor
	return successor.ID, nil
}

// UpdateJobState resolves an InProgress attempt into the given state.
func (s *Store) UpdateJobState(_ context.Context, jobID id.JobID, state job.State, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return conveyor.ErrJobNotFound
	}
	if err := job.ValidateTransition(j.State, state); err != nil {
		return err
	}

	now := time.Now().UTC()
	j.State = state
	if lastError != "" {
		j.LastError = lastError
	}
	finished := now
	j.FinishedAt = &finished
	j.UpdatedAt = now
	return nil
}

// CancelJob marks an active job Cancelled.
func (s *Store) CancelJob(_ context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return conveyor.ErrJobNotFound
	}
	if !j.State.IsActive() {
		return conveyor.ErrInvalidTransition
	}

	now := time.Now().UTC()
	j.State = job.StateCancelled
	finished := now
	j.FinishedAt = &finished
	j.UpdatedAt = now
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, conveyor.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// ListJobsByState returns jobs matching the given state, ordered by
// creation time.
func (s *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, j := range s.jobs {
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		count++
	}
	return count, nil
}
