package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaymill/conveyor"
	"github.com/relaymill/conveyor/id"
	"github.com/relaymill/conveyor/job"
)

// Service provides inspection and replay over the queue's dead letters:
// jobs whose attempts were exhausted, whose payload could not be decoded,
// or whose handler panicked.
type Service struct {
	store  job.Store
	logger *slog.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a dead-letter service over the given store.
func NewService(store job.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns dead jobs, filtered and paginated via opts.
func (s *Service) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return s.store.ListJobsByState(ctx, job.StateDead, opts)
}

// Count returns the number of dead jobs, optionally per queue.
func (s *Service) Count(ctx context.Context, queueName string) (int64, error) {
	return s.store.CountJobs(ctx, job.CountOpts{Queue: queueName, State: job.StateDead})
}

// Replay enqueues a fresh copy of a dead or panicked job: same name,
// queue, payload, and attempt budget, but a new ID and a reset attempt
// counter. The original row is left untouched as history. The unique key
// is carried over, so a replay dedupes against any active duplicate.
func (s *Service) Replay(ctx context.Context, jobID id.JobID) (id.JobID, error) {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return id.Nil, err
	}
	if j.State != job.StateDead && j.State != job.StatePanicked {
		return id.Nil, fmt.Errorf("%w: replay requires a dead or panicked job, state is %s",
			conveyor.ErrRetryNotPermitted, j.State)
	}

	now := time.Now().UTC()
	replay := &job.Job{
		Entity:         conveyor.NewEntity(),
		ID:             id.NewJobID(),
		Name:           j.Name,
		Queue:          j.Queue,
		UniqueKey:      j.UniqueKey,
		State:          job.StateScheduled,
		CurrentAttempt: 1,
		MaxAttempts:    j.MaxAttempts,
		Payload:        j.Payload,
		ScheduledAt:    now,
		AttemptRunAt:   now,
	}
	if err := s.store.EnqueueJob(ctx, replay); err != nil {
		return id.Nil, fmt.Errorf("conveyor/dlq: replay job %s: %w", jobID, err)
	}

	s.logger.Info("dead job replayed",
		slog.String("job", j.Name),
		slog.String("original_id", jobID.String()),
		slog.String("replay_id", replay.ID.String()),
	)
	return replay.ID, nil
}
