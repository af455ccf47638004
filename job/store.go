package job

import (
	"context"

	"github.com/relaymill/conveyor/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence and claim-arbitration contract the queue
// engine is built on. All operations are fallible and never silently drop
// data; concrete backends wrap a SQL connection pool.
type Store interface {
	// EnqueueJob persists a new job in Scheduled state. When the job
	// carries a UniqueKey and another job with that key is active
	// (Scheduled, InProgress, or Retry), it returns
	// conveyor.ErrDuplicateJob without creating a record. The uniqueness
	// check and the insert are a single atomic operation.
	EnqueueJob(ctx context.Context, j *Job) error

	// NextJob atomically claims the earliest-eligible job on the given
	// queue among the given job type names. Eligible means state is
	// Scheduled or Retry and AttemptRunAt is not in the future; ties
	// break on earliest AttemptRunAt, then earliest ScheduledAt. The
	// claimed job is marked InProgress with StartedAt and WorkerID set as
	// part of the same operation, so no two workers can claim the same
	// job. Returns (nil, nil) when no job is eligible.
	NextJob(ctx context.Context, queue string, names []string, workerID id.WorkerID) (*Job, error)

	// RetryJob decides the fate of a failed attempt. Legal only from
	// Error or TimedOut. When the attempt budget is exhausted the job is
	// marked Dead and id.Nil is returned. Otherwise a successor job is
	// inserted with CurrentAttempt+1, state Retry, and AttemptRunAt
	// pushed out by the store's backoff strategy; predecessor and
	// successor are linked and the successor's ID returned.
	RetryJob(ctx context.Context, jobID id.JobID) (id.JobID, error)

	// UpdateJobState transitions an InProgress job to the given state,
	// recording lastError when non-empty. Scheduled, InProgress, and
	// Retry targets are store-internal and rejected with
	// conveyor.ErrInvalidTransition. Every allowed target ends the
	// attempt, so FinishedAt is set.
	UpdateJobState(ctx context.Context, jobID id.JobID, state State, lastError string) error

	// CancelJob marks a job Cancelled. Unlike UpdateJobState it accepts
	// jobs that have not been claimed yet: any active job may be
	// cancelled. Cancelling a terminal job returns
	// conveyor.ErrInvalidTransition.
	CancelJob(ctx context.Context, jobID id.JobID) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobsByState returns jobs matching the given state, ordered by
	// creation time.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
