package job

import (
	"time"

	"github.com/relaymill/conveyor"
	"github.com/relaymill/conveyor/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateScheduled means the job is waiting to be claimed for its first
	// attempt.
	StateScheduled State = "scheduled"
	// StateInProgress means a worker has claimed the job and is executing it.
	StateInProgress State = "in_progress"
	// StateError means the handler returned an error; a retry decision is
	// pending or has produced a successor job.
	StateError State = "error"
	// StateRetry means the job is a retry attempt waiting to become
	// eligible at AttemptRunAt.
	StateRetry State = "retry"
	// StateTimedOut means the job exceeded its execution window while
	// InProgress and was reclaimed by the reconciler.
	StateTimedOut State = "timed_out"
	// StatePanicked means the handler panicked. Terminal: the handler is
	// presumed structurally broken and the job is not retried.
	StatePanicked State = "panicked"
	// StateCancelled means the job was explicitly cancelled.
	StateCancelled State = "cancelled"
	// StateComplete means the job finished successfully.
	StateComplete State = "complete"
	// StateDead means the job exhausted its attempts or its payload could
	// not be decoded. Terminal.
	StateDead State = "dead"
)

// ActiveStates are the states that count against a unique key: at most one
// job per key may be in any of these at a time.
var ActiveStates = []State{StateScheduled, StateInProgress, StateRetry}

// ClaimableStates are the states a worker may claim a job from.
var ClaimableStates = []State{StateScheduled, StateRetry}

// IsTerminal reports whether s is a final state: the job will never run
// again and FinishedAt is set.
func (s State) IsTerminal() bool {
	switch s {
	case StatePanicked, StateCancelled, StateComplete, StateDead:
		return true
	}
	return false
}

// IsActive reports whether s counts against the job's unique key.
func (s State) IsActive() bool {
	switch s {
	case StateScheduled, StateInProgress, StateRetry:
		return true
	}
	return false
}

// ValidateTransition enforces the caller-visible state machine: jobs leave
// InProgress through UpdateJobState and may never return to Scheduled or
// InProgress that way (those transitions belong to the store's claim path).
// Shared by all store backends.
func ValidateTransition(from, to State) error {
	if from != StateInProgress {
		return conveyor.ErrInvalidTransition
	}
	switch to {
	case StateScheduled, StateInProgress, StateRetry:
		return conveyor.ErrInvalidTransition
	}
	return nil
}

// Job represents a persisted unit of deferred work. Jobs are immutable
// once persisted except for state bookkeeping: a retry creates a new Job
// row linked through PreviousID/NextID rather than rewriting history.
type Job struct {
	conveyor.Entity

	ID             id.JobID    `json:"id"`
	Name           string      `json:"name"`
	Queue          string      `json:"queue"`
	UniqueKey      string      `json:"unique_key,omitempty"`
	State          State       `json:"state"`
	CurrentAttempt int         `json:"current_attempt"`
	MaxAttempts    int         `json:"max_attempts"`
	Payload        []byte      `json:"payload"`
	LastError      string      `json:"last_error,omitempty"`
	WorkerID       id.WorkerID `json:"worker_id,omitempty"`
	ScheduledAt    time.Time   `json:"scheduled_at"`
	AttemptRunAt   time.Time   `json:"attempt_run_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	FinishedAt     *time.Time  `json:"finished_at,omitempty"`

	// Retry chain links. PreviousID points at the attempt this job
	// retries; NextID is set on the predecessor when a successor exists.
	PreviousID id.JobID `json:"previous_id,omitempty"`
	NextID     id.JobID `json:"next_id,omitempty"`
}
