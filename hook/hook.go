// Package hook defines lifecycle hooks for the job queue.
// Hooks are notified of lifecycle events (job enqueued, completed,
// panicked, etc.) and can react to them — logging, metrics, audit trails.
//
// Each lifecycle event is a separate interface so hooks opt in only to
// the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/relaymill/conveyor/job"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker claims a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job reaches Dead: attempts exhausted or the
// payload could not be decoded.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a failed attempt schedules a successor job.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobPanicked is called when a handler panic is caught. The job is
// terminal; the worker itself survives.
type JobPanicked interface {
	OnJobPanicked(ctx context.Context, j *job.Job, panicValue any) error
}

// JobTimedOut is called when the reconciler reclaims a job that exceeded
// its execution window.
type JobTimedOut interface {
	OnJobTimedOut(ctx context.Context, j *job.Job) error
}

// Shutdown is called once when the pool begins graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context)
}
