// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware and resolves each
// attempt's outcome, and a Pool that runs per-queue sets of worker
// goroutines polling for jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaymill/conveyor"
	"github.com/relaymill/conveyor/hook"
	"github.com/relaymill/conveyor/id"
	"github.com/relaymill/conveyor/job"
	"github.com/relaymill/conveyor/middleware"
)

// Executor runs a single job through middleware and the registered
// handler, then resolves the attempt: state update, retry decision, and
// lifecycle hooks.
type Executor struct {
	registry *job.Registry
	hooks    *hook.Registry
	store    job.Store
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	hooks *hook.Registry,
	store job.Store,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry: registry,
		hooks:    hooks,
		store:    store,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs a claimed job through the middleware chain and handler,
// then resolves the attempt:
//
//   - nil error → Complete
//   - panic (surfaced as *middleware.PanicError) → Panicked, no retry
//   - undecodable payload (*job.DecodeError) → Dead, no retry
//   - deadline exceeded → TimedOut, then the retry decision
//   - any other error → Error, then the retry decision
//
// The returned error reports store failures while resolving the attempt,
// not the handler's own failure — that is captured in the Outcome.
func (e *Executor) Execute(ctx context.Context, j *job.Job) (Outcome, error) {
	handler, ok := e.registry.Get(j.Name)
	if !ok {
		// Claims are scoped to registered names, so this indicates a
		// registry/pool wiring bug rather than a bad job.
		return "", fmt.Errorf("%w: %s", conveyor.ErrUnknownJobType, j.Name)
	}

	start := time.Now()
	err := e.mw(ctx, j, func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	})
	elapsed := time.Since(start)

	if err == nil {
		return e.complete(ctx, j, elapsed)
	}

	var pe *middleware.PanicError
	if errors.As(err, &pe) {
		return e.panicked(ctx, j, pe)
	}

	var de *job.DecodeError
	if errors.As(err, &de) {
		return e.dead(ctx, j, de)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return e.timedOut(ctx, j, err)
	}

	return e.failed(ctx, j, err)
}

// HandleTimeout resolves a job the reconciler found stuck InProgress past
// its execution window: mark TimedOut, then apply the retry decision.
func (e *Executor) HandleTimeout(ctx context.Context, j *job.Job) (Outcome, error) {
	return e.timedOut(ctx, j, context.DeadlineExceeded)
}

func (e *Executor) complete(ctx context.Context, j *job.Job, elapsed time.Duration) (Outcome, error) {
	if err := e.store.UpdateJobState(ctx, j.ID, job.StateComplete, ""); err != nil {
		return "", fmt.Errorf("mark complete: %w", err)
	}
	j.State = job.StateComplete
	e.hooks.EmitJobCompleted(ctx, j, elapsed)
	return OutcomeCompleted, nil
}

func (e *Executor) panicked(ctx context.Context, j *job.Job, pe *middleware.PanicError) (Outcome, error) {
	if err := e.store.UpdateJobState(ctx, j.ID, job.StatePanicked, pe.Error()); err != nil {
		return "", fmt.Errorf("mark panicked: %w", err)
	}
	j.State = job.StatePanicked
	j.LastError = pe.Error()
	e.hooks.EmitJobPanicked(ctx, j, pe.Value)

	e.logger.Warn("job terminated by panic",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Any("panic", pe.Value),
	)
	return OutcomePanicked, nil
}

func (e *Executor) dead(ctx context.Context, j *job.Job, cause error) (Outcome, error) {
	if err := e.store.UpdateJobState(ctx, j.ID, job.StateDead, cause.Error()); err != nil {
		return "", fmt.Errorf("mark dead: %w", err)
	}
	j.State = job.StateDead
	j.LastError = cause.Error()
	e.hooks.EmitJobFailed(ctx, j, cause)

	e.logger.Error("job dead: payload could not be decoded",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("error", cause.Error()),
	)
	return OutcomeDead, nil
}

func (e *Executor) timedOut(ctx context.Context, j *job.Job, cause error) (Outcome, error) {
	if err := e.store.UpdateJobState(ctx, j.ID, job.StateTimedOut, cause.Error()); err != nil {
		return "", fmt.Errorf("mark timed out: %w", err)
	}
	j.State = job.StateTimedOut
	j.LastError = cause.Error()
	e.hooks.EmitJobTimedOut(ctx, j)

	outcome, err := e.retry(ctx, j, cause)
	if err != nil {
		return "", err
	}
	if outcome == OutcomeRetrying {
		return outcome, nil
	}
	return OutcomeTimedOut, nil
}

func (e *Executor) failed(ctx context.Context, j *job.Job, cause error) (Outcome, error) {
	if err := e.store.UpdateJobState(ctx, j.ID, job.StateError, cause.Error()); err != nil {
		return "", fmt.Errorf("mark error: %w", err)
	}
	j.State = job.StateError
	j.LastError = cause.Error()
	return e.retry(ctx, j, cause)
}

// retry applies the store's retry decision to a failed attempt and emits
// the matching hook.
func (e *Executor) retry(ctx context.Context, j *job.Job, cause error) (Outcome, error) {
	successorID, err := e.store.RetryJob(ctx, j.ID)
	if err != nil {
		return "", fmt.Errorf("retry decision: %w", err)
	}

	if successorID == id.Nil {
		e.hooks.EmitJobFailed(ctx, j, cause)
		e.logger.Warn("job dead: attempts exhausted",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Int("attempts", j.CurrentAttempt),
			slog.String("error", cause.Error()),
		)
		return OutcomeDead, nil
	}

	attempt := j.CurrentAttempt + 1
	nextRunAt := time.Now().UTC()
	if successor, getErr := e.store.GetJob(ctx, successorID); getErr == nil {
		attempt = successor.CurrentAttempt
		nextRunAt = successor.AttemptRunAt
	}
	e.hooks.EmitJobRetrying(ctx, j, attempt, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("successor_id", successorID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Time("next_run_at", nextRunAt),
	)
	return OutcomeRetrying, nil
}
