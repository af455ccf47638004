package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/relaymill/conveyor/job"
)

// PanicError is returned by the Recover middleware when a job handler
// panics. The executor detects it with errors.As and moves the job to the
// panicked state instead of the ordinary error/retry path.
type PanicError struct {
	JobName string
	Value   any
	Stack   []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in job %s: %v", e.JobName, e.Value)
}

// Recover returns middleware that recovers from panics in the handler chain.
// A panic is converted to a *PanicError carrying the recovered value and the
// goroutine stack, and logged. Worker goroutines never crash on a panicking
// handler.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				logger.Error("job handler panicked",
					slog.String("job_name", j.Name),
					slog.String("job_id", j.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(stack)),
				)
				retErr = &PanicError{JobName: j.Name, Value: r, Stack: stack}
			}
		}()
		return next(ctx)
	}
}
