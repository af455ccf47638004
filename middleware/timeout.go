package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaymill/conveyor/job"
)

// Timeout returns middleware that enforces a per-job execution deadline.
// The deadline comes from the job type's registration binding; fallback is
// used for job types registered without an explicit timeout. When the
// deadline is exceeded the context is cancelled and the handler should
// return context.DeadlineExceeded.
func Timeout(logger *slog.Logger, reg *job.Registry, fallback time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		timeout := fallback
		if b, ok := reg.Binding(j.Name); ok && b.Timeout > 0 {
			timeout = b.Timeout
		}
		if timeout > 0 {
			logger.Debug("job timeout set",
				slog.String("job_id", j.ID.String()),
				slog.Duration("timeout", timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
