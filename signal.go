package conveyor

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// ShutdownContext returns a context that is cancelled when the process
// receives SIGINT or SIGTERM. The worker pool fans the cancellation out
// to every worker internally; callers pass the returned context to
// engine.Run or Pool.Run.
//
// The returned stop function releases the signal registration and should
// be deferred by the caller.
func ShutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
