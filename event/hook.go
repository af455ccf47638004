package event

import (
	"context"
	"time"

	"github.com/relaymill/conveyor/job"
)

// BusHook forwards job lifecycle notifications to a Bus. Register it
// with the hook registry to make every transition observable over the
// bus without coupling the worker pool to a transport.
type BusHook struct {
	bus Bus
}

// NewBusHook wraps a Bus as a lifecycle hook.
func NewBusHook(bus Bus) *BusHook {
	return &BusHook{bus: bus}
}

func (h *BusHook) Name() string { return "event-bus" }

func (h *BusHook) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return h.bus.Publish(ctx, New(KindEnqueued, j))
}

func (h *BusHook) OnJobStarted(ctx context.Context, j *job.Job) error {
	return h.bus.Publish(ctx, New(KindStarted, j))
}

func (h *BusHook) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	return h.bus.Publish(ctx, New(KindCompleted, j))
}

func (h *BusHook) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
	evt := New(KindFailed, j)
	if err != nil {
		evt.Error = err.Error()
	}
	return h.bus.Publish(ctx, evt)
}

func (h *BusHook) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, _ time.Time) error {
	evt := New(KindRetrying, j)
	evt.Attempt = attempt
	return h.bus.Publish(ctx, evt)
}

func (h *BusHook) OnJobPanicked(ctx context.Context, j *job.Job, _ any) error {
	return h.bus.Publish(ctx, New(KindPanicked, j))
}

func (h *BusHook) OnJobTimedOut(ctx context.Context, j *job.Job) error {
	return h.bus.Publish(ctx, New(KindTimedOut, j))
}
