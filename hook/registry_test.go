package hook_test

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/relaymill/conveyor/hook"
	"github.com/relaymill/conveyor/id"
	"github.com/relaymill/conveyor/job"
)

// allEventsHook implements every lifecycle event for testing.
type allEventsHook struct {
	calls []string
}

func (h *allEventsHook) Name() string { return "all-events" }

func (h *allEventsHook) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	h.calls = append(h.calls, "OnJobEnqueued")
	return nil
}

func (h *allEventsHook) OnJobStarted(_ context.Context, _ *job.Job) error {
	h.calls = append(h.calls, "OnJobStarted")
	return nil
}

func (h *allEventsHook) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	h.calls = append(h.calls, "OnJobCompleted")
	return nil
}

func (h *allEventsHook) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	h.calls = append(h.calls, "OnJobFailed")
	return nil
}

func (h *allEventsHook) OnJobRetrying(_ context.Context, _ *job.Job, _ int, _ time.Time) error {
	h.calls = append(h.calls, "OnJobRetrying")
	return nil
}

func (h *allEventsHook) OnJobPanicked(_ context.Context, _ *job.Job, _ any) error {
	h.calls = append(h.calls, "OnJobPanicked")
	return nil
}

func (h *allEventsHook) OnJobTimedOut(_ context.Context, _ *job.Job) error {
	h.calls = append(h.calls, "OnJobTimedOut")
	return nil
}

func (h *allEventsHook) OnShutdown(_ context.Context) {
	h.calls = append(h.calls, "OnShutdown")
}

// startedOnlyHook implements a single event.
type startedOnlyHook struct {
	started int
}

func (h *startedOnlyHook) Name() string { return "started-only" }

func (h *startedOnlyHook) OnJobStarted(_ context.Context, _ *job.Job) error {
	h.started++
	return nil
}

// failingHook always errors; the registry must log and continue.
type failingHook struct{}

func (failingHook) Name() string { return "failing" }

func (failingHook) OnJobStarted(_ context.Context, _ *job.Job) error {
	return errors.New("hook exploded")
}

func testJob() *job.Job {
	return &job.Job{
		ID:    id.NewJobID(),
		Name:  "test-job",
		Queue: "default",
		State: job.StateScheduled,
	}
}

func TestRegistry_EmitsAllEvents(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	h := &allEventsHook{}
	r.Register(h)

	ctx := context.Background()
	j := testJob()

	r.EmitJobEnqueued(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j, errors.New("boom"))
	r.EmitJobRetrying(ctx, j, 2, time.Now())
	r.EmitJobPanicked(ctx, j, "runtime gone wrong")
	r.EmitJobTimedOut(ctx, j)
	r.EmitShutdown(ctx)

	want := []string{
		"OnJobEnqueued", "OnJobStarted", "OnJobCompleted", "OnJobFailed",
		"OnJobRetrying", "OnJobPanicked", "OnJobTimedOut", "OnShutdown",
	}
	if !reflect.DeepEqual(h.calls, want) {
		t.Errorf("calls = %v, want %v", h.calls, want)
	}
}

func TestRegistry_PartialHookOnlySeesItsEvents(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	h := &startedOnlyHook{}
	r.Register(h)

	ctx := context.Background()
	j := testJob()

	// None of these should touch the hook.
	r.EmitJobEnqueued(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitShutdown(ctx)

	r.EmitJobStarted(ctx, j)
	r.EmitJobStarted(ctx, j)

	if h.started != 2 {
		t.Errorf("started = %d, want 2", h.started)
	}
}

func TestRegistry_HookErrorDoesNotStopOthers(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	r.Register(failingHook{})
	other := &startedOnlyHook{}
	r.Register(other)

	r.EmitJobStarted(context.Background(), testJob())

	if other.started != 1 {
		t.Error("expected later hook to run despite earlier hook error")
	}
}

func TestRegistry_Hooks(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	r.Register(&allEventsHook{})
	r.Register(&startedOnlyHook{})

	if got := len(r.Hooks()); got != 2 {
		t.Errorf("len(Hooks()) = %d, want 2", got)
	}
}
