package event_test

import (
	"context"
	"testing"
	"time"

	"github.com/relaymill/conveyor/event"
	"github.com/relaymill/conveyor/id"
	"github.com/relaymill/conveyor/job"
)

func testJob() *job.Job {
	return &job.Job{
		ID:    id.NewJobID(),
		Name:  "send-email",
		Queue: "default",
		State: job.StateScheduled,
	}
}

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := event.NewMemoryBus()
	defer bus.Close()

	ctx := context.Background()
	ch, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	j := testJob()
	evt := event.New(event.KindEnqueued, j)
	if err := bus.Publish(ctx, evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.Kind != event.KindEnqueued {
			t.Errorf("Kind = %q, want %q", got.Kind, event.KindEnqueued)
		}
		if got.JobID != j.ID {
			t.Errorf("JobID = %s, want %s", got.JobID, j.ID)
		}
		if got.JobName != "send-email" {
			t.Errorf("JobName = %q, want %q", got.JobName, "send-email")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMemoryBus_NoSubscribersDrops(t *testing.T) {
	bus := event.NewMemoryBus()
	defer bus.Close()

	// Publishing without subscribers must not block or error.
	if err := bus.Publish(context.Background(), event.New(event.KindStarted, testJob())); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestMemoryBus_FullBufferDrops(t *testing.T) {
	bus := event.NewMemoryBus()
	defer bus.Close()

	ctx := context.Background()
	ch, _ := bus.Subscribe(ctx)

	// Overflow the subscriber buffer without draining it.
	for range 200 {
		if err := bus.Publish(ctx, event.New(event.KindStarted, testJob())); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	// Drain what was buffered; must be fewer than published.
	var got int
	for {
		select {
		case <-ch:
			got++
		default:
			if got == 0 {
				t.Fatal("expected some buffered events")
			}
			if got >= 200 {
				t.Fatalf("expected drops, got all %d events", got)
			}
			return
		}
	}
}

func TestMemoryBus_SubscriberCancellation(t *testing.T) {
	bus := event.NewMemoryBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := bus.Subscribe(ctx)
	cancel()

	// Channel must eventually close after cancellation.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscriber channel not closed after ctx cancel")
		}
	}
}

func TestMemoryBus_Close(t *testing.T) {
	bus := event.NewMemoryBus()

	ch, _ := bus.Subscribe(context.Background())
	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after bus Close")
	}

	// Publish after close is a no-op.
	if err := bus.Publish(context.Background(), event.New(event.KindStarted, testJob())); err != nil {
		t.Fatalf("Publish after close: %v", err)
	}
}

func TestBusHook_ForwardsLifecycle(t *testing.T) {
	bus := event.NewMemoryBus()
	defer bus.Close()

	ctx := context.Background()
	ch, _ := bus.Subscribe(ctx)

	h := event.NewBusHook(bus)
	j := testJob()

	if err := h.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	if err := h.OnJobCompleted(ctx, j, 5*time.Millisecond); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if err := h.OnJobRetrying(ctx, j, 2, time.Now()); err != nil {
		t.Fatalf("OnJobRetrying: %v", err)
	}

	wantKinds := []event.Kind{event.KindEnqueued, event.KindCompleted, event.KindRetrying}
	for i, want := range wantKinds {
		select {
		case got := <-ch:
			if got.Kind != want {
				t.Errorf("event %d: Kind = %q, want %q", i, got.Kind, want)
			}
			if want == event.KindRetrying && got.Attempt != 2 {
				t.Errorf("retry event Attempt = %d, want 2", got.Attempt)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}
