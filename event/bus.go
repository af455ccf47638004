package event

import (
	"context"
	"sync"
)

// Bus publishes lifecycle events to subscribers. Implementations deliver
// at most once; events published while no subscriber is listening are
// dropped.
type Bus interface {
	// Publish delivers the event to current subscribers.
	Publish(ctx context.Context, evt Event) error

	// Subscribe returns a channel of events. The subscription ends when
	// ctx is cancelled or the bus is closed; the channel is closed in
	// both cases.
	Subscribe(ctx context.Context) (<-chan Event, error)

	// Close shuts the bus down and closes all subscriber channels.
	Close() error
}

// subscriberBuffer is the channel depth for each subscriber. Events
// beyond a full buffer are dropped rather than blocking the publisher.
const subscriberBuffer = 64

// MemoryBus is an in-process Bus fanning events out to per-subscriber
// buffered channels. Intended for tests, development, and single-process
// deployments.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
	done   chan struct{}
}

// NewMemoryBus creates an in-process event bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[int]chan Event),
		done: make(chan struct{}),
	}
}

// Publish fans the event out to all subscribers. A subscriber whose
// buffer is full misses the event.
func (b *MemoryBus) Publish(_ context.Context, evt Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscriber channel.
func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ch := make(chan Event)
		close(ch)
		return ch, nil
	}
	ch := make(chan Event, subscriberBuffer)
	sid := b.nextID
	b.nextID++
	b.subs[sid] = ch
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			b.remove(sid)
		case <-b.done:
		}
	}()

	return ch, nil
}

func (b *MemoryBus) remove(sid int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[sid]; ok {
		delete(b.subs, sid)
		close(ch)
	}
}

// Close closes all subscriber channels. Subsequent publishes are no-ops.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	for sid, ch := range b.subs {
		delete(b.subs, sid)
		close(ch)
	}
	return nil
}
