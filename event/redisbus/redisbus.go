// Package redisbus implements event.Bus on Redis Pub/Sub. Redis Pub/Sub
// is fire-and-forget, which matches the bus contract: delivery is at most
// once and a publish while no subscriber is connected is simply dropped.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	bus := redisbus.New(client)
//	defer bus.Close()
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/relaymill/conveyor/event"
)

// DefaultChannel is the Redis channel lifecycle events are published on.
const DefaultChannel = "conveyor:events"

// Compile-time interface check.
var _ event.Bus = (*Bus)(nil)

// Option configures the Bus.
type Option func(*Bus)

// WithChannel overrides the Redis channel name.
func WithChannel(channel string) Option {
	return func(b *Bus) { b.channel = channel }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// Bus publishes lifecycle events over Redis Pub/Sub. The caller owns the
// Redis client lifecycle; Close stops subscriptions but does not close
// the client.
type Bus struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// New creates a Redis-backed event bus.
func New(client redis.UniversalClient, opts ...Option) *Bus {
	b := &Bus{
		client:  client,
		channel: DefaultChannel,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Publish serializes the event as JSON and publishes it on the bus channel.
func (b *Bus) Publish(ctx context.Context, evt event.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("conveyor/redisbus: marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("conveyor/redisbus: publish: %w", err)
	}
	return nil
}

// Subscribe opens a Redis subscription and returns a channel of decoded
// events. The channel closes when ctx is cancelled or the bus is closed.
// Messages that fail to decode are logged and skipped.
func (b *Bus) Subscribe(ctx context.Context) (<-chan event.Event, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ch := make(chan event.Event)
		close(ch)
		return ch, nil
	}
	sub := b.client.Subscribe(ctx, b.channel)
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	// Force the subscription to be established before returning so a
	// publish immediately after Subscribe is not lost.
	if _, err := sub.Receive(ctx); err != nil {
		b.dropSub(sub)
		_ = sub.Close()
		return nil, fmt.Errorf("conveyor/redisbus: subscribe: %w", err)
	}

	out := make(chan event.Event, 64)
	go func() {
		defer close(out)
		defer b.dropSub(sub)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt event.Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					b.logger.Warn("dropping undecodable bus event",
						slog.String("channel", b.channel),
						slog.String("error", err.Error()),
					)
					continue
				}
				select {
				case out <- evt:
				default:
					// Subscriber is not keeping up; drop.
				}
			}
		}
	}()

	return out, nil
}

func (b *Bus) dropSub(sub *redis.PubSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Close stops all subscriptions. The Redis client itself stays open.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}
