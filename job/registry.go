package job

import (
	"context"
	"sort"
	"sync"
	"time"
)

// HandlerFunc is a type-erased job handler that accepts the raw stored
// payload. The typed Definition[T] is converted to a HandlerFunc at
// registration time by closing over codec decode + the typed handler.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Binding records the queue and policy a job type was registered with.
// The worker pool uses bindings to validate queue configuration before
// starting and to scope each worker's claim to its queue's job types.
type Binding struct {
	Queue       string
	MaxAttempts int
	Timeout     time.Duration
}

type entry struct {
	handler HandlerFunc
	binding Binding
}

// Registry maps job names to type-erased handler functions and their
// bindings. It is safe for concurrent use and read-only after the pool
// starts.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
	}
}

// RegisterDefinition registers a typed job definition. The generic handler
// is wrapped in a closure that decodes the payload into T before calling
// the typed handler. A decode failure is reported as a *DecodeError so the
// executor can classify it as terminal.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	codec := def.Opts.Codec
	if codec == nil {
		codec = JSONCodec{}
	}

	handler := func(ctx context.Context, payload []byte) error {
		var t T
		if len(payload) > 0 {
			if err := codec.Unmarshal(payload, &t); err != nil {
				return &DecodeError{JobName: def.Name, Codec: codec.Name(), Err: err}
			}
		}
		return def.Handler(ctx, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = entry{
		handler: handler,
		binding: Binding{
			Queue:       def.Opts.Queue,
			MaxAttempts: def.Opts.MaxAttempts,
			Timeout:     def.Opts.Timeout,
		},
	}
}

// Get returns the handler for the given job name.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.handler, ok
}

// Binding returns the registration binding for the given job name.
func (r *Registry) Binding(name string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.binding, ok
}

// Names returns all registered job names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NamesForQueue returns the job names registered against the given queue,
// sorted. Workers claim only these names from their queue.
func (r *Registry) NamesForQueue(queue string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, e := range r.entries {
		if e.binding.Queue == queue {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Queues returns the distinct queue names job types are bound to, sorted.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, e := range r.entries {
		seen[e.binding.Queue] = struct{}{}
	}
	queues := make([]string, 0, len(seen))
	for q := range seen {
		queues = append(queues, q)
	}
	sort.Strings(queues)
	return queues
}
