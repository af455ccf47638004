package job

import "context"

// Definition is a typed job definition with a handler function.
// T is the payload type (must be serializable by the configured codec).
type Definition[T any] struct {
	// Name is the unique identifier for this job type.
	Name string

	// Handler is the function that processes the job payload.
	Handler func(ctx context.Context, payload T) error

	// UniqueKey is evaluated at enqueue time; a non-empty return value
	// becomes the job's unique key: while a job with that key is active,
	// further enqueues with the same key are deduplicated.
	UniqueKey func(payload T) string

	// Opts configures queue, attempt budget, timeout, and codec.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](name string, handler func(ctx context.Context, payload T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Name:    name,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}

// WithUniqueKey sets the unique-key accessor and returns the definition
// for chaining.
func (d *Definition[T]) WithUniqueKey(fn func(payload T) string) *Definition[T] {
	d.UniqueKey = fn
	return d
}
