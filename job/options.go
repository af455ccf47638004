package job

import "time"

// Options configures per-job-type behavior such as attempts, queue, and
// execution window.
type Options struct {
	// Queue is the queue name this job type is serviced by.
	Queue string

	// MaxAttempts bounds the total number of attempts (first run plus
	// retries) before the job is marked dead.
	MaxAttempts int

	// Timeout is the execution window after which an InProgress job is
	// considered stalled and reclaimed by the reconciler. Zero means the
	// pool-wide default applies.
	Timeout time.Duration

	// Codec serializes the payload. Defaults to JSON.
	Codec Codec
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Queue:       "default",
		MaxAttempts: 3,
		Codec:       JSONCodec{},
	}
}

// Option is a functional option for configuring a job definition.
type Option func(*Options)

// WithQueue sets the queue name for the job type.
func WithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithMaxAttempts sets the attempt budget for the job type.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithTimeout sets the execution window for the job type.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithCodec sets the payload codec for the job type.
func WithCodec(c Codec) Option {
	return func(o *Options) {
		o.Codec = c
	}
}
