package conveyor

import "time"

// Config holds pool-wide timing configuration.
type Config struct {
	// PollInterval is how long an idle worker waits before polling again.
	// It also bounds shutdown latency: a worker observes the shutdown
	// signal at least this often.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for workers to finish
	// their current poll cycle on shutdown. Workers still running after
	// the timeout are abandoned rather than blocked on.
	ShutdownTimeout time.Duration

	// JobTimeout is the default per-job execution window. Jobs found
	// InProgress past this window by the reconciler are marked TimedOut
	// and retried. Job types may override it per definition.
	JobTimeout time.Duration

	// ReconcileInterval is how often the pool scans for InProgress jobs
	// that have exceeded their execution window.
	ReconcileInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:      250 * time.Millisecond,
		ShutdownTimeout:   5 * time.Second,
		JobTimeout:        30 * time.Second,
		ReconcileInterval: 10 * time.Second,
	}
}
