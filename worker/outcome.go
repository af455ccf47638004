package worker

// Outcome is the resolution of a single job attempt.
type Outcome string

const (
	// OutcomeCompleted means the handler returned nil and the job is
	// Complete.
	OutcomeCompleted Outcome = "completed"
	// OutcomeRetrying means the attempt failed and a successor job was
	// scheduled.
	OutcomeRetrying Outcome = "retrying"
	// OutcomeDead means the attempt failed with no budget left, or the
	// payload could not be decoded, or no handler is registered.
	OutcomeDead Outcome = "dead"
	// OutcomePanicked means the handler panicked; the job is terminal.
	OutcomePanicked Outcome = "panicked"
	// OutcomeTimedOut means the attempt exceeded its execution window.
	// Whether it retries depends on the remaining attempt budget.
	OutcomeTimedOut Outcome = "timed_out"
)
