// Package job defines the job entity, state machine, typed definitions,
// and store interface.
//
// # Job Entity
//
// A [Job] represents a unit of deferred work. It embeds [conveyor.Entity]
// for timestamps, carries an opaque payload, and progresses through a
// state machine:
//
//	scheduled → in_progress → complete
//	scheduled → in_progress → error → retry → in_progress → ...
//	scheduled → in_progress → error → ... → dead
//	scheduled → in_progress → timed_out → retry → ...
//	scheduled → in_progress → panicked
//	scheduled → cancelled
//
// A retry never rewrites the failed attempt: the store inserts a new Job
// row with CurrentAttempt+1 and links the two through PreviousID/NextID,
// preserving an auditable attempt chain.
//
// Fields of note:
//   - Queue: which worker pool services the job
//   - UniqueKey: optional deduplication token; at most one active job per key
//   - CurrentAttempt / MaxAttempts: attempt budget (default 3)
//   - AttemptRunAt: earliest claim time, advanced by backoff on retry
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is serialized by the
// configured codec at enqueue time and decoded before the handler runs:
//
//	var SendWelcome = job.NewDefinition("send_welcome",
//	    func(ctx context.Context, input WelcomeInput) error {
//	        return mailer.Send(input.To, input.Subject)
//	    },
//	    job.WithQueue("mail"),
//	).WithUniqueKey(func(input WelcomeInput) string { return input.To })
//
// # Registry
//
// [Registry] maps job names to type-erased [HandlerFunc] values and
// records each type's queue binding. Register definitions at startup via
// [RegisterDefinition]; the engine package provides higher-level
// engine.Register and engine.Enqueue wrappers. A job name found in the
// store with no registry entry is a fatal worker error: the registry and
// the stored data have diverged.
package job
