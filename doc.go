// Package conveyor provides a durable, at-least-once background job queue
// for Go. It offers per-queue worker pools, uniqueness constraints, bounded
// retries with exponential backoff, panic isolation, and cooperative
// graceful shutdown.
//
// Conveyor is designed as a library, not a service. Import it, configure a
// store, and register job types as ordinary Go functions.
//
// # Quick Start
//
//	eng, err := engine.New(pgStore,
//	    engine.WithQueue(queue.Config{Name: "default", WorkerCount: 4}),
//	)
//	engine.Register(eng, sendWelcomeEmail)
//	eng.Start(ctx)
//
// # Architecture
//
// Each subsystem (job, event) defines its own store interface; a single
// backend implements them. Jobs are immutable once persisted: a retry
// creates a new row linked to its predecessor, preserving an auditable
// attempt chain.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package conveyor
