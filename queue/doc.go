// Package queue defines per-queue configuration and dequeue rate limiting.
//
// Queues are named channels that group related jobs. Jobs carry a Queue
// field that determines which queue they belong to; a job type's queue is
// fixed at registration time.
//
// # Per-Queue Configuration
//
// Use [Config] to size a queue's worker pool and cap its dequeue rate:
//
//	queue.Config{
//	    Name:        "email",
//	    WorkerCount: 5,      // 5 dedicated workers for email jobs
//	    RateLimit:   10,     // max 10 jobs/s dequeued from this queue
//	    RateBurst:   20,     // allow bursts up to 20
//	}
//
// Pass configs when building the engine:
//
//	engine.New(
//	    engine.WithQueue(queue.Config{Name: "critical", WorkerCount: 20}),
//	    engine.WithQueue(queue.Config{Name: "bulk", WorkerCount: 2, RateLimit: 5}),
//	)
//
// # Manager
//
// [Manager] enforces per-queue rate limits at dequeue time using a
// token-bucket limiter (golang.org/x/time/rate) and tracks active job
// counts per queue.
//
//	m := queue.NewManager(configs...)
//	if m.Acquire(queueName) {
//	    defer m.Release(queueName)
//	    // process the job
//	}
//
// Queues without a [Config] are not rate limited.
package queue
