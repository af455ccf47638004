// Package engine wires the conveyor subsystems together: job registry,
// middleware chain, worker pool, event bus, and cron scheduler over a
// single store.
//
// This package exists to break the import cycle: the root conveyor
// package defines Entity and Config (imported by job, worker, etc.) and
// so cannot import those packages back. The engine sits above all
// subsystem packages and below the application layer.
//
// Typical use:
//
//	st := memory.New()
//	eng, err := engine.New(st,
//		engine.WithQueue(queue.Config{Name: "default", WorkerCount: 4}),
//	)
//	engine.Register(eng, sendEmail)
//	...
//	ctx, stop := conveyor.ShutdownContext(context.Background())
//	defer stop()
//	err = eng.Run(ctx)
package engine
