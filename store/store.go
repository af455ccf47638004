// Package store defines the aggregate persistence interface the engine is
// wired against. The job subsystem defines its own store contract in
// job.Store; this package adds the backend lifecycle on top. Backends:
// Postgres, SQLite, and Memory.
package store

import (
	"context"

	"github.com/relaymill/conveyor/job"
)

// Store is the aggregate persistence interface. A single backend
// implements the job contract plus its own lifecycle.
type Store interface {
	job.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
