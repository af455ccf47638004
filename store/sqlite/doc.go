// Package sqlite implements the conveyor store on SQLite via the CGO-free
// modernc driver. It is the zero-infrastructure backend: a single file
// serves local tooling, tests, and small deployments.
package sqlite
