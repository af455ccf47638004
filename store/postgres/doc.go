// Package postgres implements the conveyor store on PostgreSQL using
// pgx. Claims use FOR UPDATE SKIP LOCKED so concurrent workers never
// block each other, and the unique-key dedup check rides a partial
// unique index so it stays atomic with the insert.
package postgres
