// Package dlq inspects and replays the queue's dead letters. A job that
// went Dead or Panicked is never retried in place; Replay enqueues a
// fresh copy with a reset attempt budget instead.
package dlq
