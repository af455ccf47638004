// Package cron periodically enqueues registered job types on cron
// schedules. The scheduler is in-process and stateless: dedup across
// restarts rides the queue's unique-key mechanism, with one key per entry
// per tick.
package cron
