package cron

import (
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Entry describes a periodic enqueue: fire JobName with Payload on the
// given cron schedule. Name must be unique within a Scheduler; it keys the
// per-tick dedup so a tick fires at most one job even across restarts.
type Entry struct {
	// Name uniquely identifies the entry.
	Name string

	// Spec is a cron expression ("*/5 * * * *") or descriptor ("@hourly",
	// "@every 30s").
	Spec string

	// JobName is the registered job type to enqueue.
	JobName string

	// Payload is passed to the job as-is. May be nil.
	Payload []byte

	schedule cronlib.Schedule
	next     time.Time
}
