// Package event provides best-effort pub/sub notifications for job
// lifecycle transitions. Delivery is at most once: a slow or absent
// subscriber never blocks or fails job processing.
package event

import (
	"time"

	"github.com/relaymill/conveyor/id"
	"github.com/relaymill/conveyor/job"
)

// Kind identifies a lifecycle transition.
type Kind string

const (
	KindEnqueued  Kind = "job.enqueued"
	KindStarted   Kind = "job.started"
	KindCompleted Kind = "job.completed"
	KindFailed    Kind = "job.failed"
	KindRetrying  Kind = "job.retrying"
	KindPanicked  Kind = "job.panicked"
	KindTimedOut  Kind = "job.timed_out"
	KindCancelled Kind = "job.cancelled"
)

// Event is a single lifecycle notification.
type Event struct {
	ID      id.EventID `json:"id"`
	Kind    Kind       `json:"kind"`
	JobID   id.JobID   `json:"job_id"`
	JobName string     `json:"job_name"`
	Queue   string     `json:"queue"`
	State   job.State  `json:"state"`
	Error   string     `json:"error,omitempty"`
	Attempt int        `json:"attempt"`
	At      time.Time  `json:"at"`
}

// New builds an event snapshot for the given job and transition kind.
func New(kind Kind, j *job.Job) Event {
	return Event{
		ID:      id.NewEventID(),
		Kind:    kind,
		JobID:   j.ID,
		JobName: j.Name,
		Queue:   j.Queue,
		State:   j.State,
		Error:   j.LastError,
		Attempt: j.CurrentAttempt,
		At:      time.Now().UTC(),
	}
}
