package audithook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/relaymill/conveyor/hook"
	"github.com/relaymill/conveyor/id"
	"github.com/relaymill/conveyor/job"
)

// Compile-time interface checks.
var (
	_ hook.Hook         = (*Hook)(nil)
	_ hook.JobEnqueued  = (*Hook)(nil)
	_ hook.JobStarted   = (*Hook)(nil)
	_ hook.JobCompleted = (*Hook)(nil)
	_ hook.JobFailed    = (*Hook)(nil)
	_ hook.JobRetrying  = (*Hook)(nil)
	_ hook.JobPanicked  = (*Hook)(nil)
	_ hook.JobTimedOut  = (*Hook)(nil)
)

// Event is one audit record: what happened to which job, when.
type Event struct {
	Action  string    `json:"action"`
	JobID   id.JobID  `json:"job_id"`
	JobName string    `json:"job_name"`
	Queue   string    `json:"queue"`
	State   string    `json:"state"`
	Attempt int       `json:"attempt"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Recorder persists audit events. Implementations must be safe for
// concurrent use; hooks fire from every worker goroutine.
type Recorder interface {
	Record(ctx context.Context, event *Event) error
}

// RecorderFunc adapts a plain function to a Recorder.
type RecorderFunc func(ctx context.Context, event *Event) error

func (f RecorderFunc) Record(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// NewWriterRecorder returns a Recorder that appends one JSON line per
// event to w, guarding writes with a mutex.
func NewWriterRecorder(w io.Writer) Recorder {
	var mu sync.Mutex
	return RecorderFunc(func(_ context.Context, event *Event) error {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("conveyor/audit: marshal event: %w", err)
		}
		mu.Lock()
		defer mu.Unlock()
		if _, err := w.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("conveyor/audit: write event: %w", err)
		}
		return nil
	})
}

// Hook records every job lifecycle transition through a Recorder,
// producing an append-only audit trail of the queue.
type Hook struct {
	rec Recorder
}

// New creates an audit hook over the given recorder.
func New(rec Recorder) *Hook {
	return &Hook{rec: rec}
}

func (h *Hook) Name() string { return "audit" }

func (h *Hook) record(ctx context.Context, action string, j *job.Job, errText string) error {
	return h.rec.Record(ctx, &Event{
		Action:  action,
		JobID:   j.ID,
		JobName: j.Name,
		Queue:   j.Queue,
		State:   string(j.State),
		Attempt: j.CurrentAttempt,
		Error:   errText,
		At:      time.Now().UTC(),
	})
}

func (h *Hook) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return h.record(ctx, "job.enqueued", j, "")
}

func (h *Hook) OnJobStarted(ctx context.Context, j *job.Job) error {
	return h.record(ctx, "job.started", j, "")
}

func (h *Hook) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	return h.record(ctx, "job.completed", j, "")
}

func (h *Hook) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	errText := ""
	if jobErr != nil {
		errText = jobErr.Error()
	}
	return h.record(ctx, "job.failed", j, errText)
}

func (h *Hook) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	return h.record(ctx, "job.retrying", j, j.LastError)
}

func (h *Hook) OnJobPanicked(ctx context.Context, j *job.Job, panicValue any) error {
	return h.record(ctx, "job.panicked", j, fmt.Sprint(panicValue))
}

func (h *Hook) OnJobTimedOut(ctx context.Context, j *job.Job) error {
	return h.record(ctx, "job.timed_out", j, "")
}
