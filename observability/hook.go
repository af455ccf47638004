package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/relaymill/conveyor/hook"
	"github.com/relaymill/conveyor/job"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/relaymill/conveyor/observability"

// Compile-time interface checks.
var (
	_ hook.Hook         = (*MetricsHook)(nil)
	_ hook.JobEnqueued  = (*MetricsHook)(nil)
	_ hook.JobStarted   = (*MetricsHook)(nil)
	_ hook.JobCompleted = (*MetricsHook)(nil)
	_ hook.JobFailed    = (*MetricsHook)(nil)
	_ hook.JobRetrying  = (*MetricsHook)(nil)
	_ hook.JobPanicked  = (*MetricsHook)(nil)
	_ hook.JobTimedOut  = (*MetricsHook)(nil)
)

// MetricsHook records queue-wide lifecycle counters via OTel. It
// complements the per-execution duration histogram in the middleware
// package: hook counters see every lifecycle transition, including ones
// that never reach a handler (enqueue, reconciler timeouts).
//
// Counters, each with job_name and queue attributes:
//   - conveyor.lifecycle.enqueued
//   - conveyor.lifecycle.started
//   - conveyor.lifecycle.completed
//   - conveyor.lifecycle.failed (job went Dead)
//   - conveyor.lifecycle.retried
//   - conveyor.lifecycle.panicked
//   - conveyor.lifecycle.timed_out
type MetricsHook struct {
	enqueued  metric.Int64Counter
	started   metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	retried   metric.Int64Counter
	panicked  metric.Int64Counter
	timedOut  metric.Int64Counter
}

// NewMetricsHook creates a MetricsHook on the global MeterProvider.
func NewMetricsHook() *MetricsHook {
	return NewMetricsHookWithMeter(otel.Meter(meterName))
}

// NewMetricsHookWithMeter creates a MetricsHook with the provided meter.
// Instrument creation errors yield noop instruments, so the hook degrades
// gracefully when no SDK is installed.
func NewMetricsHookWithMeter(meter metric.Meter) *MetricsHook {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsHook{
		enqueued:  counter("conveyor.lifecycle.enqueued", "Jobs enqueued"),
		started:   counter("conveyor.lifecycle.started", "Job attempts claimed by workers"),
		completed: counter("conveyor.lifecycle.completed", "Jobs completed successfully"),
		failed:    counter("conveyor.lifecycle.failed", "Jobs that went dead"),
		retried:   counter("conveyor.lifecycle.retried", "Failed attempts that scheduled a retry"),
		panicked:  counter("conveyor.lifecycle.panicked", "Handler panics caught"),
		timedOut:  counter("conveyor.lifecycle.timed_out", "Jobs reclaimed after exceeding their execution window"),
	}
}

func (m *MetricsHook) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("job_name", j.Name),
		attribute.String("queue", j.Queue),
	)
}

func (m *MetricsHook) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.enqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

func (m *MetricsHook) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.started.Add(ctx, 1, jobAttrs(j))
	return nil
}

func (m *MetricsHook) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.completed.Add(ctx, 1, jobAttrs(j))
	return nil
}

func (m *MetricsHook) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.failed.Add(ctx, 1, jobAttrs(j))
	return nil
}

func (m *MetricsHook) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, jobAttrs(j))
	return nil
}

func (m *MetricsHook) OnJobPanicked(ctx context.Context, j *job.Job, _ any) error {
	m.panicked.Add(ctx, 1, jobAttrs(j))
	return nil
}

func (m *MetricsHook) OnJobTimedOut(ctx context.Context, j *job.Job) error {
	m.timedOut.Add(ctx, 1, jobAttrs(j))
	return nil
}
