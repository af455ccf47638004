package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/relaymill/conveyor"
	"github.com/relaymill/conveyor/id"
	"github.com/relaymill/conveyor/job"
	"github.com/relaymill/conveyor/observability"
)

func newTestJob() *job.Job {
	return &job.Job{
		Entity:         conveyor.NewEntity(),
		ID:             id.NewJobID(),
		Name:           "send-email",
		Queue:          "default",
		State:          job.StateScheduled,
		CurrentAttempt: 1,
		MaxAttempts:    3,
	}
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsHookCountsLifecycle(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	h := observability.NewMetricsHookWithMeter(mp.Meter("test"))

	ctx := context.Background()
	j := newTestJob()

	if err := h.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("enqueued: %v", err)
	}
	if err := h.OnJobStarted(ctx, j); err != nil {
		t.Fatalf("started: %v", err)
	}
	if err := h.OnJobCompleted(ctx, j, time.Millisecond); err != nil {
		t.Fatalf("completed: %v", err)
	}
	if err := h.OnJobRetrying(ctx, j, 2, time.Now()); err != nil {
		t.Fatalf("retrying: %v", err)
	}
	if err := h.OnJobFailed(ctx, j, errors.New("boom")); err != nil {
		t.Fatalf("failed: %v", err)
	}
	if err := h.OnJobPanicked(ctx, j, "boom"); err != nil {
		t.Fatalf("panicked: %v", err)
	}
	if err := h.OnJobTimedOut(ctx, j); err != nil {
		t.Fatalf("timed out: %v", err)
	}

	for _, name := range []string{
		"conveyor.lifecycle.enqueued",
		"conveyor.lifecycle.started",
		"conveyor.lifecycle.completed",
		"conveyor.lifecycle.retried",
		"conveyor.lifecycle.failed",
		"conveyor.lifecycle.panicked",
		"conveyor.lifecycle.timed_out",
	} {
		if got := counterValue(t, reader, name); got != 1 {
			t.Fatalf("counter %s = %d, want 1", name, got)
		}
	}
}
