package worker_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relaymill/conveyor"
	"github.com/relaymill/conveyor/backoff"
	"github.com/relaymill/conveyor/hook"
	"github.com/relaymill/conveyor/id"
	"github.com/relaymill/conveyor/job"
	"github.com/relaymill/conveyor/middleware"
	"github.com/relaymill/conveyor/queue"
	"github.com/relaymill/conveyor/store/memory"
	"github.com/relaymill/conveyor/worker"
)

// fastConfig keeps pool timing tight so tests settle quickly.
func fastConfig() conveyor.Config {
	return conveyor.Config{
		PollInterval:      5 * time.Millisecond,
		ShutdownTimeout:   2 * time.Second,
		JobTimeout:        30 * time.Second,
		ReconcileInterval: 0, // reconciler exercised explicitly where needed
	}
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func enqueue(t *testing.T, s *memory.Store, reg *job.Registry, name string, payload []byte) id.JobID {
	t.Helper()
	b, ok := reg.Binding(name)
	if !ok {
		t.Fatalf("no binding for %q", name)
	}
	now := time.Now().UTC()
	j := &job.Job{
		Entity:         conveyor.NewEntity(),
		ID:             id.NewJobID(),
		Name:           name,
		Queue:          b.Queue,
		State:          job.StateScheduled,
		CurrentAttempt: 1,
		MaxAttempts:    b.MaxAttempts,
		Payload:        payload,
		ScheduledAt:    now,
		AttemptRunAt:   now,
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return j.ID
}

func stateOf(t *testing.T, s *memory.Store, jobID id.JobID) job.State {
	t.Helper()
	j, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return j.State
}

func newPool(t *testing.T, s *memory.Store, reg *job.Registry, opts ...worker.PoolOption) *worker.Pool {
	t.Helper()
	logger := testLogger()
	hooks := hook.NewRegistry(logger)
	e := worker.NewExecutor(reg, hooks, s, logger, middleware.Recover(logger))
	return worker.NewPool(s, reg, e, hooks, logger, opts...)
}

func TestPool_ExecutesJob(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()

	var ran atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("greet", func(_ context.Context, _ struct{}) error {
		ran.Store(true)
		return nil
	}))

	jobID := enqueue(t, s, reg, "greet", []byte(`{}`))

	p := newPool(t, s, reg, worker.WithConfig(fastConfig()))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(context.Background())

	waitFor(t, 2*time.Second, ran.Load, "job never ran")
	waitFor(t, 2*time.Second, func() bool {
		return stateOf(t, s, jobID) == job.StateComplete
	}, "job never completed")
}

func TestPool_RetriesUntilSuccess(t *testing.T) {
	s := memory.New(memory.WithBackoff(backoff.NewConstant(time.Millisecond)))
	reg := job.NewRegistry()

	var attempts atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition("flaky", func(_ context.Context, _ struct{}) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, job.WithMaxAttempts(5)))

	enqueue(t, s, reg, "flaky", []byte(`{}`))

	p := newPool(t, s, reg, worker.WithConfig(fastConfig()))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(context.Background())

	waitFor(t, 5*time.Second, func() bool {
		n, err := s.CountJobs(context.Background(), job.CountOpts{State: job.StateComplete})
		return err == nil && n == 1
	}, "retried job never completed")

	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestPool_AttemptBudgetIsBounded(t *testing.T) {
	s := memory.New(memory.WithBackoff(backoff.NewConstant(time.Millisecond)))
	reg := job.NewRegistry()

	var attempts atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition("doomed", func(_ context.Context, _ struct{}) error {
		attempts.Add(1)
		return errors.New("permanent")
	}, job.WithMaxAttempts(3)))

	enqueue(t, s, reg, "doomed", []byte(`{}`))

	p := newPool(t, s, reg, worker.WithConfig(fastConfig()))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(context.Background())

	waitFor(t, 5*time.Second, func() bool {
		n, err := s.CountJobs(context.Background(), job.CountOpts{State: job.StateDead})
		return err == nil && n == 1
	}, "job never went dead")

	// Give any stray extra attempt a chance to show up.
	time.Sleep(50 * time.Millisecond)
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want exactly 3", got)
	}
}

func TestPool_PanicDoesNotKillWorker(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()

	var survived atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("panicky", func(_ context.Context, _ struct{}) error {
		panic("handler bug")
	}))
	job.RegisterDefinition(reg, job.NewDefinition("survivor", func(_ context.Context, _ struct{}) error {
		survived.Store(true)
		return nil
	}))

	panicID := enqueue(t, s, reg, "panicky", []byte(`{}`))

	p := newPool(t, s, reg,
		worker.WithConfig(fastConfig()),
		worker.WithQueues(queue.Config{Name: "default", WorkerCount: 1}),
	)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(context.Background())

	waitFor(t, 2*time.Second, func() bool {
		return stateOf(t, s, panicID) == job.StatePanicked
	}, "panicked job not marked")

	// The single worker must still be alive to run the next job.
	enqueue(t, s, reg, "survivor", []byte(`{}`))
	waitFor(t, 2*time.Second, survived.Load, "worker died after panic")
}

func TestPool_PerQueueWorkersDoNotStarveEachOther(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()

	release := make(chan struct{})
	job.RegisterDefinition(reg, job.NewDefinition("blocker", func(_ context.Context, _ struct{}) error {
		<-release
		return nil
	}, job.WithQueue("slow")))

	var fastRan atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("quick", func(_ context.Context, _ struct{}) error {
		fastRan.Store(true)
		return nil
	}, job.WithQueue("fast")))

	enqueue(t, s, reg, "blocker", []byte(`{}`))
	enqueue(t, s, reg, "quick", []byte(`{}`))

	p := newPool(t, s, reg,
		worker.WithConfig(fastConfig()),
		worker.WithQueues(
			queue.Config{Name: "slow", WorkerCount: 1},
			queue.Config{Name: "fast", WorkerCount: 1},
		),
	)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		close(release)
		p.Stop(context.Background())
	}()

	// The fast queue's worker proceeds while the slow queue is wedged.
	waitFor(t, 2*time.Second, fastRan.Load, "fast queue starved by slow queue")
}

func TestPool_StartRejectsOrphanedQueue(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()

	job.RegisterDefinition(reg, job.NewDefinition("homeless", func(_ context.Context, _ struct{}) error {
		return nil
	}, job.WithQueue("ghost")))

	p := newPool(t, s, reg,
		worker.WithConfig(fastConfig()),
		worker.WithQueues(queue.Config{Name: "default", WorkerCount: 1}),
	)

	err := p.Start(context.Background())
	if !errors.Is(err, conveyor.ErrQueueNotConfigured) {
		t.Fatalf("expected ErrQueueNotConfigured, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "ghost") || !strings.Contains(err.Error(), "homeless") {
		t.Errorf("error should name the queue and its job types: %v", err)
	}
}

func TestPool_StartRejectsEmptyQueue(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()

	job.RegisterDefinition(reg, job.NewDefinition("work", func(_ context.Context, _ struct{}) error {
		return nil
	}))

	p := newPool(t, s, reg,
		worker.WithConfig(fastConfig()),
		worker.WithQueues(
			queue.Config{Name: "default", WorkerCount: 1},
			queue.Config{Name: "idle", WorkerCount: 2},
		),
	)

	if err := p.Start(context.Background()); err == nil {
		t.Fatal("expected error for queue with no job types")
	}
}

func TestPool_GracefulShutdownFinishesInflight(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()

	started := make(chan struct{})
	var finished atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("slowish", func(_ context.Context, _ struct{}) error {
		close(started)
		time.Sleep(150 * time.Millisecond)
		finished.Store(true)
		return nil
	}))

	jobID := enqueue(t, s, reg, "slowish", []byte(`{}`))

	p := newPool(t, s, reg, worker.WithConfig(fastConfig()))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-started
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if !finished.Load() {
		t.Error("in-flight job was not allowed to finish")
	}
	if got := stateOf(t, s, jobID); got != job.StateComplete {
		t.Errorf("State = %q, want %q", got, job.StateComplete)
	}
}

func TestPool_ShutdownTimeoutAbandonsStragglers(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	job.RegisterDefinition(reg, job.NewDefinition("wedged", func(_ context.Context, _ struct{}) error {
		close(started)
		<-release
		return nil
	}))

	enqueue(t, s, reg, "wedged", []byte(`{}`))

	cfg := fastConfig()
	cfg.ShutdownTimeout = 100 * time.Millisecond
	p := newPool(t, s, reg, worker.WithConfig(cfg))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-started
	stopStart := time.Now()
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(stopStart); elapsed > time.Second {
		t.Errorf("Stop took %v, want ~100ms bound", elapsed)
	}
}

func TestPool_ReconcilerReclaimsStuckJob(t *testing.T) {
	s := memory.New(memory.WithBackoff(backoff.NewConstant(time.Millisecond)))
	reg := job.NewRegistry()

	job.RegisterDefinition(reg, job.NewDefinition("abandoned", func(_ context.Context, _ struct{}) error {
		return nil
	}, job.WithTimeout(30*time.Millisecond), job.WithMaxAttempts(3)))

	// Simulate a job claimed by a crashed worker: claim it directly so it
	// sits InProgress with nobody executing it.
	jobID := enqueue(t, s, reg, "abandoned", []byte(`{}`))
	claimed, err := s.NextJob(context.Background(), "default", []string{"abandoned"}, id.NewWorkerID())
	if err != nil || claimed == nil || claimed.ID != jobID {
		t.Fatalf("manual claim failed: %v %+v", err, claimed)
	}

	cfg := fastConfig()
	cfg.ReconcileInterval = 10 * time.Millisecond
	p := newPool(t, s, reg, worker.WithConfig(cfg))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(context.Background())

	// The reconciler marks it TimedOut and schedules a successor, which a
	// worker then runs to completion.
	waitFor(t, 5*time.Second, func() bool {
		return stateOf(t, s, jobID) == job.StateTimedOut
	}, "stuck job never reclaimed")
	waitFor(t, 5*time.Second, func() bool {
		n, cntErr := s.CountJobs(context.Background(), job.CountOpts{State: job.StateComplete})
		return cntErr == nil && n == 1
	}, "reclaimed job never re-ran")
}

// failingClaimStore wraps the memory store with a claim that always errors.
type failingClaimStore struct {
	*memory.Store
}

func (f *failingClaimStore) NextJob(context.Context, string, []string, id.WorkerID) (*job.Job, error) {
	return nil, errors.New("connection refused")
}

func TestPool_FatalClaimErrorSurfacesFromStop(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()
	logger := testLogger()
	hooks := hook.NewRegistry(logger)

	job.RegisterDefinition(reg, job.NewDefinition("never", func(_ context.Context, _ struct{}) error {
		return nil
	}))

	fs := &failingClaimStore{Store: s}
	e := worker.NewExecutor(reg, hooks, fs, logger)
	p := worker.NewPool(fs, reg, e, hooks, logger, worker.WithConfig(fastConfig()))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The worker hits the claim error immediately and records it.
	time.Sleep(50 * time.Millisecond)
	err := p.Stop(context.Background())
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected fatal claim error from Stop, got %v", err)
	}
}

func TestPool_RateLimitedQueueStillDrains(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()

	var ran atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition("metered", func(_ context.Context, _ struct{}) error {
		ran.Add(1)
		return nil
	}))

	for range 3 {
		enqueue(t, s, reg, "metered", []byte(`{}`))
	}

	qc := queue.Config{Name: "default", WorkerCount: 2, RateLimit: 50, RateBurst: 1}
	p := newPool(t, s, reg,
		worker.WithConfig(fastConfig()),
		worker.WithQueues(qc),
		worker.WithQueueManager(queue.NewManager(qc)),
	)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(context.Background())

	waitFor(t, 5*time.Second, func() bool { return ran.Load() == 3 }, "rate-limited queue never drained")
}
