package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/relaymill/conveyor"
	"github.com/relaymill/conveyor/hook"
	"github.com/relaymill/conveyor/id"
	"github.com/relaymill/conveyor/job"
	"github.com/relaymill/conveyor/queue"
)

// QueueManager gates dequeues per queue. The pool calls Acquire before
// claiming a job and Release after the attempt resolves.
type QueueManager interface {
	Acquire(queue string) bool
	Release(queue string)
}

// Pool runs a dedicated set of worker goroutines per configured queue.
// Each worker claims only the job types registered against its queue, so
// a slow queue never starves another.
type Pool struct {
	store    job.Store
	registry *job.Registry
	executor *Executor
	hooks    *hook.Registry
	logger   *slog.Logger
	workerID id.WorkerID

	queues       []queue.Config
	queueManager QueueManager
	cfg          conveyor.Config

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// First fatal worker error, surfaced from Stop.
	fatalOnce sync.Once
	fatalErr  error
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithQueues sets the queue configurations the pool serves. Without this
// option the pool serves every registered queue with one worker each.
func WithQueues(configs ...queue.Config) PoolOption {
	return func(p *Pool) { p.queues = configs }
}

// WithQueueManager sets the manager used for per-queue rate limiting.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// WithConfig overrides the pool's timing configuration.
func WithConfig(cfg conveyor.Config) PoolOption {
	return func(p *Pool) { p.cfg = cfg }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	registry *job.Registry,
	executor *Executor,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:    store,
		registry: registry,
		executor: executor,
		hooks:    hooks,
		logger:   logger,
		workerID: id.NewWorkerID(),
		cfg:      conveyor.DefaultConfig(),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start validates the queue configuration and launches the worker
// goroutines plus the timeout reconciler. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	if len(p.queues) == 0 {
		for _, q := range p.registry.Queues() {
			p.queues = append(p.queues, queue.Config{Name: q, WorkerCount: 1})
		}
	}

	if err := p.validateQueues(); err != nil {
		return err
	}
	p.running = true

	total := 0
	for _, qc := range p.queues {
		names := p.registry.NamesForQueue(qc.Name)
		for i := range qc.Workers() {
			p.wg.Add(1)
			total++
			go p.runWorker(fmt.Sprintf("%s/%d", qc.Name, i), qc.Name, names)
		}
	}

	if p.cfg.ReconcileInterval > 0 {
		p.wg.Add(1)
		go p.reconcileLoop()
	}

	p.logger.Info("worker pool started",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("workers", total),
		slog.Int("queues", len(p.queues)),
	)
	return nil
}

// validateQueues requires every registered job type's queue to have a
// worker allocation, and every configured queue to have at least one job
// type. Misconfiguration is an error at startup, not a silently idle
// queue or a job type that never runs.
func (p *Pool) validateQueues() error {
	configured := make(map[string]bool, len(p.queues))
	for _, qc := range p.queues {
		configured[qc.Name] = true
	}

	var orphaned []string
	for _, q := range p.registry.Queues() {
		if !configured[q] {
			orphaned = append(orphaned, fmt.Sprintf("%s (job types: %s)",
				q, strings.Join(p.registry.NamesForQueue(q), ", ")))
		}
	}
	if len(orphaned) > 0 {
		return fmt.Errorf("%w: %s", conveyor.ErrQueueNotConfigured, strings.Join(orphaned, "; "))
	}

	for _, qc := range p.queues {
		if len(p.registry.NamesForQueue(qc.Name)) == 0 {
			return fmt.Errorf("queue %q has workers but no registered job types", qc.Name)
		}
	}
	return nil
}

// Stop signals all workers to stop and waits up to the configured
// shutdown timeout. Workers finish their in-flight attempt; stragglers
// past the deadline are abandoned with a warning (their jobs surface
// later through the timeout reconciler). Returns the first fatal worker
// error observed while running, if any.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)
	p.hooks.EmitShutdown(ctx)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.cfg.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
	case <-timer.C:
		p.logger.Warn("shutdown timeout exceeded, abandoning in-flight jobs",
			slog.Duration("timeout", p.cfg.ShutdownTimeout))
	case <-ctx.Done():
		p.logger.Warn("shutdown cancelled, abandoning in-flight jobs")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fatalErr
}

// runWorker is the poll loop for one worker goroutine. After finishing a
// job it polls again immediately; it idles for the poll interval only
// when the queue is empty or rate limited. A store error while claiming
// is fatal for this worker.
func (p *Pool) runWorker(name, queueName string, names []string) {
	defer p.wg.Done()

	logger := p.logger.With(slog.String("worker", name))
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if p.queueManager != nil && !p.queueManager.Acquire(queueName) {
			p.idle()
			continue
		}

		j, err := p.store.NextJob(context.Background(), queueName, names, p.workerID)
		if err != nil {
			if p.queueManager != nil {
				p.queueManager.Release(queueName)
			}
			logger.Error("claim failed, stopping worker", slog.String("error", err.Error()))
			p.recordFatal(fmt.Errorf("worker %s: claim: %w", name, err))
			return
		}

		if j == nil {
			if p.queueManager != nil {
				p.queueManager.Release(queueName)
			}
			p.idle()
			continue
		}

		p.hooks.EmitJobStarted(context.Background(), j)

		outcome, execErr := p.executor.Execute(context.Background(), j)
		if execErr != nil {
			logger.Error("attempt resolution failed",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.String("error", execErr.Error()),
			)
		} else {
			logger.Debug("job attempt resolved",
				slog.String("job_id", j.ID.String()),
				slog.String("outcome", string(outcome)),
			)
		}

		if p.queueManager != nil {
			p.queueManager.Release(queueName)
		}
	}
}

// reconcileLoop periodically reclaims InProgress jobs that outlived their
// execution window — the worker that held them crashed or is wedged past
// its deadline. Reclaimed jobs go through the ordinary retry decision.
func (p *Pool) reconcileLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reconcile()
		}
	}
}

func (p *Pool) reconcile() {
	ctx := context.Background()
	stuck, err := p.store.ListJobsByState(ctx, job.StateInProgress, job.ListOpts{})
	if err != nil {
		p.logger.Error("reconcile: list in-progress jobs", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, j := range stuck {
		if j.StartedAt == nil {
			continue
		}

		timeout := p.cfg.JobTimeout
		if b, ok := p.registry.Binding(j.Name); ok && b.Timeout > 0 {
			timeout = b.Timeout
		}
		if timeout <= 0 || now.Sub(*j.StartedAt) <= timeout {
			continue
		}

		outcome, handleErr := p.executor.HandleTimeout(ctx, j)
		if handleErr != nil {
			// Lost the race with the owning worker finishing the job;
			// nothing to reclaim.
			p.logger.Debug("reconcile: job resolved concurrently",
				slog.String("job_id", j.ID.String()),
				slog.String("error", handleErr.Error()),
			)
			continue
		}

		p.logger.Warn("reclaimed timed-out job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Duration("timeout", timeout),
			slog.String("outcome", string(outcome)),
		)
	}
}

func (p *Pool) idle() {
	select {
	case <-time.After(p.cfg.PollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) recordFatal(err error) {
	p.fatalOnce.Do(func() {
		p.mu.Lock()
		p.fatalErr = err
		p.mu.Unlock()
	})
}
