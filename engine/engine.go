package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/relaymill/conveyor"
	"github.com/relaymill/conveyor/cron"
	"github.com/relaymill/conveyor/event"
	"github.com/relaymill/conveyor/hook"
	"github.com/relaymill/conveyor/id"
	"github.com/relaymill/conveyor/job"
	mw "github.com/relaymill/conveyor/middleware"
	"github.com/relaymill/conveyor/queue"
	"github.com/relaymill/conveyor/worker"
)

// Engine wires the registry, middleware chain, worker pool, event bus,
// and cron scheduler over a single job store.
type Engine struct {
	store    job.Store
	registry *job.Registry
	hooks    *hook.Registry
	pool     *worker.Pool
	logger   *slog.Logger
	cfg      conveyor.Config

	bus       event.Bus
	scheduler *cron.Scheduler

	mws         []mw.Middleware
	extraHooks  []hook.Hook
	cronEntries []cron.Entry

	queueConfigs []queue.Config
	queueManager *queue.Manager

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	started bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = logger }
}

// WithConfig sets the pool timing configuration.
func WithConfig(cfg conveyor.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithQueue declares a queue with its worker count and optional rate
// limit. Job types registered against undeclared queues cause Start to
// fail; without any WithQueue the engine runs one worker per registered
// queue.
func WithQueue(configs ...queue.Config) Option {
	return func(eng *Engine) { eng.queueConfigs = append(eng.queueConfigs, configs...) }
}

// WithMiddleware appends middleware to the default chain. User middleware
// runs innermost, after recovery, telemetry, logging, and timeout.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithEventBus publishes job lifecycle events to the given bus.
func WithEventBus(b event.Bus) Option {
	return func(eng *Engine) { eng.bus = b }
}

// WithHook registers a lifecycle hook.
func WithHook(h hook.Hook) Option {
	return func(eng *Engine) { eng.extraHooks = append(eng.extraHooks, h) }
}

// WithCron adds a periodic enqueue entry.
func WithCron(entries ...cron.Entry) Option {
	return func(eng *Engine) { eng.cronEntries = append(eng.cronEntries, entries...) }
}

// WithTracerProvider sets a custom OTel TracerProvider. When unset, the
// global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. When unset, the
// global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New builds an Engine over the given store.
func New(store job.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, conveyor.ErrNoStore
	}

	eng := &Engine{
		store:    store,
		registry: job.NewRegistry(),
		logger:   slog.Default(),
		cfg:      conveyor.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(eng)
	}

	eng.hooks = hook.NewRegistry(eng.logger)
	for _, h := range eng.extraHooks {
		eng.hooks.Register(h)
	}
	if eng.bus != nil {
		eng.hooks.Register(event.NewBusHook(eng.bus))
	}

	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/relaymill/conveyor"))
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/relaymill/conveyor"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default stack: recover → tracing → metrics → logging → timeout,
	// then user middleware innermost.
	allMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger, eng.registry, eng.cfg.JobTimeout),
	}
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.registry, eng.hooks, eng.store, eng.logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithConfig(eng.cfg),
	}
	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts,
			worker.WithQueues(eng.queueConfigs...),
			worker.WithQueueManager(eng.queueManager),
		)
	}
	eng.pool = worker.NewPool(eng.store, eng.registry, executor, eng.hooks, eng.logger, poolOpts...)

	if len(eng.cronEntries) > 0 {
		enqueue := func(ctx context.Context, name string, payload []byte, uniqueKey string) (id.JobID, error) {
			return eng.EnqueueRaw(ctx, name, payload, uniqueKey)
		}
		eng.scheduler = cron.NewScheduler(enqueue, cron.WithLogger(eng.logger))
		for _, e := range eng.cronEntries {
			if err := eng.scheduler.Add(e); err != nil {
				return nil, err
			}
		}
	}

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue serializes the payload with the definition's codec and persists
// a Scheduled job. When the definition derives a unique key and a job with
// that key is already active, no job is created and the nil ID is
// returned with a nil error.
func Enqueue[T any](ctx context.Context, eng *Engine, def *job.Definition[T], payload T) (id.JobID, error) {
	codec := def.Opts.Codec
	if codec == nil {
		codec = job.JSONCodec{}
	}
	data, err := codec.Marshal(payload)
	if err != nil {
		return id.Nil, fmt.Errorf("conveyor/engine: marshal payload for job %q: %w", def.Name, err)
	}

	var uniqueKey string
	if def.UniqueKey != nil {
		uniqueKey = def.UniqueKey(payload)
	}

	return eng.enqueue(ctx, def.Name, def.Opts.Queue, data, uniqueKey, def.Opts.MaxAttempts)
}

// EnqueueRaw enqueues a pre-serialized payload under a registered job
// name. Queue and attempt budget come from the registration binding;
// unregistered names fall back to defaults. Deduplicated enqueues return
// the nil ID with a nil error.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, uniqueKey string) (id.JobID, error) {
	opts := job.DefaultOptions()
	if binding, ok := eng.registry.Binding(name); ok {
		opts.Queue = binding.Queue
		opts.MaxAttempts = binding.MaxAttempts
	}
	return eng.enqueue(ctx, name, opts.Queue, payload, uniqueKey, opts.MaxAttempts)
}

func (eng *Engine) enqueue(ctx context.Context, name, queueName string, payload []byte, uniqueKey string, maxAttempts int) (id.JobID, error) {
	now := time.Now().UTC()
	j := &job.Job{
		Entity:         conveyor.NewEntity(),
		ID:             id.NewJobID(),
		Name:           name,
		Queue:          queueName,
		UniqueKey:      uniqueKey,
		State:          job.StateScheduled,
		CurrentAttempt: 1,
		MaxAttempts:    maxAttempts,
		Payload:        payload,
		ScheduledAt:    now,
		AttemptRunAt:   now,
	}

	if err := eng.store.EnqueueJob(ctx, j); err != nil {
		if errors.Is(err, conveyor.ErrDuplicateJob) {
			eng.logger.Debug("enqueue deduplicated",
				slog.String("job", name),
				slog.String("unique_key", uniqueKey),
			)
			return id.Nil, nil
		}
		return id.Nil, err
	}

	eng.hooks.EmitJobEnqueued(ctx, j)
	return j.ID, nil
}

// Cancel cancels an active job and publishes the cancellation to the
// event bus when one is configured.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID) error {
	if err := eng.store.CancelJob(ctx, jobID); err != nil {
		return err
	}
	if eng.bus != nil {
		if j, err := eng.store.GetJob(ctx, jobID); err == nil {
			if pubErr := eng.bus.Publish(ctx, event.New(event.KindCancelled, j)); pubErr != nil {
				eng.logger.Warn("publish cancel event",
					slog.String("job_id", jobID.String()),
					slog.String("error", pubErr.Error()),
				)
			}
		}
	}
	return nil
}

// Start validates queue configuration and launches the worker pool and,
// when cron entries exist, the scheduler.
func (eng *Engine) Start(ctx context.Context) error {
	if eng.started {
		return fmt.Errorf("conveyor/engine: already started")
	}
	if err := eng.pool.Start(ctx); err != nil {
		return err
	}
	if eng.scheduler != nil {
		if err := eng.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("conveyor/engine: start cron scheduler: %w", err)
		}
	}
	eng.started = true
	return nil
}

// Stop shuts the scheduler and pool down. The pool waits up to the
// configured ShutdownTimeout for in-flight jobs, then abandons stragglers.
func (eng *Engine) Stop(ctx context.Context) error {
	if !eng.started {
		return nil
	}
	eng.started = false

	g, ctx := errgroup.WithContext(ctx)
	if eng.scheduler != nil {
		g.Go(func() error { return eng.scheduler.Stop(ctx) })
	}
	g.Go(func() error { return eng.pool.Stop(ctx) })
	return g.Wait()
}

// Run starts the engine and blocks until ctx is cancelled, then performs
// a graceful shutdown. Pair it with conveyor.ShutdownContext for signal
// handling.
func (eng *Engine) Run(ctx context.Context) error {
	if err := eng.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), eng.cfg.ShutdownTimeout+time.Second)
	defer cancel()
	return eng.Stop(stopCtx)
}

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Hooks returns the lifecycle hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Store returns the underlying job store.
func (eng *Engine) Store() job.Store { return eng.store }

// Bus returns the configured event bus, or nil.
func (eng *Engine) Bus() event.Bus { return eng.bus }

// Scheduler returns the cron scheduler, or nil when no entries were
// configured.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// QueueManager returns the queue manager, or nil when no queues were
// declared.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
