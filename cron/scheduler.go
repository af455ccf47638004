package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relaymill/conveyor"
	"github.com/relaymill/conveyor/id"
)

// EnqueueFunc is the callback the scheduler uses to enqueue jobs.
// This breaks the import cycle: the engine provides the implementation.
type EnqueueFunc func(ctx context.Context, name string, payload []byte, uniqueKey string) (id.JobID, error)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

// Scheduler fires cron entries on a tick loop, enqueuing the bound job
// type for each due entry. Every fire carries a unique key derived from
// the entry name and the scheduled tick, so overlapping schedulers (or a
// tick racing a slow store) enqueue at most one job per tick.
type Scheduler struct {
	enqueue      EnqueueFunc
	logger       *slog.Logger
	tickInterval time.Duration

	mu      sync.Mutex
	entries map[string]*Entry

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates a Scheduler that enqueues through fn.
func NewScheduler(fn EnqueueFunc, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		enqueue:      fn,
		logger:       slog.Default(),
		tickInterval: time.Second,
		entries:      make(map[string]*Entry),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers an entry. The spec is parsed immediately; the first fire
// is the next schedule boundary after Add.
func (s *Scheduler) Add(e Entry) error {
	if e.Name == "" {
		return fmt.Errorf("conveyor/cron: entry name is required")
	}
	if e.JobName == "" {
		return fmt.Errorf("conveyor/cron: entry %s: job name is required", e.Name)
	}
	schedule, err := ParseSchedule(e.Spec)
	if err != nil {
		return fmt.Errorf("conveyor/cron: entry %s: parse %q: %w", e.Name, e.Spec, err)
	}

	e.schedule = schedule
	e.next = schedule.Next(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[e.Name]; exists {
		return fmt.Errorf("conveyor/cron: entry %s already registered", e.Name)
	}
	s.entries[e.Name] = &e
	return nil
}

// Entries returns the names of all registered entries.
func (s *Scheduler) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("conveyor/cron: scheduler already started")
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("cron scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
		slog.Int("entries", len(s.Entries())),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the tick loop to exit.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick fires every entry whose next scheduled time has passed. A tick that
// was missed while the process slept fires once, not once per missed
// boundary.
func (s *Scheduler) tick(now time.Time) {
	due := s.collectDue(now)
	for _, e := range due {
		s.fire(e.entry, e.at)
	}
}

type dueEntry struct {
	entry *Entry
	at    time.Time
}

func (s *Scheduler) collectDue(now time.Time) []dueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []dueEntry
	for _, e := range s.entries {
		if e.next.IsZero() || e.next.After(now) {
			continue
		}
		due = append(due, dueEntry{entry: e, at: e.next})
		e.next = e.schedule.Next(now)
	}
	return due
}

func (s *Scheduler) fire(e *Entry, at time.Time) {
	uniqueKey := fmt.Sprintf("cron:%s:%d", e.Name, at.Unix())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	jobID, err := s.enqueue(ctx, e.JobName, e.Payload, uniqueKey)
	if err != nil {
		if errors.Is(err, conveyor.ErrDuplicateJob) {
			s.logger.Debug("cron tick already enqueued",
				slog.String("entry", e.Name),
				slog.Time("tick", at),
			)
			return
		}
		s.logger.Error("cron enqueue failed",
			slog.String("entry", e.Name),
			slog.String("job", e.JobName),
			slog.String("error", err.Error()),
		)
		return
	}
	if jobID == id.Nil {
		// The engine swallows dedup into a nil ID.
		s.logger.Debug("cron tick already enqueued",
			slog.String("entry", e.Name),
			slog.Time("tick", at),
		)
		return
	}
	s.logger.Info("cron fired",
		slog.String("entry", e.Name),
		slog.String("job", e.JobName),
		slog.String("job_id", jobID.String()),
		slog.Time("tick", at),
	)
}
