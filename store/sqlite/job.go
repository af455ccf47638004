package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/relaymill/conveyor"
	"github.com/relaymill/conveyor/id"
	"github.com/relaymill/conveyor/job"
)

// Timestamps are stored as unix milliseconds so SQL comparisons never
// depend on a text time format.

func nowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func millisPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return millis(*t)
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromMillisPtr(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

const jobColumns = `
	id, name, queue, COALESCE(unique_key, ''), state,
	current_attempt, max_attempts, payload, last_error, worker_id,
	scheduled_at, attempt_run_at, started_at, finished_at,
	previous_id, next_id, created_at, updated_at`

// EnqueueJob persists a new job in Scheduled state. The partial unique
// index on unique_key keeps the dedup check atomic with the insert.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	state := j.State
	if state == "" {
		state = job.StateScheduled
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conveyor_jobs (
			id, name, queue, unique_key, state,
			current_attempt, max_attempts, payload, last_error, worker_id,
			scheduled_at, attempt_run_at, started_at, finished_at,
			previous_id, next_id, created_at, updated_at
		) VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Name, j.Queue, j.UniqueKey, string(state),
		j.CurrentAttempt, j.MaxAttempts, j.Payload, j.LastError, j.WorkerID,
		millis(j.ScheduledAt), millis(j.AttemptRunAt),
		millisPtr(j.StartedAt), millisPtr(j.FinishedAt),
		j.PreviousID, j.NextID, millis(j.CreatedAt), millis(j.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "unique_key") {
			return conveyor.ErrDuplicateJob
		}
		if isUniqueViolation(err, "") {
			return conveyor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conveyor/sqlite: enqueue job: %w", err)
	}
	return nil
}

// NextJob atomically claims the earliest-eligible job on the queue among
// the given job type names. SQLite has no SKIP LOCKED; a single UPDATE
// statement over one connection gives the same exactly-once claim.
func (s *Store) NextJob(ctx context.Context, queueName string, names []string, workerID id.WorkerID) (*job.Job, error) {
	if len(names) == 0 {
		return nil, nil
	}

	now := nowMillis()
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")

	args := make([]any, 0, len(names)+5)
	args = append(args, workerID, now, now, queueName)
	for _, n := range names {
		args = append(args, n)
	}
	args = append(args, now)

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE conveyor_jobs
		SET state = 'in_progress', worker_id = ?, started_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM conveyor_jobs
			WHERE state IN ('scheduled', 'retry')
			  AND queue = ?
			  AND name IN (%s)
			  AND attempt_run_at <= ?
			ORDER BY attempt_run_at ASC, scheduled_at ASC
			LIMIT 1
		)
		RETURNING `+jobColumns, placeholders),
		args...,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conveyor/sqlite: claim job: %w", err)
	}
	return j, nil
}

// RetryJob applies the retry decision to a failed attempt: either marks
// the row Dead or inserts a linked successor, inside one transaction.
func (s *Store) RetryJob(ctx context.Context, jobID id.JobID) (id.JobID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return id.Nil, fmt.Errorf("conveyor/sqlite: begin retry tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row := tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM conveyor_jobs WHERE id = ?`, jobID)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return id.Nil, conveyor.ErrJobNotFound
		}
		return id.Nil, fmt.Errorf("conveyor/sqlite: load job for retry: %w", err)
	}

	if j.State != job.StateError && j.State != job.StateTimedOut {
		return id.Nil, conveyor.ErrRetryNotPermitted
	}
	if j.NextID != id.Nil {
		return id.Nil, conveyor.ErrRetryNotPermitted
	}

	now := nowMillis()

	if j.CurrentAttempt >= j.MaxAttempts {
		if _, execErr := tx.ExecContext(ctx, `
			UPDATE conveyor_jobs
			SET state = 'dead', finished_at = ?, updated_at = ?
			WHERE id = ?`,
			now, now, jobID,
		); execErr != nil {
			return id.Nil, fmt.Errorf("conveyor/sqlite: mark dead: %w", execErr)
		}
		if commitErr := tx.Commit(); commitErr != nil {
			return id.Nil, fmt.Errorf("conveyor/sqlite: commit retry tx: %w", commitErr)
		}
		return id.Nil, nil
	}

	successorID := id.NewJobID()
	runAt := time.Now().UTC().Add(s.backoff.Delay(j.CurrentAttempt))

	if _, execErr := tx.ExecContext(ctx, `
		INSERT INTO conveyor_jobs (
			id, name, queue, unique_key, state,
			current_attempt, max_attempts, payload,
			scheduled_at, attempt_run_at, previous_id, created_at, updated_at
		) VALUES (?, ?, ?, NULLIF(?, ''), 'retry', ?, ?, ?, ?, ?, ?, ?, ?)`,
		successorID, j.Name, j.Queue, j.UniqueKey,
		j.CurrentAttempt+1, j.MaxAttempts, j.Payload,
		millis(j.ScheduledAt), millis(runAt), jobID, now, now,
	); execErr != nil {
		return id.Nil, fmt.Errorf("conveyor/sqlite: insert successor: %w", execErr)
	}

	if _, execErr := tx.ExecContext(ctx,
		`UPDATE conveyor_jobs SET next_id = ?, updated_at = ? WHERE id = ?`,
		successorID, now, jobID,
	); execErr != nil {
		return id.Nil, fmt.Errorf("conveyor/sqlite: link successor: %w", execErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return id.Nil, fmt.Errorf("conveyor/sqlite: commit retry tx: %w", commitErr)
	}
	return successorID, nil
}

// UpdateJobState resolves an InProgress attempt into the given state.
func (s *Store) UpdateJobState(ctx context.Context, jobID id.JobID, state job.State, lastError string) error {
	if err := job.ValidateTransition(job.StateInProgress, state); err != nil {
		return err
	}

	now := nowMillis()
	res, err := s.db.ExecContext(ctx, `
		UPDATE conveyor_jobs
		SET state = ?,
		    last_error = CASE WHEN ? <> '' THEN ? ELSE last_error END,
		    finished_at = ?,
		    updated_at = ?
		WHERE id = ? AND state = 'in_progress'`,
		string(state), lastError, lastError, now, now, jobID,
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: update job state: %w", err)
	}
	return s.checkAffected(ctx, res, jobID)
}

// CancelJob marks an active job Cancelled.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) error {
	now := nowMillis()
	res, err := s.db.ExecContext(ctx, `
		UPDATE conveyor_jobs
		SET state = 'cancelled', finished_at = ?, updated_at = ?
		WHERE id = ? AND state IN ('scheduled', 'in_progress', 'retry')`,
		now, now, jobID,
	)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: cancel job: %w", err)
	}
	return s.checkAffected(ctx, res, jobID)
}

// checkAffected distinguishes a missing job from a state mismatch after a
// zero-row UPDATE.
func (s *Store) checkAffected(ctx context.Context, res sql.Result, jobID id.JobID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM conveyor_jobs WHERE id = ?)`, jobID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("conveyor/sqlite: check job exists: %w", err)
	}
	if !exists {
		return conveyor.ErrJobNotFound
	}
	return conveyor.ErrInvalidTransition
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM conveyor_jobs WHERE id = ?`, jobID)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/sqlite: get job: %w", err)
	}
	return j, nil
}

// ListJobsByState returns jobs matching the given state, ordered by
// creation time.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM conveyor_jobs WHERE state = ?`
	args := []any{string(state)}

	if opts.Queue != "" {
		query += ` AND queue = ?`
		args = append(args, opts.Queue)
	}

	query += ` ORDER BY created_at ASC`

	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			query += ` LIMIT -1`
		}
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: list jobs by state: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/sqlite: scan job row: %w", scanErr)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/sqlite: iterate job rows: %w", err)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM conveyor_jobs WHERE 1=1`
	args := []any{}

	if opts.Queue != "" {
		query += ` AND queue = ?`
		args = append(args, opts.Queue)
	}
	if opts.State != "" {
		query += ` AND state = ?`
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("conveyor/sqlite: count jobs: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob scans a single row in jobColumns order.
func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j         job.Job
		stateStr  string
		scheduled int64
		runAt     int64
		started   sql.NullInt64
		finished  sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&j.ID, &j.Name, &j.Queue, &j.UniqueKey, &stateStr,
		&j.CurrentAttempt, &j.MaxAttempts, &j.Payload, &j.LastError, &j.WorkerID,
		&scheduled, &runAt, &started, &finished,
		&j.PreviousID, &j.NextID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.State = job.State(stateStr)
	j.ScheduledAt = fromMillis(scheduled)
	j.AttemptRunAt = fromMillis(runAt)
	j.StartedAt = fromMillisPtr(started)
	j.FinishedAt = fromMillisPtr(finished)
	j.CreatedAt = fromMillis(createdAt)
	j.UpdatedAt = fromMillis(updatedAt)
	return &j, nil
}
