package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/relaymill/conveyor"
	"github.com/relaymill/conveyor/id"
	"github.com/relaymill/conveyor/job"
)

// jobColumns is the canonical SELECT column list, matched by scanJob.
const jobColumns = `
	id, name, queue, COALESCE(unique_key, ''), state,
	current_attempt, max_attempts, payload, last_error, worker_id,
	scheduled_at, attempt_run_at, started_at, finished_at,
	previous_id, next_id, created_at, updated_at`

// EnqueueJob persists a new job in Scheduled state. The partial unique
// index on unique_key makes the dedup check and the insert one atomic
// operation — two racing enqueues cannot both commit.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	state := j.State
	if state == "" {
		state = job.StateScheduled
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_jobs (
			id, name, queue, unique_key, state,
			current_attempt, max_attempts, payload, last_error, worker_id,
			scheduled_at, attempt_run_at, started_at, finished_at,
			previous_id, next_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18
		)`,
		j.ID, j.Name, j.Queue, j.UniqueKey, string(state),
		j.CurrentAttempt, j.MaxAttempts, j.Payload, j.LastError, j.WorkerID,
		j.ScheduledAt, j.AttemptRunAt, j.StartedAt, j.FinishedAt,
		j.PreviousID, j.NextID, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, uniqueKeyConstraint) {
			return conveyor.ErrDuplicateJob
		}
		if isUniqueViolation(err, "") {
			return conveyor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conveyor/postgres: enqueue job: %w", err)
	}
	return nil
}

// NextJob atomically claims the earliest-eligible job on the queue among
// the given job type names. FOR UPDATE SKIP LOCKED keeps concurrent
// claimers from blocking on or double-claiming the same row.
func (s *Store) NextJob(ctx context.Context, queueName string, names []string, workerID id.WorkerID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE conveyor_jobs
		SET state = 'in_progress', worker_id = $3, started_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM conveyor_jobs
			WHERE state IN ('scheduled', 'retry')
			  AND queue = $1
			  AND name = ANY($2)
			  AND attempt_run_at <= NOW()
			ORDER BY attempt_run_at ASC, scheduled_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		queueName, names, workerID,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conveyor/postgres: claim job: %w", err)
	}
	return j, nil
}

// RetryJob applies the retry decision to a failed attempt inside a
// transaction: the predecessor row is locked, then either marked Dead or
// linked to a freshly inserted successor.
func (s *Store) RetryJob(ctx context.Context, jobID id.JobID) (id.JobID, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return id.Nil, fmt.Errorf("conveyor/postgres: begin retry tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM conveyor_jobs WHERE id = $1 FOR UPDATE`,
		jobID,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return id.Nil, conveyor.ErrJobNotFound
		}
		return id.Nil, fmt.Errorf("conveyor/postgres: load job for retry: %w", err)
	}

	if j.State != job.StateError && j.State != job.StateTimedOut {
		return id.Nil, conveyor.ErrRetryNotPermitted
	}
	if j.NextID != id.Nil {
		return id.Nil, conveyor.ErrRetryNotPermitted
	}

	if j.CurrentAttempt >= j.MaxAttempts {
		if _, execErr := tx.Exec(ctx, `
			UPDATE conveyor_jobs
			SET state = 'dead', finished_at = NOW(), updated_at = NOW()
			WHERE id = $1`,
			jobID,
		); execErr != nil {
			return id.Nil, fmt.Errorf("conveyor/postgres: mark dead: %w", execErr)
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return id.Nil, fmt.Errorf("conveyor/postgres: commit retry tx: %w", commitErr)
		}
		return id.Nil, nil
	}

	successorID := id.NewJobID()
	runAt := time.Now().UTC().Add(s.backoff.Delay(j.CurrentAttempt))

	if _, execErr := tx.Exec(ctx, `
		INSERT INTO conveyor_jobs (
			id, name, queue, unique_key, state,
			current_attempt, max_attempts, payload,
			scheduled_at, attempt_run_at, previous_id
		) VALUES ($1, $2, $3, NULLIF($4, ''), 'retry', $5, $6, $7, $8, $9, $10)`,
		successorID, j.Name, j.Queue, j.UniqueKey,
		j.CurrentAttempt+1, j.MaxAttempts, j.Payload,
		j.ScheduledAt, runAt, jobID,
	); execErr != nil {
		return id.Nil, fmt.Errorf("conveyor/postgres: insert successor: %w", execErr)
	}

	if _, execErr := tx.Exec(ctx,
		`UPDATE conveyor_jobs SET next_id = $2, updated_at = NOW() WHERE id = $1`,
		jobID, successorID,
	); execErr != nil {
		return id.Nil, fmt.Errorf("conveyor/postgres: link successor: %w", execErr)
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return id.Nil, fmt.Errorf("conveyor/postgres: commit retry tx: %w", commitErr)
	}
	return successorID, nil
}

// UpdateJobState resolves an InProgress attempt into the given state.
func (s *Store) UpdateJobState(ctx context.Context, jobID id.JobID, state job.State, lastError string) error {
	if err := job.ValidateTransition(job.StateInProgress, state); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs
		SET state = $2,
		    last_error = CASE WHEN $3 <> '' THEN $3 ELSE last_error END,
		    finished_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND state = 'in_progress'`,
		jobID, string(state), lastError,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: update job state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMissedUpdate(ctx, jobID)
	}
	return nil
}

// CancelJob marks an active job Cancelled.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs
		SET state = 'cancelled', finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state IN ('scheduled', 'in_progress', 'retry')`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMissedUpdate(ctx, jobID)
	}
	return nil
}

// classifyMissedUpdate distinguishes "job does not exist" from "job is
// not in a state the operation accepts" after a zero-row UPDATE.
func (s *Store) classifyMissedUpdate(ctx context.Context, jobID id.JobID) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM conveyor_jobs WHERE id = $1)`, jobID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: classify missed update: %w", err)
	}
	if !exists {
		return conveyor.ErrJobNotFound
	}
	return conveyor.ErrInvalidTransition
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM conveyor_jobs WHERE id = $1`, jobID)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get job: %w", err)
	}
	return j, nil
}

// ListJobsByState returns jobs matching the given state, ordered by
// creation time.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM conveyor_jobs WHERE state = $1`
	args := []any{string(state)}
	argIdx := 2

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM conveyor_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("conveyor/postgres: count jobs: %w", err)
	}
	return count, nil
}

// scanJob scans a single row in jobColumns order.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j        job.Job
		stateStr string
	)
	err := row.Scan(
		&j.ID, &j.Name, &j.Queue, &j.UniqueKey, &stateStr,
		&j.CurrentAttempt, &j.MaxAttempts, &j.Payload, &j.LastError, &j.WorkerID,
		&j.ScheduledAt, &j.AttemptRunAt, &j.StartedAt, &j.FinishedAt,
		&j.PreviousID, &j.NextID, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.State = job.State(stateStr)
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
