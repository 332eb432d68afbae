package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const jobColumns = `id, kind, payload, status, attempts, run_after,
	locked_by, locked_at, last_error, created_at, updated_at`

// EnqueueJob adds a job to the durable queue, runnable from runAfter.
func (s *Store) EnqueueJob(ctx context.Context, kind string, payload map[string]any, runAfter time.Time) (*Job, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	j := Job{ID: uuid.New(), Kind: kind, Payload: payload, Status: JobPending, RunAfter: runAfter}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO job_queue (id, kind, payload, status, run_after)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at, updated_at`,
		j.ID, j.Kind, j.Payload, j.Status, j.RunAfter).Scan(&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return &j, nil
}

// ClaimJob atomically takes the oldest runnable job for a worker.
// SKIP LOCKED keeps concurrent workers from blocking each other; a nil
// job with nil error means the queue is empty.
func (s *Store) ClaimJob(ctx context.Context, workerID string, kinds []string) (*Job, error) {
	var job *Job
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+jobColumns+`
			 FROM job_queue
			 WHERE status = $1 AND run_after <= NOW() AND kind = ANY($2)
			 ORDER BY run_after
			 LIMIT 1
			 FOR UPDATE SKIP LOCKED`,
			JobPending, kinds)
		j, err := scanJob(row)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE job_queue
			 SET status = $2, attempts = attempts + 1, locked_by = $3,
			     locked_at = NOW(), updated_at = NOW()
			 WHERE id = $1`,
			j.ID, JobRunning, workerID)
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		j.Status = JobRunning
		j.Attempts++
		j.LockedBy = workerID
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// CompleteJob marks a running job done.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_queue
		 SET status = $2, locked_by = '', locked_at = NULL, updated_at = NOW()
		 WHERE id = $1`,
		id, JobDone)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. With retryIn > 0 the job goes back
// to pending for a later run; otherwise it is terminal.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, cause string, retryIn time.Duration) error {
	status := JobFailed
	runAfter := time.Now().UTC()
	if retryIn > 0 {
		status = JobPending
		runAfter = runAfter.Add(retryIn)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_queue
		 SET status = $2, run_after = $3, last_error = $4,
		     locked_by = '', locked_at = NULL, updated_at = NOW()
		 WHERE id = $1`,
		id, status, runAfter, cause)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HeartbeatJob extends a running job's lease.
func (s *Store) HeartbeatJob(ctx context.Context, id uuid.UUID, workerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_queue SET locked_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND locked_by = $2 AND status = $3`,
		id, workerID, JobRunning)
	if err != nil {
		return fmt.Errorf("heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RequeueStaleJobs returns running jobs whose lease expired to the
// pending state so another worker can pick them up. Crashed workers
// stop heartbeating, which is how their jobs come back.
func (s *Store) RequeueStaleJobs(ctx context.Context, lease time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_queue
		 SET status = $1, locked_by = '', locked_at = NULL,
		     last_error = 'lease expired', updated_at = NOW()
		 WHERE status = $2 AND locked_at < NOW() - $3::interval`,
		JobPending, JobRunning, fmt.Sprintf("%f seconds", lease.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetJob loads one job.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM job_queue WHERE id = $1`, id)
	return scanJob(row)
}

// CountPendingJobs reports queue depth per kind for metrics.
func (s *Store) CountPendingJobs(ctx context.Context, kind string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM job_queue WHERE status = $1 AND kind = $2`,
		JobPending, kind).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return count, nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.Kind, &j.Payload, &j.Status, &j.Attempts, &j.RunAfter,
		&j.LockedBy, &j.LockedAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}
