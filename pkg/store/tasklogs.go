package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const taskLogColumns = `id, task_name, source, stage, status, metadata, created_at, updated_at`

// InsertTaskLog opens a running task log entry.
func (s *Store) InsertTaskLog(ctx context.Context, taskName, source string, metadata map[string]any) (*TaskLog, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	t := TaskLog{
		ID:       uuid.New(),
		TaskName: taskName,
		Source:   source,
		Status:   TaskRunning,
		Metadata: metadata,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO task_logs (id, task_name, source, status, metadata)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at, updated_at`,
		t.ID, t.TaskName, t.Source, t.Status, t.Metadata).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert task log: %w", err)
	}
	return &t, nil
}

// UpdateTaskLogStage records forward progress on a running task. A
// heartbeat repeats the current stage just to move updated_at.
func (s *Store) UpdateTaskLogStage(ctx context.Context, id uuid.UUID, stage string, metadata map[string]any) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE task_logs
		 SET stage = $2, metadata = metadata || COALESCE($3, '{}'::jsonb), updated_at = NOW()
		 WHERE id = $1 AND status = $4`,
		id, stage, metadata, TaskRunning)
	if err != nil {
		return fmt.Errorf("update task log stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishTaskLog closes an entry with a terminal status, folding any
// final details into the metadata trail.
func (s *Store) FinishTaskLog(ctx context.Context, id uuid.UUID, status string, metadata map[string]any) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE task_logs
		 SET status = $2, metadata = metadata || COALESCE($3, '{}'::jsonb), updated_at = NOW()
		 WHERE id = $1`,
		id, status, metadata)
	if err != nil {
		return fmt.Errorf("finish task log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTaskLog loads one entry.
func (s *Store) GetTaskLog(ctx context.Context, id uuid.UUID) (*TaskLog, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskLogColumns+` FROM task_logs WHERE id = $1`, id)
	return scanTaskLog(row)
}

// ListTaskLogs returns recent entries, newest first, optionally
// filtered by source.
func (s *Store) ListTaskLogs(ctx context.Context, source string, limit int) ([]TaskLog, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if source == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+taskLogColumns+`
			 FROM task_logs ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+taskLogColumns+`
			 FROM task_logs WHERE source = $1
			 ORDER BY created_at DESC LIMIT $2`, source, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list task logs: %w", err)
	}
	defer rows.Close()

	var logs []TaskLog
	for rows.Next() {
		t, err := scanTaskLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *t)
	}
	return logs, rows.Err()
}

func scanTaskLog(row pgx.Row) (*TaskLog, error) {
	var t TaskLog
	err := row.Scan(&t.ID, &t.TaskName, &t.Source, &t.Stage, &t.Status,
		&t.Metadata, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task log: %w", err)
	}
	return &t, nil
}
