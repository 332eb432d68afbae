// Package tasklog records long-running work (connector runs, ingests,
// podcast and report generation) as durable task log entries with stage
// and status transitions. Logging here is best-effort observability:
// write failures never fail the task being logged.
package tasklog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lorehq/lore/pkg/logger"
	"github.com/lorehq/lore/pkg/store"
)

// StageHeartbeat is the stage recorded by periodic liveness updates on
// long scans.
const StageHeartbeat = "heartbeat"

// Store is the persistence surface this service needs.
type Store interface {
	InsertTaskLog(ctx context.Context, taskName, source string, metadata map[string]any) (*store.TaskLog, error)
	UpdateTaskLogStage(ctx context.Context, id uuid.UUID, stage string, metadata map[string]any) error
	FinishTaskLog(ctx context.Context, id uuid.UUID, status string, metadata map[string]any) error
}

// Service creates task handles bound to the store.
type Service struct {
	store Store
	log   *slog.Logger
}

func NewService(s Store) *Service {
	return &Service{store: s, log: logger.Component("tasklog")}
}

// Task is a handle on one running task log entry. All methods are safe
// on a nil receiver, so callers can ignore Start errors and keep going.
type Task struct {
	id   uuid.UUID
	name string
	svc  *Service
}

// Start opens a running entry. On error the returned task is nil and
// still safe to use.
func (s *Service) Start(ctx context.Context, taskName, source string, metadata map[string]any) (*Task, error) {
	entry, err := s.store.InsertTaskLog(ctx, taskName, source, metadata)
	if err != nil {
		s.log.Warn("task log start failed", "task", taskName, "error", err)
		return nil, err
	}
	return &Task{id: entry.ID, name: taskName, svc: s}, nil
}

// ID returns the entry id, or uuid.Nil on a nil task.
func (t *Task) ID() uuid.UUID {
	if t == nil {
		return uuid.Nil
	}
	return t.id
}

// Progress records a stage transition with optional details.
func (t *Task) Progress(ctx context.Context, stage string, metadata map[string]any) {
	if t == nil {
		return
	}
	if err := t.svc.store.UpdateTaskLogStage(ctx, t.id, stage, metadata); err != nil {
		t.svc.log.Warn("task log progress failed", "task", t.name, "stage", stage, "error", err)
	}
}

// Heartbeat refreshes updated_at so watchers can tell a slow task from
// a dead one.
func (t *Task) Heartbeat(ctx context.Context) {
	t.Progress(ctx, StageHeartbeat, nil)
}

// HeartbeatEvery emits heartbeats on an interval until the returned
// stop function runs or ctx is done.
func (t *Task) HeartbeatEvery(ctx context.Context, interval time.Duration) (stop func()) {
	if t == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Heartbeat(ctx)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// Succeed closes the entry as successful.
func (t *Task) Succeed(ctx context.Context, metadata map[string]any) {
	t.finish(ctx, store.TaskSuccess, metadata)
}

// Fail closes the entry as failed, recording the cause in metadata.
func (t *Task) Fail(ctx context.Context, cause error, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	if cause != nil {
		metadata["error"] = cause.Error()
	}
	t.finish(ctx, store.TaskFailure, metadata)
}

func (t *Task) finish(ctx context.Context, status string, metadata map[string]any) {
	if t == nil {
		return
	}
	if err := t.svc.store.FinishTaskLog(ctx, t.id, status, metadata); err != nil {
		t.svc.log.Warn("task log finish failed", "task", t.name, "status", status, "error", err)
	}
}
