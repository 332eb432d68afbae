package tasklog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lorehq/lore/pkg/store"
)

type fakeStore struct {
	mu         sync.Mutex
	inserted   []string
	stages     []string
	finished   []string
	failInsert bool
}

func (f *fakeStore) InsertTaskLog(ctx context.Context, taskName, source string, metadata map[string]any) (*store.TaskLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsert {
		return nil, errors.New("db down")
	}
	f.inserted = append(f.inserted, taskName)
	return &store.TaskLog{ID: uuid.New(), TaskName: taskName, Source: source, Status: store.TaskRunning}, nil
}

func (f *fakeStore) UpdateTaskLogStage(ctx context.Context, id uuid.UUID, stage string, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
	return nil
}

func (f *fakeStore) FinishTaskLog(ctx context.Context, id uuid.UUID, status string, metadata map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, status)
	return nil
}

func TestTaskLifecycle(t *testing.T) {
	fs := &fakeStore{}
	svc := NewService(fs)

	task, err := svc.Start(context.Background(), "connector_run", "SLACK_CONNECTOR", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	task.Progress(context.Background(), "fetching", map[string]any{"window_days": 7})
	task.Progress(context.Background(), "indexing", nil)
	task.Succeed(context.Background(), map[string]any{"indexed": 5})

	if len(fs.inserted) != 1 || fs.inserted[0] != "connector_run" {
		t.Fatalf("expected one insert, got %v", fs.inserted)
	}
	if len(fs.stages) != 2 || fs.stages[0] != "fetching" || fs.stages[1] != "indexing" {
		t.Fatalf("unexpected stages %v", fs.stages)
	}
	if len(fs.finished) != 1 || fs.finished[0] != store.TaskSuccess {
		t.Fatalf("unexpected finish %v", fs.finished)
	}
}

func TestNilTaskIsSafe(t *testing.T) {
	fs := &fakeStore{failInsert: true}
	svc := NewService(fs)

	task, err := svc.Start(context.Background(), "ingest", "FILE", nil)
	if err == nil {
		t.Fatal("expected Start error")
	}

	// A nil handle must absorb every call.
	task.Progress(context.Background(), "anything", nil)
	task.Heartbeat(context.Background())
	task.Succeed(context.Background(), nil)
	task.Fail(context.Background(), errors.New("x"), nil)
	stop := task.HeartbeatEvery(context.Background(), time.Millisecond)
	stop()
	if task.ID() != uuid.Nil {
		t.Fatal("nil task should report uuid.Nil")
	}
	if len(fs.stages) != 0 || len(fs.finished) != 0 {
		t.Fatal("nil task must not write")
	}
}

func TestHeartbeatEvery(t *testing.T) {
	fs := &fakeStore{}
	svc := NewService(fs)

	task, err := svc.Start(context.Background(), "connector_run", "GOOGLE_DRIVE_CONNECTOR", nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stop := task.HeartbeatEvery(context.Background(), 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	stop()
	stop() // second call is a no-op

	fs.mu.Lock()
	beats := len(fs.stages)
	fs.mu.Unlock()
	if beats == 0 {
		t.Fatal("expected at least one heartbeat")
	}
	for _, stage := range fs.stages {
		if stage != StageHeartbeat {
			t.Fatalf("unexpected stage %q", stage)
		}
	}
}

func TestFailRecordsCause(t *testing.T) {
	fs := &fakeStore{}
	svc := NewService(fs)

	task, _ := svc.Start(context.Background(), "podcast_generate", "PODCAST", nil)
	task.Fail(context.Background(), errors.New("tts unavailable"), nil)

	if len(fs.finished) != 1 || fs.finished[0] != store.TaskFailure {
		t.Fatalf("unexpected finish %v", fs.finished)
	}
}
