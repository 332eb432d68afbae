package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lorehq/lore/pkg/kvstore"
	"github.com/lorehq/lore/pkg/podcast"
	"github.com/lorehq/lore/pkg/store"
)

type fakePodcastStore struct {
	created     *store.Podcast
	enqueued    *store.Job
	gotRunAfter time.Time
}

func (f *fakePodcastStore) CreatePodcast(_ context.Context, id, searchSpaceID uuid.UUID, title string) (*store.Podcast, error) {
	f.created = &store.Podcast{ID: id, SearchSpaceID: searchSpaceID, Title: title, Status: store.PodcastPending}
	return f.created, nil
}

func (f *fakePodcastStore) EnqueueJob(_ context.Context, kind string, payload map[string]any, runAfter time.Time) (*store.Job, error) {
	f.enqueued = &store.Job{ID: uuid.New(), Kind: kind, Payload: payload}
	f.gotRunAfter = runAfter
	return f.enqueued, nil
}

func podcastLocks(t *testing.T) *kvstore.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	return kvstore.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestGeneratePodcastEnqueues(t *testing.T) {
	spaceID := uuid.New()
	st := &fakePodcastStore{}
	locks := podcastLocks(t)
	tool := NewGeneratePodcastTool(st, locks, "user-1", spaceID)

	outcome := tool.Invoke(context.Background(), map[string]any{
		"source_content": "notes from the retro",
		"title":          "Retro Recap",
		"user_prompt":    "keep it short",
	})
	if outcome.Status != StatusSuccess {
		t.Fatalf("status = %q, err = %v", outcome.Status, outcome.Err)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(outcome.Result), &body); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if body["status"] != "enqueued" || body["podcast_id"] == "" {
		t.Fatalf("result = %v", body)
	}

	if st.created == nil || st.created.Title != "Retro Recap" {
		t.Fatalf("podcast row not created: %+v", st.created)
	}
	if st.created.ID.String() != body["podcast_id"] {
		t.Error("row id should match the reported podcast id")
	}

	if st.enqueued == nil || st.enqueued.Kind != store.JobKindPodcast {
		t.Fatalf("job not enqueued: %+v", st.enqueued)
	}
	payload, err := podcast.ParsePayload(st.enqueued.Payload)
	if err != nil {
		t.Fatalf("payload does not round-trip: %v", err)
	}
	if payload.PodcastID != st.created.ID || payload.SearchSpaceID != spaceID {
		t.Errorf("payload ids wrong: %+v", payload)
	}
	if payload.UserID != "user-1" || payload.SourceContent != "notes from the retro" || payload.UserPrompt != "keep it short" {
		t.Errorf("payload fields wrong: %+v", payload)
	}

	// The lock is held by the new podcast until generation finishes.
	holder, err := locks.LockHolder(context.Background(), podcast.LockKey(spaceID))
	if err != nil {
		t.Fatalf("LockHolder: %v", err)
	}
	if holder != st.created.ID.String() {
		t.Errorf("lock holder = %q, want %q", holder, st.created.ID)
	}
}

func TestGeneratePodcastAlreadyGenerating(t *testing.T) {
	spaceID := uuid.New()
	st := &fakePodcastStore{}
	locks := podcastLocks(t)

	inFlight := uuid.New()
	if _, err := locks.AcquireLock(context.Background(), podcast.LockKey(spaceID), inFlight.String(), podcast.LockTTL); err != nil {
		t.Fatal(err)
	}

	tool := NewGeneratePodcastTool(st, locks, "user-1", spaceID)
	outcome := tool.Invoke(context.Background(), map[string]any{
		"source_content": "notes",
		"title":          "Second Try",
	})
	if outcome.Status != StatusSuccess {
		t.Fatalf("status = %q, err = %v", outcome.Status, outcome.Err)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(outcome.Result), &body); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if body["status"] != "already_generating" {
		t.Errorf("status = %q, want already_generating", body["status"])
	}
	if body["podcast_id"] != inFlight.String() {
		t.Errorf("podcast_id = %q, want in-flight id %q", body["podcast_id"], inFlight)
	}
	if st.created != nil || st.enqueued != nil {
		t.Error("losing call must not create rows or jobs")
	}
}

func TestGeneratePodcastValidation(t *testing.T) {
	tool := NewGeneratePodcastTool(&fakePodcastStore{}, podcastLocks(t), "user-1", uuid.New())

	if outcome := tool.Invoke(context.Background(), map[string]any{"title": "x"}); outcome.Status != StatusFailed {
		t.Errorf("missing source_content should fail, got %q", outcome.Status)
	}
	if outcome := tool.Invoke(context.Background(), map[string]any{"source_content": "x"}); outcome.Status != StatusFailed {
		t.Errorf("missing title should fail, got %q", outcome.Status)
	}
}
