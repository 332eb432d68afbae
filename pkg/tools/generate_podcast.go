package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lorehq/lore/pkg/podcast"
	"github.com/lorehq/lore/pkg/store"
)

// PodcastStore is the slice of the store the podcast tool needs: the
// pending row and the queue entry.
type PodcastStore interface {
	CreatePodcast(ctx context.Context, id, searchSpaceID uuid.UUID, title string) (*store.Podcast, error)
	EnqueueJob(ctx context.Context, kind string, payload map[string]any, runAfter time.Time) (*store.Job, error)
}

// Locker is the keyed TTL lock enforcing one in-flight podcast per
// search space.
type Locker interface {
	AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	LockHolder(ctx context.Context, key string) (string, error)
}

type generatePodcastArgs struct {
	SourceContent string `json:"source_content" jsonschema:"required,description=The content the podcast should cover"`
	Title         string `json:"title" jsonschema:"required,description=Podcast episode title"`
	UserPrompt    string `json:"user_prompt,omitempty" jsonschema:"description=Extra instructions for tone or focus"`
}

// GeneratePodcastTool enqueues a podcast generation job. The lock is
// taken before the row exists so two concurrent calls cannot both
// enqueue; the job runner releases it on terminal states.
type GeneratePodcastTool struct {
	store         PodcastStore
	locks         Locker
	userID        string
	searchSpaceID uuid.UUID
}

func NewGeneratePodcastTool(st PodcastStore, locks Locker, userID string, searchSpaceID uuid.UUID) *GeneratePodcastTool {
	return &GeneratePodcastTool{store: st, locks: locks, userID: userID, searchSpaceID: searchSpaceID}
}

func (t *GeneratePodcastTool) Name() string { return "generate_podcast" }

func (t *GeneratePodcastTool) Description() string {
	return "Generate a two-host audio podcast from source content. Generation runs in the background; at most one podcast per search space generates at a time."
}

func (t *GeneratePodcastTool) ArgsSchema() map[string]any {
	return argsSchema[generatePodcastArgs]()
}

func (t *GeneratePodcastTool) Invoke(ctx context.Context, args map[string]any) ToolOutcome {
	sourceContent := stringArg(args, "source_content")
	if sourceContent == "" {
		return Failedf("source_content is required")
	}
	title := stringArg(args, "title")
	if title == "" {
		return Failedf("title is required")
	}

	podcastID := uuid.New()
	lockKey := podcast.LockKey(t.searchSpaceID)

	acquired, err := t.locks.AcquireLock(ctx, lockKey, podcastID.String(), podcast.LockTTL)
	if err != nil {
		return Failed(err)
	}
	if !acquired {
		holder, err := t.locks.LockHolder(ctx, lockKey)
		if err != nil {
			return Failed(err)
		}
		data, _ := json.Marshal(map[string]string{
			"status":     "already_generating",
			"podcast_id": holder,
			"message":    "A podcast for this search space is already being generated. Tell the user to wait for it to finish.",
		})
		return Success(string(data))
	}

	if _, err := t.store.CreatePodcast(ctx, podcastID, t.searchSpaceID, title); err != nil {
		return Failed(err)
	}

	payload := map[string]any{
		"podcast_id":      podcastID.String(),
		"search_space_id": t.searchSpaceID.String(),
		"user_id":         t.userID,
		"title":           title,
		"source_content":  sourceContent,
	}
	if prompt := stringArg(args, "user_prompt"); prompt != "" {
		payload["user_prompt"] = prompt
	}
	if _, err := t.store.EnqueueJob(ctx, store.JobKindPodcast, payload, time.Now().UTC()); err != nil {
		return Failed(err)
	}

	data, err := json.Marshal(map[string]string{
		"status":     "enqueued",
		"podcast_id": podcastID.String(),
	})
	if err != nil {
		return Failed(err)
	}
	return Success(string(data))
}
