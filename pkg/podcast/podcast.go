// Package podcast synthesizes audio podcasts from knowledge content.
// Generation runs as a background job: an LLM drafts a two-speaker
// transcript, a TTS provider voices each turn, and the concatenated
// audio lands in the media directory with the podcast row flipped to
// READY. A keyed lock holds each search space to one generation at a
// time; both terminal states release it.
package podcast

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/llms"
	"github.com/lorehq/lore/pkg/logger"
	"github.com/lorehq/lore/pkg/observability"
	"github.com/lorehq/lore/pkg/protocol"
)

// LockTTL bounds how long a crashed worker can hold a space's
// generation lock before it expires on its own.
const LockTTL = 30 * time.Minute

// LockKey returns the per-search-space generation lock key. The lock
// value is the in-flight podcast id, so a losing enqueue can report
// which podcast is already generating.
func LockKey(searchSpaceID uuid.UUID) string {
	return "podcast:space:" + searchSpaceID.String()
}

// Payload is the job body the generate_podcast tool enqueues.
type Payload struct {
	PodcastID     uuid.UUID
	SearchSpaceID uuid.UUID
	UserID        string
	Title         string
	SourceContent string
	UserPrompt    string
}

// ParsePayload reads a queued job body back into a Payload.
func ParsePayload(raw map[string]any) (Payload, error) {
	var p Payload
	var err error
	if p.PodcastID, err = uuid.Parse(str(raw, "podcast_id")); err != nil {
		return p, fmt.Errorf("invalid podcast_id: %w", err)
	}
	if p.SearchSpaceID, err = uuid.Parse(str(raw, "search_space_id")); err != nil {
		return p, fmt.Errorf("invalid search_space_id: %w", err)
	}
	p.UserID = str(raw, "user_id")
	p.Title = str(raw, "title")
	p.SourceContent = str(raw, "source_content")
	p.UserPrompt = str(raw, "user_prompt")
	if p.UserID == "" || p.SourceContent == "" {
		return p, fmt.Errorf("podcast payload missing user_id or source_content")
	}
	return p, nil
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// PodcastStore is the persistence surface the generator needs.
type PodcastStore interface {
	MarkPodcastGenerating(ctx context.Context, id uuid.UUID) error
	MarkPodcastReady(ctx context.Context, id uuid.UUID, audioPath string) error
	MarkPodcastFailed(ctx context.Context, id uuid.UUID, cause string) error
}

// Locker releases the per-space generation lock on terminal states.
type Locker interface {
	ReleaseLock(ctx context.Context, key, value string) error
}

// Generator runs podcast jobs to a terminal state.
type Generator struct {
	store PodcastStore
	locks Locker
	llm   llms.StructuredOutputProvider
	tts   *TTSClient
	cfg   config.PodcastConfig
	log   *slog.Logger
}

func NewGenerator(st PodcastStore, locks Locker, llm llms.StructuredOutputProvider, cfg config.PodcastConfig) *Generator {
	return &Generator{
		store: st,
		locks: locks,
		llm:   llm,
		tts:   NewTTSClient(cfg.TTS),
		cfg:   cfg,
		log:   logger.Component("podcast"),
	}
}

// Generate runs one podcast job end to end. The space lock is released
// whether the podcast lands READY or FAILED; release survives caller
// cancellation so a cancelled job cannot wedge its search space.
func (g *Generator) Generate(ctx context.Context, p Payload, sink protocol.Sink) error {
	tracer := observability.GetTracer("podcast")
	ctx, span := tracer.Start(ctx, observability.SpanPodcast,
		trace.WithAttributes(attribute.String(observability.AttrSearchSpaceID, p.SearchSpaceID.String())))
	defer span.End()

	defer func() {
		key := LockKey(p.SearchSpaceID)
		if err := g.locks.ReleaseLock(context.WithoutCancel(ctx), key, p.PodcastID.String()); err != nil {
			g.log.Warn("podcast lock release failed", "key", key, "error", err)
		}
	}()

	if err := g.store.MarkPodcastGenerating(ctx, p.PodcastID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("mark podcast generating: %w", err)
	}
	sink.Progress(protocol.EventPodcastStatus, map[string]any{
		"podcast_id": p.PodcastID.String(),
		"status":     "generating",
		"stage":      "drafting_script",
	})

	transcript, err := g.script(ctx, p)
	if err != nil {
		return g.fail(ctx, p, sink, span, err)
	}
	g.log.Info("transcript drafted",
		"podcast_id", p.PodcastID, "turns", len(transcript.Turns))

	var audio bytes.Buffer
	for i, turn := range transcript.Turns {
		sink.Progress(protocol.EventPodcastStatus, map[string]any{
			"podcast_id": p.PodcastID.String(),
			"status":     "generating",
			"stage":      "voicing",
			"turn":       i + 1,
			"turns":      len(transcript.Turns),
		})
		segment, err := g.tts.Speak(ctx, g.voiceFor(turn.Speaker), turn.Text)
		if err != nil {
			return g.fail(ctx, p, sink, span, fmt.Errorf("voice turn %d: %w", i+1, err))
		}
		audio.Write(segment)
	}

	path, err := g.writeAudio(p.PodcastID, audio.Bytes())
	if err != nil {
		return g.fail(ctx, p, sink, span, err)
	}
	if err := g.store.MarkPodcastReady(ctx, p.PodcastID, path); err != nil {
		return g.fail(ctx, p, sink, span, fmt.Errorf("mark podcast ready: %w", err))
	}

	span.SetStatus(codes.Ok, "ready")
	g.log.Info("podcast ready", "podcast_id", p.PodcastID, "audio_path", path)
	sink.Progress(protocol.EventPodcastStatus, map[string]any{
		"podcast_id": p.PodcastID.String(),
		"status":     "ready",
		"audio_path": path,
	})
	return nil
}

// fail records the terminal failure on the podcast row and reports the
// original cause. The row update uses a non-cancelable context for the
// same reason lock release does.
func (g *Generator) fail(ctx context.Context, p Payload, sink protocol.Sink, span trace.Span, cause error) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	if err := g.store.MarkPodcastFailed(context.WithoutCancel(ctx), p.PodcastID, cause.Error()); err != nil {
		g.log.Error("mark podcast failed", "podcast_id", p.PodcastID, "error", err)
	}
	sink.Progress(protocol.EventPodcastStatus, map[string]any{
		"podcast_id": p.PodcastID.String(),
		"status":     "failed",
		"error":      cause.Error(),
	})
	return cause
}

func (g *Generator) voiceFor(speaker string) string {
	if v, ok := g.cfg.TTS.Voices[strings.ToLower(speaker)]; ok {
		return v
	}
	if v, ok := g.cfg.TTS.Voices["host"]; ok {
		return v
	}
	return "alloy"
}

func (g *Generator) writeAudio(podcastID uuid.UUID, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("synthesis produced no audio")
	}
	if err := os.MkdirAll(g.cfg.MediaDir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	path := filepath.Join(g.cfg.MediaDir, podcastID.String()+".mp3")
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	return path, nil
}
