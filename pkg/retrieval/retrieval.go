// Package retrieval implements hybrid search across indexed sources and
// the open web. Each enabled source is queried concurrently; hits merge
// into per-source envelopes plus a flat list of citable chunks whose ids
// the agent cites.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/embedders"
	"github.com/lorehq/lore/pkg/logger"
	"github.com/lorehq/lore/pkg/observability"
	"github.com/lorehq/lore/pkg/store"
	"github.com/lorehq/lore/pkg/websearch"
)

// Search modes.
const (
	ModeChunks    = "CHUNKS"
	ModeDocuments = "DOCUMENTS"
)

// DateRange bounds hits by document creation time. Zero values are
// open-ended.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// SearchOptions tunes one retrieval call. Empty EnabledSources searches
// every indexed source type; WebSources names websearch provider kinds
// to include.
type SearchOptions struct {
	TopK           int
	Mode           string
	EnabledSources []string
	DateRange      *DateRange
	WebSources     []string
}

// EnvelopeSource is one hit inside an envelope. ID matches the
// CitableChunk carrying the same content.
type EnvelopeSource struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// SourceEnvelope groups the hits of one source kind under its fixed id.
type SourceEnvelope struct {
	ID      int              `json:"id"`
	Name    string           `json:"name"`
	Type    string           `json:"type"`
	Sources []EnvelopeSource `json:"sources"`
}

// DocumentRef identifies the document a citable chunk came from. Web
// hits have no stored document; ID is empty and Metadata carries the
// source URL.
type DocumentRef struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Type     string         `json:"type"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CitableChunk is one unit of citable evidence.
type CitableChunk struct {
	ChunkID  int64       `json:"chunk_id"`
	Content  string      `json:"content"`
	Score    float64     `json:"score"`
	Document DocumentRef `json:"document"`
}

// envelopeIDs fixes the envelope id per source kind. The ids are part of
// the API surface; clients key UI sections on them.
var envelopeIDs = map[string]int{
	store.TypeFile:           1,
	store.TypeCrawledURL:     2,
	store.TypeExtension:      3,
	store.TypeSlack:          4,
	store.TypeNotion:         5,
	store.TypeYouTubeVideo:   6,
	store.TypeGitHub:         7,
	store.TypeLinear:         8,
	store.TypeDiscord:        9,
	store.TypeJira:           10,
	store.TypeConfluence:     11,
	store.TypeClickUp:        12,
	store.TypeGoogleCalendar: 13,
	store.TypeGmail:          14,
	store.TypeGoogleDrive:    15,
	store.TypeAirtable:       16,
	store.TypeLuma:           17,
	store.TypeCircleback:     18,
	websearch.KindTavily:     19,
	websearch.KindLinkup:     20,
	websearch.KindSearxNG:    21,
	websearch.KindBaidu:      22,
}

var envelopeNames = map[string]string{
	store.TypeFile:           "Files",
	store.TypeCrawledURL:     "Crawled URLs",
	store.TypeExtension:      "Extension",
	store.TypeSlack:          "Slack",
	store.TypeNotion:         "Notion",
	store.TypeYouTubeVideo:   "YouTube Videos",
	store.TypeGitHub:         "GitHub",
	store.TypeLinear:         "Linear Issues",
	store.TypeDiscord:        "Discord",
	store.TypeJira:           "Jira Issues",
	store.TypeConfluence:     "Confluence",
	store.TypeClickUp:        "ClickUp Tasks",
	store.TypeGoogleCalendar: "Google Calendar",
	store.TypeGmail:          "Gmail",
	store.TypeGoogleDrive:    "Google Drive",
	store.TypeAirtable:       "Airtable",
	store.TypeLuma:           "Luma Events",
	store.TypeCircleback:     "Circleback",
	websearch.KindTavily:     "Tavily Search",
	websearch.KindLinkup:     "Linkup Search",
	websearch.KindSearxNG:    "SearxNG Search",
	websearch.KindBaidu:      "Baidu Search",
}

// IndexedSourceTypes returns every indexed source kind in envelope-id
// order.
func IndexedSourceTypes() []string {
	types := make([]string, 0, 18)
	for kind, id := range envelopeIDs {
		if id <= 18 {
			types = append(types, kind)
		}
	}
	sort.Slice(types, func(i, j int) bool { return envelopeIDs[types[i]] < envelopeIDs[types[j]] })
	return types
}

// Store is the search surface the engine needs.
type Store interface {
	SearchChunks(ctx context.Context, q store.SearchQuery) ([]store.ChunkHit, error)
	SearchDocuments(ctx context.Context, q store.SearchQuery) ([]store.DocumentHit, error)
	CountChunksForUser(ctx context.Context, userID string) (int64, error)
}

// Engine fans a query out to indexed sources and web providers.
type Engine struct {
	store    Store
	embedder embedders.EmbedderProvider
	cfg      config.RetrievalConfig
	log      *slog.Logger

	// mu guards the reloadable web-provider set and nextChunkID, which
	// hands out citation ids per user, seeded lazily from the stored
	// chunk count so concurrent retrievals get disjoint ranges.
	mu          sync.Mutex
	providers   map[string]websearch.Provider
	nextChunkID map[string]int64
}

func NewEngine(s Store, embedder embedders.EmbedderProvider, providers []websearch.Provider, cfg config.RetrievalConfig) *Engine {
	byKind := make(map[string]websearch.Provider, len(providers))
	for _, p := range providers {
		byKind[p.Kind()] = p
	}
	return &Engine{
		store:       s,
		embedder:    embedder,
		providers:   byKind,
		cfg:         cfg,
		log:         logger.Component("retrieval"),
		nextChunkID: make(map[string]int64),
	}
}

// SetWebProviders swaps the web-search provider set. Config reloads use
// this to rotate provider API keys without a restart.
func (e *Engine) SetWebProviders(providers []websearch.Provider) {
	byKind := make(map[string]websearch.Provider, len(providers))
	for _, p := range providers {
		byKind[p.Kind()] = p
	}
	e.mu.Lock()
	e.providers = byKind
	e.mu.Unlock()
}

func (e *Engine) webProvider(kind string) (websearch.Provider, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.providers[kind]
	return p, ok
}

// scoredHit is the source-agnostic intermediate before ids are assigned.
type scoredHit struct {
	sourceType  string
	title       string
	description string
	content     string
	score       float64
	url         string
	docID       string
	metadata    map[string]any
}

// Search runs one hybrid retrieval call. TopK bounds the total indexed
// hits after cross-source score ordering; web hits ride along untrimmed
// since providers already cap their result count.
func (e *Engine) Search(ctx context.Context, userID string, searchSpaceID uuid.UUID, query string, opts SearchOptions) ([]SourceEnvelope, []CitableChunk, error) {
	if query == "" {
		return nil, nil, fmt.Errorf("query cannot be empty")
	}
	if opts.TopK <= 0 {
		opts.TopK = e.cfg.TopK
	}
	switch opts.Mode {
	case "":
		opts.Mode = ModeChunks
	case ModeChunks, ModeDocuments:
	default:
		return nil, nil, fmt.Errorf("unknown search mode %q", opts.Mode)
	}
	sources := opts.EnabledSources
	if len(sources) == 0 {
		sources = IndexedSourceTypes()
	}

	tracer := observability.GetTracer("retrieval")
	ctx, span := tracer.Start(ctx, observability.SpanRetrieval)
	defer span.End()
	span.SetAttributes(
		attribute.String(observability.AttrSearchSpaceID, searchSpaceID.String()),
		attribute.String("retrieval.mode", opts.Mode),
		attribute.Int("retrieval.top_k", opts.TopK),
	)
	metrics := observability.GetGlobalMetrics()
	started := time.Now()

	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordRetrieval(ctx, time.Since(started), 0, err)
		return nil, nil, fmt.Errorf("embed query: %w", err)
	}

	indexed := make([][]scoredHit, len(sources))
	web := make([][]scoredHit, len(opts.WebSources))
	failures := make([]error, len(sources)+len(opts.WebSources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.FanOutLimit)
	for i, sourceType := range sources {
		g.Go(func() error {
			hits, err := e.searchIndexed(gctx, userID, searchSpaceID, sourceType, query, embedding, opts)
			if err != nil {
				failures[i] = err
				return nil
			}
			indexed[i] = hits
			return nil
		})
	}
	for i, kind := range opts.WebSources {
		g.Go(func() error {
			hits, err := e.searchWeb(gctx, kind, query, opts.TopK)
			if err != nil {
				failures[len(sources)+i] = err
				return nil
			}
			web[i] = hits
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, ferr := range failures {
		if ferr != nil {
			failed++
			e.log.Warn("source search failed", "query", query, "error", ferr)
		}
	}
	// Partial failure degrades to the surviving sources; total failure
	// is an error the caller should see.
	if failed > 0 && failed == len(failures) {
		err := fmt.Errorf("all %d sources failed: %w", failed, firstError(failures))
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordRetrieval(ctx, time.Since(started), 0, err)
		return nil, nil, err
	}

	var indexedHits []scoredHit
	for _, hits := range indexed {
		indexedHits = append(indexedHits, hits...)
	}
	sort.SliceStable(indexedHits, func(i, j int) bool { return indexedHits[i].score > indexedHits[j].score })
	if len(indexedHits) > opts.TopK {
		indexedHits = indexedHits[:opts.TopK]
	}

	ordered := indexedHits
	for _, hits := range web {
		ordered = append(ordered, hits...)
	}

	firstID, err := e.reserveChunkIDs(ctx, userID, len(ordered))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordRetrieval(ctx, time.Since(started), 0, err)
		return nil, nil, err
	}

	envelopes, citable := assemble(ordered, firstID)
	span.SetAttributes(attribute.Int("retrieval.envelopes", len(envelopes)))
	metrics.RecordRetrieval(ctx, time.Since(started), len(envelopes), nil)
	return envelopes, citable, nil
}

func (e *Engine) searchIndexed(ctx context.Context, userID string, searchSpaceID uuid.UUID, sourceType, query string, embedding []float32, opts SearchOptions) ([]scoredHit, error) {
	if _, ok := envelopeIDs[sourceType]; !ok || envelopeIDs[sourceType] > 18 {
		return nil, fmt.Errorf("unknown indexed source type %q", sourceType)
	}

	q := store.SearchQuery{
		UserID:         userID,
		SearchSpaceIDs: []uuid.UUID{searchSpaceID},
		DocumentType:   sourceType,
		Query:          query,
		Embedding:      embedding,
		TopK:           opts.TopK,
		SemanticWeight: e.cfg.DenseWeight,
		LexicalWeight:  e.cfg.LexicalWeight,
	}
	if opts.DateRange != nil {
		if !opts.DateRange.Start.IsZero() {
			q.After = &opts.DateRange.Start
		}
		if !opts.DateRange.End.IsZero() {
			q.Before = &opts.DateRange.End
		}
	}

	if opts.Mode == ModeDocuments {
		hits, err := e.store.SearchDocuments(ctx, q)
		if err != nil {
			return nil, err
		}
		out := make([]scoredHit, 0, len(hits))
		for _, h := range hits {
			out = append(out, scoredHit{
				sourceType:  sourceType,
				title:       h.Title,
				description: clip(h.Summary, 300),
				content:     h.Content,
				score:       h.Score,
				url:         documentURL(h.Metadata),
				docID:       h.DocumentID.String(),
				metadata:    h.Metadata,
			})
		}
		return out, nil
	}

	hits, err := e.store.SearchChunks(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]scoredHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, scoredHit{
			sourceType:  sourceType,
			title:       h.DocumentTitle,
			description: clip(h.Content, 300),
			content:     h.Content,
			score:       h.Score,
			url:         documentURL(h.Metadata),
			docID:       h.DocumentID.String(),
			metadata:    h.Metadata,
		})
	}
	return out, nil
}

// searchWeb maps provider results into hits. Providers do not return
// comparable relevance scores, so web hits keep provider order and score
// zero.
func (e *Engine) searchWeb(ctx context.Context, kind, query string, topK int) ([]scoredHit, error) {
	provider, ok := e.webProvider(kind)
	if !ok {
		return nil, fmt.Errorf("web source %q is not configured", kind)
	}
	results, err := provider.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	out := make([]scoredHit, 0, len(results))
	for _, r := range results {
		out = append(out, scoredHit{
			sourceType:  kind,
			title:       r.Title,
			description: clip(r.Content, 300),
			content:     r.Content,
			url:         r.URL,
			metadata:    map[string]any{"URL": r.URL},
		})
	}
	return out, nil
}

// reserveChunkIDs hands out n consecutive citation ids for one user.
func (e *Engine) reserveChunkIDs(ctx context.Context, userID string, n int) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next, ok := e.nextChunkID[userID]
	if !ok {
		count, err := e.store.CountChunksForUser(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("seed chunk id counter: %w", err)
		}
		next = count + 1
	}
	e.nextChunkID[userID] = next + int64(n)
	return next, nil
}

// assemble assigns ids in order and groups hits into envelopes sorted by
// their fixed envelope id.
func assemble(hits []scoredHit, firstID int64) ([]SourceEnvelope, []CitableChunk) {
	byType := make(map[string]*SourceEnvelope)
	citable := make([]CitableChunk, 0, len(hits))

	for i, hit := range hits {
		id := firstID + int64(i)

		env, ok := byType[hit.sourceType]
		if !ok {
			env = &SourceEnvelope{
				ID:   envelopeIDs[hit.sourceType],
				Name: envelopeNames[hit.sourceType],
				Type: hit.sourceType,
			}
			byType[hit.sourceType] = env
		}
		env.Sources = append(env.Sources, EnvelopeSource{
			ID:          id,
			Title:       hit.title,
			Description: hit.description,
			URL:         hit.url,
		})

		citable = append(citable, CitableChunk{
			ChunkID: id,
			Content: hit.content,
			Score:   hit.score,
			Document: DocumentRef{
				ID:       hit.docID,
				Title:    hit.title,
				Type:     hit.sourceType,
				Metadata: hit.metadata,
			},
		})
	}

	envelopes := make([]SourceEnvelope, 0, len(byType))
	for _, env := range byType {
		envelopes = append(envelopes, *env)
	}
	sort.Slice(envelopes, func(i, j int) bool { return envelopes[i].ID < envelopes[j].ID })
	return envelopes, citable
}

// documentURL digs a navigable link out of document metadata.
func documentURL(metadata map[string]any) string {
	for _, key := range []string{"PAGE_URL", "VIDEO_URL", "TASK_URL", "EVENT_URL", "EVENT_LINK", "URL"} {
		if v, ok := metadata[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
