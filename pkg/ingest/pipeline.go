// Package ingest is the document processing pipeline: canonicalize,
// hash, dedupe or update, summarize, chunk, embed, persist. Every
// connector and direct upload path funnels through it.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/lorehq/lore/pkg/canonical"
	"github.com/lorehq/lore/pkg/chunking"
	"github.com/lorehq/lore/pkg/embedders"
	"github.com/lorehq/lore/pkg/llms"
	"github.com/lorehq/lore/pkg/logger"
	"github.com/lorehq/lore/pkg/observability"
	"github.com/lorehq/lore/pkg/store"
)

// summaryPrompt is fixed: document summaries are regenerated only when
// content changes, and prompt drift would silently fork summary styles
// across a search space.
const summaryPrompt = `Summarize the document below in at most 200 words.
Cover the main topics, decisions, named people and systems, and dates.
Write plain prose without headings or bullet points.`

// Outcomes of one ingest call.
const (
	OutcomeIndexed = "indexed"
	OutcomeUpdated = "updated"
	OutcomeSkipped = "skipped"
)

// Result reports what happened to one document.
type Result struct {
	Document *store.Document
	Outcome  string
}

// Store is the persistence surface the pipeline needs.
type Store interface {
	GetDocumentByUniqueHash(ctx context.Context, uniqueHash string) (*store.Document, error)
	GetDocumentByContentHash(ctx context.Context, contentHash string) (*store.Document, error)
	InsertDocument(ctx context.Context, w store.DocumentWrite) (*store.Document, error)
	ReplaceDocument(ctx context.Context, id uuid.UUID, w store.DocumentWrite) error
}

// Pipeline transforms canonical documents into persisted, searchable
// rows. Safe for concurrent use.
type Pipeline struct {
	store      Store
	embedder   embedders.EmbedderProvider
	summarizer llms.LLMProvider
	chunkCfg   chunking.Config
	fanOut     int
	log        *slog.Logger
}

// NewPipeline wires the pipeline. summarizer should be the long-context
// role; fanOut bounds concurrent embedding calls.
func NewPipeline(s Store, embedder embedders.EmbedderProvider, summarizer llms.LLMProvider, chunkCfg chunking.Config, fanOut int) *Pipeline {
	if fanOut <= 0 {
		fanOut = 4
	}
	return &Pipeline{
		store:      s,
		embedder:   embedder,
		summarizer: summarizer,
		chunkCfg:   chunkCfg,
		fanOut:     fanOut,
		log:        logger.Component("ingest"),
	}
}

// Ingest runs the full pipeline for one canonical document.
//
// Identity rules: a unique-identifier match with the same content hash
// is a no-op; with a different hash it is an in-place update keeping the
// document id. A content-hash match without a stable source id is a
// no-op. Anything else inserts.
func (p *Pipeline) Ingest(ctx context.Context, searchSpaceID uuid.UUID, connectorID *uuid.UUID, doc *canonical.Document) (*Result, error) {
	tracer := observability.GetTracer("ingest")
	ctx, span := tracer.Start(ctx, observability.SpanIngest)
	defer span.End()
	span.SetAttributes(
		attribute.String(observability.AttrDocumentType, doc.Type),
		attribute.String(observability.AttrSearchSpaceID, searchSpaceID.String()),
	)

	if err := doc.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	canonicalText := doc.Render()
	contentHash, uniqueHash := doc.Hashes(searchSpaceID.String())

	if uniqueHash != "" {
		existing, err := p.store.GetDocumentByUniqueHash(ctx, uniqueHash)
		switch {
		case err == nil && existing.ContentHash == contentHash:
			p.log.Debug("document unchanged", "type", doc.Type, "title", doc.Title)
			return &Result{Document: existing, Outcome: OutcomeSkipped}, nil
		case err == nil:
			return p.update(ctx, existing, searchSpaceID, doc, canonicalText, contentHash)
		case !errors.Is(err, store.ErrNotFound):
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	} else {
		existing, err := p.store.GetDocumentByContentHash(ctx, contentHash)
		if err == nil {
			p.log.Debug("duplicate content", "type", doc.Type, "title", doc.Title)
			return &Result{Document: existing, Outcome: OutcomeSkipped}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	write, err := p.process(ctx, searchSpaceID, connectorID, doc, canonicalText, contentHash, uniqueHash)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	created, err := p.store.InsertDocument(ctx, *write)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost an insert race; whoever won holds identical content.
		existing, getErr := p.store.GetDocumentByContentHash(ctx, contentHash)
		if getErr == nil {
			return &Result{Document: existing, Outcome: OutcomeSkipped}, nil
		}
		return nil, err
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &Result{Document: created, Outcome: OutcomeIndexed}, nil
}

// update re-runs summarize/chunk/embed for changed content, retaining
// the existing document identity.
func (p *Pipeline) update(ctx context.Context, existing *store.Document, searchSpaceID uuid.UUID, doc *canonical.Document, canonicalText, contentHash string) (*Result, error) {
	write, err := p.process(ctx, searchSpaceID, existing.ConnectorID, doc, canonicalText, contentHash, existing.UniqueIdentifierHash)
	if err != nil {
		return nil, err
	}
	if err := p.store.ReplaceDocument(ctx, existing.ID, *write); err != nil {
		return nil, err
	}
	updated := *existing
	updated.Title = write.Title
	updated.Metadata = write.Metadata
	updated.Summary = write.Summary
	updated.ContentHash = contentHash
	return &Result{Document: &updated, Outcome: OutcomeUpdated}, nil
}

// process runs the expensive stages (summarize, chunk, embed) and
// assembles the row to persist. No store writes happen here.
func (p *Pipeline) process(ctx context.Context, searchSpaceID uuid.UUID, connectorID *uuid.UUID, doc *canonical.Document, canonicalText, contentHash, uniqueHash string) (*store.DocumentWrite, error) {
	summary, err := p.summarize(ctx, doc, canonicalText)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}

	chunker, err := chunking.ForContent(p.chunkCfg, chunking.IsCodePath(doc.Metadata[canonical.MetaFilePath]))
	if err != nil {
		return nil, err
	}
	chunks, err := chunker.Chunk(doc.Body)
	if err != nil {
		return nil, fmt.Errorf("chunk: %w", err)
	}

	summaryVec, chunkVecs, err := p.embedAll(ctx, summary, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	metadata := make(map[string]any, len(doc.Metadata))
	for k, v := range doc.Metadata {
		metadata[k] = v
	}

	write := &store.DocumentWrite{
		SearchSpaceID:        searchSpaceID,
		DocumentType:         doc.Type,
		Title:                doc.Title,
		Metadata:             metadata,
		Summary:              summary,
		SummaryEmbedding:     summaryVec,
		ContentHash:          contentHash,
		UniqueIdentifierHash: uniqueHash,
		ConnectorID:          connectorID,
		Chunks:               make([]store.ChunkWrite, len(chunks)),
	}
	for i, c := range chunks {
		write.Chunks[i] = store.ChunkWrite{Content: c.Content, Embedding: chunkVecs[i]}
	}
	return write, nil
}

// summarize calls the long-context role over the canonical text and
// prefixes the result with source metadata so summary chunks stay
// attributable in DOCUMENTS-mode retrieval.
func (p *Pipeline) summarize(ctx context.Context, doc *canonical.Document, canonicalText string) (string, error) {
	messages := []llms.Message{
		llms.SystemMessage(summaryPrompt),
		llms.UserMessage(canonicalText),
	}
	text, _, _, err := p.summarizer.Generate(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	prefix := fmt.Sprintf("Document Type: %s\nTitle: %s\n\n", doc.Type, doc.Title)
	return prefix + strings.TrimSpace(text), nil
}

// embedAll embeds the summary and every chunk with bounded fan-out.
func (p *Pipeline) embedAll(ctx context.Context, summary string, chunks []chunking.Chunk) ([]float32, [][]float32, error) {
	var summaryVec []float32
	chunkVecs := make([][]float32, len(chunks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.fanOut)

	g.Go(func() error {
		vec, err := p.embedder.Embed(ctx, summary)
		if err != nil {
			return fmt.Errorf("summary: %w", err)
		}
		summaryVec = vec
		return nil
	})
	for i := range chunks {
		g.Go(func() error {
			vec, err := p.embedder.Embed(ctx, chunks[i].Content)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			chunkVecs[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return summaryVec, chunkVecs, nil
}
