// Package reports drafts and revises Markdown reports from knowledge
// sources. New reports are generated in a single shot; revisions parse
// the parent into sections and rewrite only what the revision plan
// targets, so untouched sections survive byte for byte.
package reports

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lorehq/lore/pkg/llms"
	"github.com/lorehq/lore/pkg/logger"
	"github.com/lorehq/lore/pkg/observability"
	"github.com/lorehq/lore/pkg/protocol"
	"github.com/lorehq/lore/pkg/retrieval"
	"github.com/lorehq/lore/pkg/store"
)

// Source strategies. Auto falls back to a knowledge-base search when the
// caller supplies fewer than autoSourceWords words of material.
const (
	StrategyProvided     = "provided"
	StrategyConversation = "conversation"
	StrategyKBSearch     = "kb_search"
	StrategyAuto         = "auto"
)

// Report lengths. Brief steers the draft toward roughly 500 words; the
// other two leave length to the model.
const (
	LengthBrief        = "brief"
	LengthDetailed     = "detailed"
	LengthDeepResearch = "deep_research"
)

const (
	autoSourceWords  = 200
	maxSearchQueries = 5
	searchTopK       = 10
)

// Request describes one report to generate. A non-zero ParentReportID
// turns the request into a revision of that report.
type Request struct {
	Topic          string
	Length         string
	SourceStrategy string
	SourceContent  string
	SearchQueries  []string
	ParentReportID uuid.UUID
}

// ReportStore is the persistence surface the generator needs.
type ReportStore interface {
	InsertReport(ctx context.Context, w store.ReportWrite) (*store.Report, error)
	GetReport(ctx context.Context, id uuid.UUID) (*store.Report, error)
}

// Searcher answers knowledge-base queries for the kb_search strategy.
type Searcher interface {
	Search(ctx context.Context, userID string, searchSpaceID uuid.UUID, query string, opts retrieval.SearchOptions) ([]retrieval.SourceEnvelope, []retrieval.CitableChunk, error)
}

// Generator drafts new reports and revises existing ones.
type Generator struct {
	store    ReportStore
	searcher Searcher
	llm      llms.StructuredOutputProvider
	log      *slog.Logger
}

func NewGenerator(st ReportStore, searcher Searcher, llm llms.StructuredOutputProvider) *Generator {
	return &Generator{
		store:    st,
		searcher: searcher,
		llm:      llm,
		log:      logger.Component("reports"),
	}
}

// Generate runs one report request end to end and persists the result.
// Progress lands on sink as report_progress events.
func (g *Generator) Generate(ctx context.Context, userID string, searchSpaceID uuid.UUID, req Request, sink protocol.Sink) (*store.Report, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return nil, fmt.Errorf("report topic is required")
	}
	if req.Length == "" {
		req.Length = LengthDetailed
	}
	switch req.Length {
	case LengthBrief, LengthDetailed, LengthDeepResearch:
	default:
		return nil, fmt.Errorf("unknown report length %q", req.Length)
	}

	tracer := observability.GetTracer("reports")
	ctx, span := tracer.Start(ctx, observability.SpanReport,
		trace.WithAttributes(attribute.String(observability.AttrSearchSpaceID, searchSpaceID.String())))
	defer span.End()

	start := time.Now()
	sink.Progress(protocol.EventReportProgress, map[string]any{
		"stage": "collecting_sources",
		"topic": req.Topic,
	})

	source, err := g.resolveSource(ctx, userID, searchSpaceID, req, sink)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var (
		content string
		title   string
		groupID uuid.UUID
	)
	if req.ParentReportID != uuid.Nil {
		parent, err := g.store.GetReport(ctx, req.ParentReportID)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("load parent report: %w", err)
		}
		if parent.SearchSpaceID != searchSpaceID {
			span.SetStatus(codes.Error, "parent report outside search space")
			return nil, store.ErrNotFound
		}
		groupID = parent.ReportGroupID
		title = parent.Title
		content, err = g.revise(ctx, parent, req, source, sink)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	} else {
		title = req.Topic
		sink.Progress(protocol.EventReportProgress, map[string]any{"stage": "drafting"})
		content, err = g.draft(ctx, req.Topic, req.Length, source)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	content = appendFooter(stripFooter(content))

	report, err := g.store.InsertReport(ctx, store.ReportWrite{
		SearchSpaceID:  searchSpaceID,
		GroupID:        groupID,
		Title:          title,
		Content:        content,
		WordCount:      wordCount(content),
		CharacterCount: utf8.RuneCountInString(content),
		SectionCount:   CountSections(content),
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "saved")
	g.log.Info("report saved",
		"report_id", report.ID,
		"title", report.Title,
		"words", report.WordCount,
		"sections", report.SectionCount,
		"duration", time.Since(start))
	sink.Progress(protocol.EventReportProgress, map[string]any{
		"stage":     "saved",
		"report_id": report.ID.String(),
	})
	return report, nil
}

func (g *Generator) resolveSource(ctx context.Context, userID string, searchSpaceID uuid.UUID, req Request, sink protocol.Sink) (string, error) {
	strategy := req.SourceStrategy
	if strategy == "" {
		strategy = StrategyAuto
	}
	switch strategy {
	case StrategyProvided, StrategyConversation:
		return req.SourceContent, nil
	case StrategyKBSearch:
		return g.searchSource(ctx, userID, searchSpaceID, req, sink)
	case StrategyAuto:
		if wordCount(req.SourceContent) >= autoSourceWords {
			return req.SourceContent, nil
		}
		return g.searchSource(ctx, userID, searchSpaceID, req, sink)
	default:
		return "", fmt.Errorf("unknown source strategy %q", strategy)
	}
}

// searchSource runs up to maxSearchQueries knowledge-base queries and
// concatenates the hits under per-query separators.
func (g *Generator) searchSource(ctx context.Context, userID string, searchSpaceID uuid.UUID, req Request, sink protocol.Sink) (string, error) {
	queries := req.SearchQueries
	if len(queries) == 0 {
		queries = []string{req.Topic}
	}
	if len(queries) > maxSearchQueries {
		queries = queries[:maxSearchQueries]
	}

	var sb strings.Builder
	for _, query := range queries {
		sink.Progress(protocol.EventReportProgress, map[string]any{
			"stage": "searching",
			"query": query,
		})
		_, chunks, err := g.searcher.Search(ctx, userID, searchSpaceID, query, retrieval.SearchOptions{TopK: searchTopK})
		if err != nil {
			return "", fmt.Errorf("search %q: %w", query, err)
		}
		fmt.Fprintf(&sb, "----- Results for: %s -----\n\n", query)
		if len(chunks) == 0 {
			sb.WriteString("(no results)\n\n")
			continue
		}
		for _, c := range chunks {
			sb.WriteString(c.Content)
			sb.WriteString("\n\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

const draftSystemPrompt = `You are a precise research writer. Write a well-structured Markdown report on the requested topic using the source material provided. Organize the report with # and ## headings. Ground every claim in the source material and do not invent facts. Return only the report Markdown, with no surrounding code fence.`

func (g *Generator) draft(ctx context.Context, topic, length, source string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\n\n", topic)
	if length == LengthBrief {
		sb.WriteString("Keep the report to roughly 500 words.\n\n")
	}
	if strings.TrimSpace(source) != "" {
		fmt.Fprintf(&sb, "Source material:\n\n%s", source)
	} else {
		sb.WriteString("No source material was collected. Write from general knowledge and say so where it matters.")
	}

	text, _, tokens, err := g.llm.Generate(ctx, []llms.Message{
		llms.SystemMessage(draftSystemPrompt),
		llms.UserMessage(sb.String()),
	}, nil)
	if err != nil {
		return "", fmt.Errorf("draft report: %w", err)
	}
	g.log.Debug("report drafted", "tokens", tokens)

	content := stripOuterFence(text)
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("model returned an empty report")
	}
	return content, nil
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
