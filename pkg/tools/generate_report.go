package tools

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/lorehq/lore/pkg/protocol"
	"github.com/lorehq/lore/pkg/reports"
	"github.com/lorehq/lore/pkg/store"
)

// ReportGenerator is the slice of the report generator this tool drives.
type ReportGenerator interface {
	Generate(ctx context.Context, userID string, searchSpaceID uuid.UUID, req reports.Request, sink protocol.Sink) (*store.Report, error)
}

type generateReportArgs struct {
	Topic          string   `json:"topic" jsonschema:"required,description=What the report should cover"`
	Length         string   `json:"length,omitempty" jsonschema:"description=Report length,enum=brief|detailed|deep_research,default=detailed"`
	SourceStrategy string   `json:"source_strategy,omitempty" jsonschema:"description=Where source material comes from,enum=provided|conversation|kb_search|auto,default=auto"`
	SourceContent  string   `json:"source_content,omitempty" jsonschema:"description=Source material for the provided strategy"`
	SearchQueries  []string `json:"search_queries,omitempty" jsonschema:"description=Up to 5 knowledge-base queries for the kb_search strategy"`
	ParentReportID string   `json:"parent_report_id,omitempty" jsonschema:"description=Report id to revise instead of writing a new one"`
}

// GenerateReportTool runs report generation in-line, streaming
// report_progress events on the turn's sink. The conversation supplier
// feeds the conversation source strategy.
type GenerateReportTool struct {
	generator     ReportGenerator
	sink          protocol.Sink
	conversation  func() string
	userID        string
	searchSpaceID uuid.UUID
}

func NewGenerateReportTool(generator ReportGenerator, sink protocol.Sink, conversation func() string, userID string, searchSpaceID uuid.UUID) *GenerateReportTool {
	return &GenerateReportTool{
		generator:     generator,
		sink:          sink,
		conversation:  conversation,
		userID:        userID,
		searchSpaceID: searchSpaceID,
	}
}

func (t *GenerateReportTool) Name() string { return "generate_report" }

func (t *GenerateReportTool) Description() string {
	return "Write or revise a structured Markdown report on a topic, sourcing material from provided content, the conversation, or knowledge-base searches."
}

func (t *GenerateReportTool) ArgsSchema() map[string]any {
	return argsSchema[generateReportArgs]()
}

func (t *GenerateReportTool) Invoke(ctx context.Context, args map[string]any) ToolOutcome {
	topic := stringArg(args, "topic")
	if topic == "" {
		return Failedf("topic is required")
	}

	req := reports.Request{
		Topic:          topic,
		Length:         stringArg(args, "length"),
		SourceStrategy: stringArg(args, "source_strategy"),
		SourceContent:  stringArg(args, "source_content"),
		SearchQueries:  stringListArg(args, "search_queries"),
	}

	if raw := stringArg(args, "parent_report_id"); raw != "" {
		parentID, err := uuid.Parse(raw)
		if err != nil {
			return Failedf("invalid parent_report_id %q", raw)
		}
		req.ParentReportID = parentID
	}

	if req.SourceStrategy == reports.StrategyConversation && t.conversation != nil {
		req.SourceContent = t.conversation()
	}

	report, err := t.generator.Generate(ctx, t.userID, t.searchSpaceID, req, t.sink)
	if err != nil {
		return Failed(err)
	}

	data, err := json.Marshal(map[string]any{
		"status":        "generated",
		"report_id":     report.ID.String(),
		"title":         report.Title,
		"word_count":    report.WordCount,
		"section_count": report.SectionCount,
	})
	if err != nil {
		return Failed(err)
	}
	return Success(string(data))
}
