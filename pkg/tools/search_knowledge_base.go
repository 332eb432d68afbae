package tools

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lorehq/lore/pkg/protocol"
	"github.com/lorehq/lore/pkg/retrieval"
)

// KnowledgeSearcher is the slice of the retrieval engine this tool
// drives.
type KnowledgeSearcher interface {
	Search(ctx context.Context, userID string, searchSpaceID uuid.UUID, query string, opts retrieval.SearchOptions) ([]retrieval.SourceEnvelope, []retrieval.CitableChunk, error)
}

type searchKnowledgeBaseArgs struct {
	Query              string   `json:"query" jsonschema:"required,description=Natural-language search query"`
	TopK               int      `json:"top_k,omitempty" jsonschema:"description=Maximum number of chunks to return,default=10"`
	StartDate          string   `json:"start_date,omitempty" jsonschema:"description=Only include content created on or after this date (YYYY-MM-DD)"`
	EndDate            string   `json:"end_date,omitempty" jsonschema:"description=Only include content created on or before this date (YYYY-MM-DD)"`
	ConnectorsToSearch []string `json:"connectors_to_search,omitempty" jsonschema:"description=Connector types to restrict the search to; empty searches everything"`
}

// SearchKnowledgeBaseTool searches the user's indexed sources and
// returns the citation context block. Source envelopes go to the client
// on the event sink so it can map citation ids back to URLs.
type SearchKnowledgeBaseTool struct {
	searcher      KnowledgeSearcher
	sink          protocol.Sink
	userID        string
	searchSpaceID uuid.UUID
}

func NewSearchKnowledgeBaseTool(searcher KnowledgeSearcher, sink protocol.Sink, userID string, searchSpaceID uuid.UUID) *SearchKnowledgeBaseTool {
	return &SearchKnowledgeBaseTool{
		searcher:      searcher,
		sink:          sink,
		userID:        userID,
		searchSpaceID: searchSpaceID,
	}
}

func (t *SearchKnowledgeBaseTool) Name() string { return "search_knowledge_base" }

func (t *SearchKnowledgeBaseTool) Description() string {
	return "Search the user's indexed knowledge base (documents, messages, issues, pages) and return the most relevant chunks. Cite returned chunk ids with [citation:<id>]."
}

func (t *SearchKnowledgeBaseTool) ArgsSchema() map[string]any {
	return argsSchema[searchKnowledgeBaseArgs]()
}

func (t *SearchKnowledgeBaseTool) Invoke(ctx context.Context, args map[string]any) ToolOutcome {
	query := stringArg(args, "query")
	if query == "" {
		return Failedf("query is required")
	}

	opts := retrieval.SearchOptions{
		TopK:           intArg(args, "top_k", 10),
		EnabledSources: stringListArg(args, "connectors_to_search"),
	}

	dateRange, err := parseDateRange(stringArg(args, "start_date"), stringArg(args, "end_date"))
	if err != nil {
		return Failed(err)
	}
	opts.DateRange = dateRange

	envelopes, chunks, err := t.searcher.Search(ctx, t.userID, t.searchSpaceID, query, opts)
	if err != nil {
		return Failed(err)
	}

	if len(envelopes) > 0 {
		t.sink.Progress(protocol.EventSources, map[string]any{"envelopes": envelopes})
	}

	rendered := make([]contextChunk, len(chunks))
	for i, c := range chunks {
		rendered[i] = contextChunk{
			ID:      strconv.FormatInt(c.ChunkID, 10),
			Source:  c.Document.Type,
			Title:   c.Document.Title,
			Content: c.Content,
		}
	}
	return Success(renderChunks(rendered))
}

// parseDateRange turns optional YYYY-MM-DD bounds into a retrieval date
// range. The end date is inclusive, so it extends to the end of that day.
func parseDateRange(start, end string) (*retrieval.DateRange, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	var dr retrieval.DateRange
	if start != "" {
		parsed, err := time.Parse("2006-01-02", start)
		if err != nil {
			return nil, fmt.Errorf("invalid start_date %q, expected YYYY-MM-DD", start)
		}
		dr.Start = parsed
	}
	if end != "" {
		parsed, err := time.Parse("2006-01-02", end)
		if err != nil {
			return nil, fmt.Errorf("invalid end_date %q, expected YYYY-MM-DD", end)
		}
		dr.End = parsed.Add(24*time.Hour - time.Second)
	}
	return &dr, nil
}
