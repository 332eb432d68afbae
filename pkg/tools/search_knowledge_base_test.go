package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lorehq/lore/pkg/protocol"
	"github.com/lorehq/lore/pkg/retrieval"
)

type fakeSearcher struct {
	gotQuery  string
	gotUser   string
	gotSpace  uuid.UUID
	gotOpts   retrieval.SearchOptions
	envelopes []retrieval.SourceEnvelope
	chunks    []retrieval.CitableChunk
	err       error
}

func (f *fakeSearcher) Search(_ context.Context, userID string, searchSpaceID uuid.UUID, query string, opts retrieval.SearchOptions) ([]retrieval.SourceEnvelope, []retrieval.CitableChunk, error) {
	f.gotQuery = query
	f.gotUser = userID
	f.gotSpace = searchSpaceID
	f.gotOpts = opts
	return f.envelopes, f.chunks, f.err
}

func TestSearchKnowledgeBaseRendersChunks(t *testing.T) {
	spaceID := uuid.New()
	searcher := &fakeSearcher{
		envelopes: []retrieval.SourceEnvelope{{ID: 4, Name: "Slack", Type: "SLACK_CONNECTOR"}},
		chunks: []retrieval.CitableChunk{
			{ChunkID: 101, Content: "we shipped it", Document: retrieval.DocumentRef{Type: "SLACK_CONNECTOR", Title: "standup"}},
			{ChunkID: 102, Content: "retro on friday", Document: retrieval.DocumentRef{Type: "SLACK_CONNECTOR", Title: "standup"}},
		},
	}

	var events []protocol.Event
	sink := protocol.Sink(func(e protocol.Event) { events = append(events, e) })

	tool := NewSearchKnowledgeBaseTool(searcher, sink, "user-1", spaceID)
	outcome := tool.Invoke(context.Background(), map[string]any{"query": "standup"})

	if outcome.Status != StatusSuccess {
		t.Fatalf("status = %q, err = %v", outcome.Status, outcome.Err)
	}
	if searcher.gotUser != "user-1" || searcher.gotSpace != spaceID {
		t.Errorf("identity not forwarded: user=%q space=%s", searcher.gotUser, searcher.gotSpace)
	}
	if searcher.gotOpts.TopK != 10 {
		t.Errorf("default top_k = %d, want 10", searcher.gotOpts.TopK)
	}
	if !strings.Contains(outcome.Result, "<chunk id='101'") || !strings.Contains(outcome.Result, "<chunk id='102'") {
		t.Errorf("chunk ids missing:\n%s", outcome.Result)
	}

	if len(events) != 1 || events[0].Kind != protocol.EventSources {
		t.Fatalf("expected one sources event, got %+v", events)
	}
	envelopes, ok := events[0].Progress["envelopes"].([]retrieval.SourceEnvelope)
	if !ok || len(envelopes) != 1 || envelopes[0].Name != "Slack" {
		t.Errorf("envelope payload wrong: %+v", events[0].Progress)
	}
}

func TestSearchKnowledgeBaseArgs(t *testing.T) {
	searcher := &fakeSearcher{}
	tool := NewSearchKnowledgeBaseTool(searcher, nil, "user-1", uuid.New())

	outcome := tool.Invoke(context.Background(), map[string]any{
		"query":                "roadmap",
		"top_k":                float64(3),
		"start_date":           "2025-06-01",
		"end_date":             "2025-06-30",
		"connectors_to_search": []any{"SLACK_CONNECTOR", "NOTION_CONNECTOR"},
	})
	if outcome.Status != StatusSuccess {
		t.Fatalf("status = %q, err = %v", outcome.Status, outcome.Err)
	}
	if outcome.Result != "No results found." {
		t.Errorf("empty search result = %q", outcome.Result)
	}

	if searcher.gotOpts.TopK != 3 {
		t.Errorf("top_k = %d, want 3", searcher.gotOpts.TopK)
	}
	if len(searcher.gotOpts.EnabledSources) != 2 || searcher.gotOpts.EnabledSources[0] != "SLACK_CONNECTOR" {
		t.Errorf("connectors_to_search = %v", searcher.gotOpts.EnabledSources)
	}

	dr := searcher.gotOpts.DateRange
	if dr == nil {
		t.Fatal("date range not set")
	}
	wantStart := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if !dr.Start.Equal(wantStart) {
		t.Errorf("start = %v, want %v", dr.Start, wantStart)
	}
	// End date is inclusive: the bound extends to the end of that day.
	wantEnd := time.Date(2025, 6, 30, 23, 59, 59, 0, time.UTC)
	if !dr.End.Equal(wantEnd) {
		t.Errorf("end = %v, want %v", dr.End, wantEnd)
	}
}

func TestSearchKnowledgeBaseValidation(t *testing.T) {
	tool := NewSearchKnowledgeBaseTool(&fakeSearcher{}, nil, "user-1", uuid.New())

	if outcome := tool.Invoke(context.Background(), map[string]any{}); outcome.Status != StatusFailed {
		t.Errorf("missing query should fail, got %q", outcome.Status)
	}
	outcome := tool.Invoke(context.Background(), map[string]any{
		"query":      "x",
		"start_date": "June 1st",
	})
	if outcome.Status != StatusFailed {
		t.Errorf("bad date should fail, got %q", outcome.Status)
	}
}
