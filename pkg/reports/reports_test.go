package reports

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/lorehq/lore/pkg/llms"
	"github.com/lorehq/lore/pkg/protocol"
	"github.com/lorehq/lore/pkg/retrieval"
	"github.com/lorehq/lore/pkg/store"
)

type fakeReportStore struct {
	inserted []store.ReportWrite
	reports  map[uuid.UUID]*store.Report
}

func newFakeReportStore() *fakeReportStore {
	return &fakeReportStore{reports: make(map[uuid.UUID]*store.Report)}
}

func (f *fakeReportStore) InsertReport(_ context.Context, w store.ReportWrite) (*store.Report, error) {
	f.inserted = append(f.inserted, w)
	r := &store.Report{
		ID:             uuid.New(),
		SearchSpaceID:  w.SearchSpaceID,
		ReportGroupID:  w.GroupID,
		Title:          w.Title,
		Content:        w.Content,
		WordCount:      w.WordCount,
		CharacterCount: w.CharacterCount,
		SectionCount:   w.SectionCount,
	}
	if r.ReportGroupID == uuid.Nil {
		r.ReportGroupID = r.ID
	}
	f.reports[r.ID] = r
	return r, nil
}

func (f *fakeReportStore) GetReport(_ context.Context, id uuid.UUID) (*store.Report, error) {
	if r, ok := f.reports[id]; ok {
		return r, nil
	}
	return nil, store.ErrNotFound
}

type fakeSearcher struct {
	queries []string
	chunks  map[string][]retrieval.CitableChunk
}

func (f *fakeSearcher) Search(_ context.Context, _ string, _ uuid.UUID, query string, opts retrieval.SearchOptions) ([]retrieval.SourceEnvelope, []retrieval.CitableChunk, error) {
	f.queries = append(f.queries, query)
	return nil, f.chunks[query], nil
}

// fakeLLM answers Generate by prompt inspection so concurrent section
// rewrites stay deterministic. GenerateStructured returns a canned plan.
type fakeLLM struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) string

	plan       string
	planPrompt string
}

func (f *fakeLLM) Generate(_ context.Context, messages []llms.Message, _ []llms.ToolDefinition) (string, []*llms.ToolCall, int, error) {
	prompt := messages[len(messages)-1].Content
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.reply == nil {
		return "# Report\n\nBody.", nil, 10, nil
	}
	return f.reply(prompt), nil, 10, nil
}

func (f *fakeLLM) GenerateStructured(_ context.Context, messages []llms.Message, _ []llms.ToolDefinition, _ *llms.StructuredOutputConfig) (string, []*llms.ToolCall, int, error) {
	f.mu.Lock()
	f.planPrompt = messages[len(messages)-1].Content
	f.mu.Unlock()
	return f.plan, nil, 10, nil
}

func (f *fakeLLM) GenerateStreaming(_ context.Context, _ []llms.Message, _ []llms.ToolDefinition) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk, 1)
	ch <- llms.StreamChunk{Type: "done"}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) GetModelName() string    { return "fake-llm" }
func (f *fakeLLM) GetMaxTokens() int       { return 4096 }
func (f *fakeLLM) GetTemperature() float64 { return 0 }
func (f *fakeLLM) Close() error            { return nil }

func (f *fakeLLM) SupportsStructuredOutput() bool { return true }

func stageSink(stages *[]string) protocol.Sink {
	return func(e protocol.Event) {
		if e.Kind != protocol.EventReportProgress {
			return
		}
		if stage, ok := e.Progress["stage"].(string); ok {
			*stages = append(*stages, stage)
		}
	}
}

func TestGenerateDraftsAndSaves(t *testing.T) {
	st := newFakeReportStore()
	searcher := &fakeSearcher{}
	llm := &fakeLLM{reply: func(string) string {
		return "# Retrieval\n\nHow search works.\n\n## Ranking\n\nRRF fuses the result lists."
	}}
	gen := NewGenerator(st, searcher, llm)

	var stages []string
	spaceID := uuid.New()
	report, err := gen.Generate(context.Background(), "user-1", spaceID, Request{
		Topic:          "Retrieval",
		SourceStrategy: StrategyProvided,
		SourceContent:  "Hybrid search notes.",
	}, stageSink(&stages))
	if err != nil {
		t.Fatal(err)
	}

	if len(searcher.queries) != 0 {
		t.Errorf("provided strategy ran searches: %v", searcher.queries)
	}
	if report.Title != "Retrieval" {
		t.Errorf("title = %q, want the topic", report.Title)
	}
	if report.SearchSpaceID != spaceID {
		t.Errorf("search space = %s, want %s", report.SearchSpaceID, spaceID)
	}
	if n := strings.Count(report.Content, Footer); n != 1 {
		t.Errorf("footer appears %d times, want 1", n)
	}
	if report.SectionCount != 2 {
		t.Errorf("section count = %d, want 2", report.SectionCount)
	}
	if report.WordCount != len(strings.Fields(report.Content)) {
		t.Errorf("word count = %d, want %d", report.WordCount, len(strings.Fields(report.Content)))
	}
	if len(st.inserted) != 1 || st.inserted[0].GroupID != uuid.Nil {
		t.Errorf("inserted = %+v, want one write starting a new lineage", st.inserted)
	}

	want := []string{"collecting_sources", "drafting", "saved"}
	if strings.Join(stages, ",") != strings.Join(want, ",") {
		t.Errorf("stages = %v, want %v", stages, want)
	}

	// The provided material must reach the drafting prompt.
	if len(llm.prompts) != 1 || !strings.Contains(llm.prompts[0], "Hybrid search notes.") {
		t.Errorf("draft prompt = %q", llm.prompts)
	}
}

func TestGenerateValidation(t *testing.T) {
	gen := NewGenerator(newFakeReportStore(), &fakeSearcher{}, &fakeLLM{})

	if _, err := gen.Generate(context.Background(), "u", uuid.New(), Request{Topic: "  "}, nil); err == nil {
		t.Error("expected an error for a blank topic")
	}
	if _, err := gen.Generate(context.Background(), "u", uuid.New(), Request{Topic: "x", Length: "epic"}, nil); err == nil {
		t.Error("expected an error for an unknown length")
	}
	if _, err := gen.Generate(context.Background(), "u", uuid.New(), Request{Topic: "x", SourceStrategy: "psychic"}, nil); err == nil {
		t.Error("expected an error for an unknown strategy")
	}
}

func TestAutoStrategySearchesBelowThreshold(t *testing.T) {
	searcher := &fakeSearcher{chunks: map[string][]retrieval.CitableChunk{
		"Retrieval": {{ChunkID: 1, Content: "Chunk about fusion."}},
	}}
	llm := &fakeLLM{}
	gen := NewGenerator(newFakeReportStore(), searcher, llm)

	_, err := gen.Generate(context.Background(), "user-1", uuid.New(), Request{
		Topic:         "Retrieval",
		SourceContent: "too short",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(searcher.queries) != 1 || searcher.queries[0] != "Retrieval" {
		t.Fatalf("queries = %v, want the topic as the default query", searcher.queries)
	}
	prompt := llm.prompts[0]
	if !strings.Contains(prompt, "----- Results for: Retrieval -----") {
		t.Errorf("draft prompt lacks the per-query separator:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Chunk about fusion.") {
		t.Errorf("draft prompt lacks the search hits:\n%s", prompt)
	}
}

func TestAutoStrategyKeepsLongContent(t *testing.T) {
	searcher := &fakeSearcher{}
	llm := &fakeLLM{}
	gen := NewGenerator(newFakeReportStore(), searcher, llm)

	long := strings.TrimSpace(strings.Repeat("substance ", autoSourceWords))
	_, err := gen.Generate(context.Background(), "user-1", uuid.New(), Request{
		Topic:         "Retrieval",
		SourceContent: long,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(searcher.queries) != 0 {
		t.Errorf("long provided content still triggered searches: %v", searcher.queries)
	}
	if !strings.Contains(llm.prompts[0], long) {
		t.Error("draft prompt lacks the provided content")
	}
}

func TestKBSearchCapsQueries(t *testing.T) {
	searcher := &fakeSearcher{chunks: map[string][]retrieval.CitableChunk{
		"q1": {{ChunkID: 1, Content: "hit one"}},
	}}
	llm := &fakeLLM{}
	gen := NewGenerator(newFakeReportStore(), searcher, llm)

	_, err := gen.Generate(context.Background(), "user-1", uuid.New(), Request{
		Topic:          "Caps",
		SourceStrategy: StrategyKBSearch,
		SearchQueries:  []string{"q1", "q2", "q3", "q4", "q5", "q6", "q7"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(searcher.queries) != maxSearchQueries {
		t.Fatalf("queries = %d, want %d", len(searcher.queries), maxSearchQueries)
	}
	prompt := llm.prompts[0]
	if strings.Contains(prompt, "Results for: q6") {
		t.Error("query past the cap reached the prompt")
	}
	// A query with no hits still gets its separator, with a placeholder.
	if !strings.Contains(prompt, "----- Results for: q2 -----\n\n(no results)") {
		t.Errorf("empty query missing its placeholder:\n%s", prompt)
	}
}

func TestBriefLengthInstruction(t *testing.T) {
	llm := &fakeLLM{}
	gen := NewGenerator(newFakeReportStore(), &fakeSearcher{}, llm)

	_, err := gen.Generate(context.Background(), "user-1", uuid.New(), Request{
		Topic:          "Short one",
		Length:         LengthBrief,
		SourceStrategy: StrategyProvided,
		SourceContent:  "notes",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(llm.prompts[0], "roughly 500 words") {
		t.Errorf("brief drafts must carry the length instruction:\n%s", llm.prompts[0])
	}
}

func TestReviseTargetedSections(t *testing.T) {
	st := newFakeReportStore()
	spaceID := uuid.New()
	parentBody := "# Overview\n\nStays put.\n\n## Details\n\nOld details.\n\n## Closing\n\nFin."
	parent, err := st.InsertReport(context.Background(), store.ReportWrite{
		SearchSpaceID: spaceID,
		Title:         "Quarterly notes",
		Content:       appendFooter(parentBody),
	})
	if err != nil {
		t.Fatal(err)
	}

	llm := &fakeLLM{
		plan: `{"modify": [1], "add": [{"after": 2, "heading": "Next steps", "description": "what happens next"}], "remove": []}`,
		reply: func(prompt string) string {
			switch {
			case strings.Contains(prompt, "Rewrite this section"):
				return "## Details\n\nNew details."
			case strings.Contains(prompt, `Write a new section titled "Next steps"`):
				return "## Next steps\n\nDo things."
			default:
				t.Errorf("unexpected generate prompt:\n%s", prompt)
				return ""
			}
		},
	}
	gen := NewGenerator(st, &fakeSearcher{}, llm)

	var stages []string
	report, err := gen.Generate(context.Background(), "user-1", spaceID, Request{
		Topic:          "Add next steps and refresh the details",
		SourceStrategy: StrategyProvided,
		SourceContent:  "fresh notes",
		ParentReportID: parent.ID,
	}, stageSink(&stages))
	if err != nil {
		t.Fatal(err)
	}

	want := "# Overview\n\nStays put.\n\n## Details\n\nNew details.\n\n## Closing\n\nFin.\n\n## Next steps\n\nDo things." +
		"\n\n---\n" + Footer + "\n"
	if report.Content != want {
		t.Errorf("content:\n%q\nwant:\n%q", report.Content, want)
	}
	if report.Title != "Quarterly notes" {
		t.Errorf("title = %q, want the parent's title", report.Title)
	}
	if report.ReportGroupID != parent.ReportGroupID {
		t.Errorf("group = %s, want the parent lineage %s", report.ReportGroupID, parent.ReportGroupID)
	}
	if report.ID == parent.ID {
		t.Error("revision must be a new version, not an in-place update")
	}

	wantStages := []string{"collecting_sources", "planning", "revising", "saved"}
	if strings.Join(stages, ",") != strings.Join(wantStages, ",") {
		t.Errorf("stages = %v, want %v", stages, wantStages)
	}
}

func TestReviseRemovesSections(t *testing.T) {
	st := newFakeReportStore()
	spaceID := uuid.New()
	parent, err := st.InsertReport(context.Background(), store.ReportWrite{
		SearchSpaceID: spaceID,
		Title:         "Trimmed",
		Content:       appendFooter("# Keep\n\nA.\n\n## Drop\n\nB.\n\n## Tail\n\nC."),
	})
	if err != nil {
		t.Fatal(err)
	}

	// The plan arrives fenced; the parser unwraps it.
	llm := &fakeLLM{plan: "```json\n{\"modify\": [], \"add\": [], \"remove\": [1]}\n```"}
	gen := NewGenerator(st, &fakeSearcher{}, llm)

	report, err := gen.Generate(context.Background(), "user-1", spaceID, Request{
		Topic:          "Drop the middle section",
		ParentReportID: parent.ID,
		SourceStrategy: StrategyProvided,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	want := "# Keep\n\nA.\n\n## Tail\n\nC.\n\n---\n" + Footer + "\n"
	if report.Content != want {
		t.Errorf("content:\n%q\nwant:\n%q", report.Content, want)
	}
	if len(llm.prompts) != 0 {
		t.Errorf("pure removal regenerated sections: %q", llm.prompts)
	}
}

func TestReviseFullPlanFallsBackToRewrite(t *testing.T) {
	st := newFakeReportStore()
	spaceID := uuid.New()
	parent, err := st.InsertReport(context.Background(), store.ReportWrite{
		SearchSpaceID: spaceID,
		Title:         "Rewritten",
		Content:       appendFooter("# One\n\nA.\n\n## Two\n\nB."),
	})
	if err != nil {
		t.Fatal(err)
	}

	llm := &fakeLLM{
		plan:  `{"modify": [0, 1, 1], "add": [], "remove": []}`,
		reply: func(string) string { return "# Fresh\n\nAll new." },
	}
	gen := NewGenerator(st, &fakeSearcher{}, llm)

	report, err := gen.Generate(context.Background(), "user-1", spaceID, Request{
		Topic:          "Start over",
		ParentReportID: parent.ID,
		SourceStrategy: StrategyProvided,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(report.Content, "# Fresh") {
		t.Errorf("content = %q, want a full rewrite", report.Content)
	}
	if len(llm.prompts) != 1 || !strings.Contains(llm.prompts[0], "Topic: Start over") {
		t.Errorf("prompts = %q, want one drafting call", llm.prompts)
	}
}

func TestReviseParentOutsideSpace(t *testing.T) {
	st := newFakeReportStore()
	parent, err := st.InsertReport(context.Background(), store.ReportWrite{
		SearchSpaceID: uuid.New(),
		Title:         "Someone else's",
		Content:       appendFooter("# X\n\nY."),
	})
	if err != nil {
		t.Fatal(err)
	}
	gen := NewGenerator(st, &fakeSearcher{}, &fakeLLM{})

	_, err = gen.Generate(context.Background(), "user-1", uuid.New(), Request{
		Topic:          "Revise",
		ParentReportID: parent.ID,
		SourceStrategy: StrategyProvided,
	}, nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want %v", err, store.ErrNotFound)
	}
}
