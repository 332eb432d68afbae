package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lorehq/lore/pkg/agent"
	"github.com/lorehq/lore/pkg/canonical"
	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/connectors"
	"github.com/lorehq/lore/pkg/ingest"
	"github.com/lorehq/lore/pkg/protocol"
	"github.com/lorehq/lore/pkg/reports"
	"github.com/lorehq/lore/pkg/retrieval"
	"github.com/lorehq/lore/pkg/store"
)

type fakeStore struct {
	mu         sync.Mutex
	spaces     map[uuid.UUID]*store.SearchSpace
	connectors map[uuid.UUID]*store.Connector
	chats      map[uuid.UUID]*store.Chat
	messages   map[uuid.UUID][]store.ChatMessage
	podcasts   map[uuid.UUID]*store.Podcast
	reports    map[uuid.UUID]*store.Report
	taskLogs   []store.TaskLog
	jobs       []*store.Job
	pingErr    error

	titles        map[uuid.UUID]string
	gotTaskSource string
	gotTaskLimit  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		spaces:     make(map[uuid.UUID]*store.SearchSpace),
		connectors: make(map[uuid.UUID]*store.Connector),
		chats:      make(map[uuid.UUID]*store.Chat),
		messages:   make(map[uuid.UUID][]store.ChatMessage),
		podcasts:   make(map[uuid.UUID]*store.Podcast),
		reports:    make(map[uuid.UUID]*store.Report),
		titles:     make(map[uuid.UUID]string),
	}
}

func (f *fakeStore) addSpace(userID string) *store.SearchSpace {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &store.SearchSpace{ID: uuid.New(), UserID: userID, Name: "work", CreatedAt: time.Now()}
	f.spaces[s.ID] = s
	return s
}

func (f *fakeStore) addChat(spaceID uuid.UUID, title string) *store.Chat {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &store.Chat{ID: uuid.New(), SearchSpaceID: spaceID, Title: title, CreatedAt: time.Now()}
	f.chats[c.ID] = c
	return c
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) CreateSearchSpace(_ context.Context, userID, name, description string) (*store.SearchSpace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &store.SearchSpace{ID: uuid.New(), UserID: userID, Name: name, Description: description, CreatedAt: time.Now()}
	f.spaces[s.ID] = s
	return s, nil
}

func (f *fakeStore) GetSearchSpace(_ context.Context, id uuid.UUID, userID string) (*store.SearchSpace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.spaces[id]
	if !ok || s.UserID != userID {
		return nil, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) ListSearchSpaces(_ context.Context, userID string) ([]store.SearchSpace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.SearchSpace
	for _, s := range f.spaces {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteSearchSpace(_ context.Context, id uuid.UUID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.spaces[id]
	if !ok || s.UserID != userID {
		return store.ErrNotFound
	}
	delete(f.spaces, id)
	return nil
}

func (f *fakeStore) GetConnector(_ context.Context, id uuid.UUID) (*store.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connectors[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) CreateChat(_ context.Context, searchSpaceID uuid.UUID, title string) (*store.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &store.Chat{ID: uuid.New(), SearchSpaceID: searchSpaceID, Title: title, CreatedAt: time.Now()}
	f.chats[c.ID] = c
	return c, nil
}

func (f *fakeStore) GetChat(_ context.Context, id uuid.UUID) (*store.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) ListChats(_ context.Context, searchSpaceID uuid.UUID) ([]store.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Chat
	for _, c := range f.chats {
		if c.SearchSpaceID == searchSpaceID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) ListChatMessages(_ context.Context, chatID uuid.UUID) ([]store.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[chatID], nil
}

func (f *fakeStore) UpdateChatTitle(_ context.Context, id uuid.UUID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Title = title
	f.titles[id] = title
	return nil
}

func (f *fakeStore) DeleteChat(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.chats[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.chats, id)
	return nil
}

func (f *fakeStore) GetPodcast(_ context.Context, id uuid.UUID) (*store.Podcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.podcasts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) ListPodcasts(_ context.Context, searchSpaceID uuid.UUID) ([]store.Podcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Podcast
	for _, p := range f.podcasts {
		if p.SearchSpaceID == searchSpaceID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) CreatePodcast(_ context.Context, id, searchSpaceID uuid.UUID, title string) (*store.Podcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &store.Podcast{ID: id, SearchSpaceID: searchSpaceID, Title: title, Status: store.PodcastPending}
	f.podcasts[id] = p
	return p, nil
}

func (f *fakeStore) EnqueueJob(_ context.Context, kind string, payload map[string]any, runAfter time.Time) (*store.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := &store.Job{ID: uuid.New(), Kind: kind, Payload: payload, Status: store.JobPending, RunAfter: runAfter}
	f.jobs = append(f.jobs, j)
	return j, nil
}

func (f *fakeStore) GetReport(_ context.Context, id uuid.UUID) (*store.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) ListReports(_ context.Context, searchSpaceID uuid.UUID) ([]store.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Report
	for _, r := range f.reports {
		if r.SearchSpaceID == searchSpaceID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) ListTaskLogs(_ context.Context, source string, limit int) ([]store.TaskLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotTaskSource = source
	f.gotTaskLimit = limit
	return f.taskLogs, nil
}

type fakeKV struct {
	mu      sync.Mutex
	locks   map[string]string
	pingErr error
}

func (f *fakeKV) Ping(context.Context) error { return f.pingErr }

func (f *fakeKV) AcquireLock(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks == nil {
		f.locks = make(map[string]string)
	}
	if _, held := f.locks[key]; held {
		return false, nil
	}
	f.locks[key] = value
	return true, nil
}

func (f *fakeKV) LockHolder(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locks[key], nil
}

// fakeAgent replays scripted events. When approval is set it emits the
// request and blocks on the decider, like a gated tool would.
type fakeAgent struct {
	mu       sync.Mutex
	events   []protocol.Event
	approval *protocol.Approval
	err      error

	gotReq   agent.TurnRequest
	decision protocol.Decision
}

func (f *fakeAgent) Turn(ctx context.Context, req agent.TurnRequest, sink protocol.Sink, decide agent.Decider) (*store.ChatMessage, error) {
	f.mu.Lock()
	f.gotReq = req
	approval := f.approval
	events := f.events
	errOut := f.err
	f.mu.Unlock()

	if approval != nil {
		sink.Send(protocol.Event{Kind: protocol.EventApprovalRequest, Approval: approval})
		d, err := decide(ctx, approval)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.decision = d
		f.mu.Unlock()
	}
	for _, e := range events {
		sink.Send(e)
	}
	if errOut != nil {
		return nil, errOut
	}
	return &store.ChatMessage{ID: uuid.New(), ChatID: req.ChatID, Role: store.ChatRoleAssistant, Content: "done"}, nil
}

func (f *fakeAgent) lastDecision() protocol.Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decision
}

type fakeSearcher struct {
	chunks  []retrieval.CitableChunk
	err     error
	gotOpts retrieval.SearchOptions
}

func (f *fakeSearcher) Search(_ context.Context, _ string, _ uuid.UUID, _ string, opts retrieval.SearchOptions) ([]retrieval.SourceEnvelope, []retrieval.CitableChunk, error) {
	f.gotOpts = opts
	return nil, f.chunks, f.err
}

type fakeConnectorService struct {
	descs   []connectors.Descriptor
	stats   connectors.RunStats
	err     error
	gotOpts connectors.RunOptions
}

func (f *fakeConnectorService) ListConnectors(context.Context, string, uuid.UUID) ([]connectors.Descriptor, error) {
	return f.descs, nil
}

func (f *fakeConnectorService) RunConnector(_ context.Context, _ uuid.UUID, opts connectors.RunOptions) (connectors.RunStats, error) {
	f.gotOpts = opts
	return f.stats, f.err
}

type fakeReportService struct {
	report *store.Report
	err    error
	gotReq reports.Request
}

func (f *fakeReportService) Generate(_ context.Context, _ string, _ uuid.UUID, req reports.Request, _ protocol.Sink) (*store.Report, error) {
	f.gotReq = req
	return f.report, f.err
}

type fakeIngestor struct {
	gotSpace uuid.UUID
	gotDoc   *canonical.Document
}

func (f *fakeIngestor) Ingest(_ context.Context, searchSpaceID uuid.UUID, _ *uuid.UUID, doc *canonical.Document) (*ingest.Result, error) {
	f.gotSpace = searchSpaceID
	f.gotDoc = doc
	return &ingest.Result{
		Document: &store.Document{ID: uuid.New(), SearchSpaceID: searchSpaceID, Title: doc.Title},
		Outcome:  "created",
	}, nil
}

func testDeps(st *fakeStore) Deps {
	return Deps{
		Store:      st,
		KV:         &fakeKV{},
		Agent:      &fakeAgent{},
		Search:     &fakeSearcher{},
		Connectors: &fakeConnectorService{},
		Reports:    &fakeReportService{},
		Ingest:     &fakeIngestor{},
	}
}

func newTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	cfg := config.ServerConfig{}
	cfg.SetDefaults()
	ts := httptest.NewServer(New(cfg, deps).Routes())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, user string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func wantStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d (body: %s)", resp.StatusCode, want, data)
	}
}

func TestHealthz(t *testing.T) {
	st := newFakeStore()
	deps := testDeps(st)
	ts := newTestServer(t, deps)

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	wantStatus(t, resp, http.StatusOK)
	body := decodeBody[map[string]any](t, resp)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestHealthzDegraded(t *testing.T) {
	st := newFakeStore()
	deps := testDeps(st)
	deps.KV = &fakeKV{pingErr: errors.New("connection refused")}
	ts := newTestServer(t, deps)

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	wantStatus(t, resp, http.StatusServiceUnavailable)
	body := decodeBody[map[string]any](t, resp)
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
}

func TestRequireUser(t *testing.T) {
	ts := newTestServer(t, testDeps(newFakeStore()))

	resp := doJSON(t, ts, http.MethodGet, "/spaces", "", nil)
	wantStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestSpaceLifecycle(t *testing.T) {
	st := newFakeStore()
	ts := newTestServer(t, testDeps(st))

	resp := doJSON(t, ts, http.MethodPost, "/spaces", "u1", map[string]string{"name": "work", "description": "team notes"})
	wantStatus(t, resp, http.StatusCreated)
	created := decodeBody[spaceDTO](t, resp)
	if created.Name != "work" {
		t.Errorf("name = %q", created.Name)
	}

	resp = doJSON(t, ts, http.MethodGet, "/spaces", "u1", nil)
	wantStatus(t, resp, http.StatusOK)
	if spaces := decodeBody[[]spaceDTO](t, resp); len(spaces) != 1 {
		t.Errorf("listed %d spaces, want 1", len(spaces))
	}

	// Another user cannot see or delete it.
	resp = doJSON(t, ts, http.MethodGet, "/spaces", "u2", nil)
	wantStatus(t, resp, http.StatusOK)
	if spaces := decodeBody[[]spaceDTO](t, resp); len(spaces) != 0 {
		t.Errorf("foreign list sees %d spaces", len(spaces))
	}
	resp = doJSON(t, ts, http.MethodDelete, "/spaces/"+created.ID.String(), "u2", nil)
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = doJSON(t, ts, http.MethodDelete, "/spaces/"+created.ID.String(), "u1", nil)
	wantStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
}

func TestSearch(t *testing.T) {
	st := newFakeStore()
	space := st.addSpace("u1")
	deps := testDeps(st)
	searcher := &fakeSearcher{chunks: []retrieval.CitableChunk{{ChunkID: 7, Content: "standup at 9am", Score: 0.9}}}
	deps.Search = searcher
	ts := newTestServer(t, deps)

	resp := doJSON(t, ts, http.MethodPost, "/search", "u1", map[string]any{
		"search_space_id": space.ID,
		"query":           "standup time",
		"top_k":           5,
		"start_date":      "2025-01-01",
		"end_date":        "2025-06-30",
	})
	wantStatus(t, resp, http.StatusOK)
	body := decodeBody[struct {
		Chunks []retrieval.CitableChunk `json:"chunks"`
	}](t, resp)
	if len(body.Chunks) != 1 || body.Chunks[0].ChunkID != 7 {
		t.Errorf("chunks = %+v", body.Chunks)
	}

	if searcher.gotOpts.TopK != 5 || searcher.gotOpts.DateRange == nil {
		t.Fatalf("opts = %+v", searcher.gotOpts)
	}
	if got := searcher.gotOpts.DateRange.Start.Format("2006-01-02"); got != "2025-01-01" {
		t.Errorf("start = %s", got)
	}
	// End of range covers the whole closing day.
	if got := searcher.gotOpts.DateRange.End.Format("2006-01-02 15:04:05"); got != "2025-06-30 23:59:59" {
		t.Errorf("end = %s", got)
	}
}

func TestSearchForeignSpace(t *testing.T) {
	st := newFakeStore()
	space := st.addSpace("owner")
	ts := newTestServer(t, testDeps(st))

	resp := doJSON(t, ts, http.MethodPost, "/search", "intruder", map[string]any{
		"search_space_id": space.ID,
		"query":           "secrets",
	})
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestSearchBadDate(t *testing.T) {
	st := newFakeStore()
	space := st.addSpace("u1")
	ts := newTestServer(t, testDeps(st))

	resp := doJSON(t, ts, http.MethodPost, "/search", "u1", map[string]any{
		"search_space_id": space.ID,
		"query":           "q",
		"start_date":      "January 1st",
	})
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestRunConnector(t *testing.T) {
	st := newFakeStore()
	space := st.addSpace("u1")
	connID := uuid.New()
	st.connectors[connID] = &store.Connector{ID: connID, UserID: "u1", SearchSpaceID: space.ID, ConnectorType: store.TypeSlack}

	deps := testDeps(st)
	svc := &fakeConnectorService{stats: connectors.RunStats{DocumentsIndexed: 12, DocumentsSkipped: 3}}
	deps.Connectors = svc
	ts := newTestServer(t, deps)

	resp := doJSON(t, ts, http.MethodPost, "/connectors/"+connID.String()+"/run", "u1", map[string]any{
		"start_date":    "2025-03-01",
		"update_cursor": false,
	})
	wantStatus(t, resp, http.StatusOK)
	body := decodeBody[map[string]int](t, resp)
	if body["documents_indexed"] != 12 || body["documents_skipped"] != 3 {
		t.Errorf("stats = %v", body)
	}

	if svc.gotOpts.UpdateCursor {
		t.Error("update_cursor=false not honored")
	}
	if svc.gotOpts.StartDate == nil || svc.gotOpts.StartDate.Format("2006-01-02") != "2025-03-01" {
		t.Errorf("start date = %v", svc.gotOpts.StartDate)
	}
}

func TestRunConnectorDefaultsCursor(t *testing.T) {
	st := newFakeStore()
	space := st.addSpace("u1")
	connID := uuid.New()
	st.connectors[connID] = &store.Connector{ID: connID, UserID: "u1", SearchSpaceID: space.ID}

	deps := testDeps(st)
	svc := &fakeConnectorService{}
	deps.Connectors = svc
	ts := newTestServer(t, deps)

	resp := doJSON(t, ts, http.MethodPost, "/connectors/"+connID.String()+"/run", "u1", nil)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	if !svc.gotOpts.UpdateCursor {
		t.Error("cursor update should default on")
	}
}

func TestRunConnectorErrorMapping(t *testing.T) {
	st := newFakeStore()
	space := st.addSpace("u1")
	connID := uuid.New()
	st.connectors[connID] = &store.Connector{ID: connID, UserID: "u1", SearchSpaceID: space.ID}

	cases := []struct {
		kind connectors.Kind
		want int
	}{
		{connectors.KindRateLimited, http.StatusTooManyRequests},
		{connectors.KindMissingCredentials, http.StatusConflict},
		{connectors.KindTransientUpstream, http.StatusBadGateway},
	}
	for _, tc := range cases {
		deps := testDeps(st)
		deps.Connectors = &fakeConnectorService{err: &connectors.Error{Kind: tc.kind, Connector: "slack", Message: "nope"}}
		ts := newTestServer(t, deps)

		resp := doJSON(t, ts, http.MethodPost, "/connectors/"+connID.String()+"/run", "u1", nil)
		wantStatus(t, resp, tc.want)
		resp.Body.Close()
	}
}

func TestRunConnectorForeignUser(t *testing.T) {
	st := newFakeStore()
	space := st.addSpace("owner")
	connID := uuid.New()
	st.connectors[connID] = &store.Connector{ID: connID, UserID: "owner", SearchSpaceID: space.ID}
	ts := newTestServer(t, testDeps(st))

	resp := doJSON(t, ts, http.MethodPost, "/connectors/"+connID.String()+"/run", "intruder", nil)
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestChatLifecycle(t *testing.T) {
	st := newFakeStore()
	space := st.addSpace("u1")
	ts := newTestServer(t, testDeps(st))

	resp := doJSON(t, ts, http.MethodPost, "/chats", "u1", map[string]any{
		"search_space_id": space.ID,
		"title":           "deploy questions",
	})
	wantStatus(t, resp, http.StatusCreated)
	chat := decodeBody[chatDTO](t, resp)

	st.mu.Lock()
	st.messages[chat.ID] = []store.ChatMessage{
		{ID: uuid.New(), ChatID: chat.ID, Role: store.ChatRoleUser, Content: "when do we deploy?"},
		{ID: uuid.New(), ChatID: chat.ID, Role: store.ChatRoleAssistant, Content: "Fridays."},
	}
	st.mu.Unlock()

	resp = doJSON(t, ts, http.MethodGet, "/chats/"+chat.ID.String(), "u1", nil)
	wantStatus(t, resp, http.StatusOK)
	detail := decodeBody[struct {
		Chat     chatDTO      `json:"chat"`
		Messages []messageDTO `json:"messages"`
	}](t, resp)
	if detail.Chat.Title != "deploy questions" || len(detail.Messages) != 2 {
		t.Errorf("chat = %+v messages = %d", detail.Chat, len(detail.Messages))
	}

	resp = doJSON(t, ts, http.MethodGet, "/chats?search_space_id="+space.ID.String(), "u1", nil)
	wantStatus(t, resp, http.StatusOK)
	if chats := decodeBody[[]chatDTO](t, resp); len(chats) != 1 {
		t.Errorf("listed %d chats", len(chats))
	}

	// Foreign user cannot read the chat.
	resp = doJSON(t, ts, http.MethodGet, "/chats/"+chat.ID.String(), "u2", nil)
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = doJSON(t, ts, http.MethodDelete, "/chats/"+chat.ID.String(), "u1", nil)
	wantStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
}

func readEvents(t *testing.T, body io.Reader) []protocol.Event {
	t.Helper()
	var events []protocol.Event
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e protocol.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		events = append(events, e)
	}
	return events
}

func TestTurnStreamsEvents(t *testing.T) {
	st := newFakeStore()
	space := st.addSpace("u1")
	chat := st.addChat(space.ID, "named already")

	deps := testDeps(st)
	ag := &fakeAgent{events: []protocol.Event{
		{Kind: protocol.EventMessageDelta, Delta: "Fridays"},
		{Kind: protocol.EventDone, Tokens: 9},
	}}
	deps.Agent = ag
	ts := newTestServer(t, deps)

	resp := doJSON(t, ts, http.MethodPost, "/chats/"+chat.ID.String()+"/turns", "u1", map[string]string{"message": "when do we deploy?"})
	wantStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	events := readEvents(t, resp.Body)
	resp.Body.Close()

	if len(events) != 2 || events[0].Kind != protocol.EventMessageDelta || events[1].Kind != protocol.EventDone {
		t.Fatalf("events = %+v", events)
	}
	if events[1].Tokens != 9 {
		t.Errorf("done tokens = %d", events[1].Tokens)
	}

	ag.mu.Lock()
	req := ag.gotReq
	ag.mu.Unlock()
	if req.UserID != "u1" || req.ChatID != chat.ID || req.Message != "when do we deploy?" {
		t.Errorf("turn request = %+v", req)
	}

	// Chat already has a title; no rename.
	st.mu.Lock()
	_, renamed := st.titles[chat.ID]
	st.mu.Unlock()
	if renamed {
		t.Error("titled chat was renamed")
	}
}

func TestTurnEmitsErrorEvent(t *testing.T) {
	st := newFakeStore()
	space := st.addSpace("u1")
	chat := st.addChat(space.ID, "t")

	deps := testDeps(st)
	deps.Agent = &fakeAgent{err: errors.New("llm unavailable")}
	ts := newTestServer(t, deps)

	resp := doJSON(t, ts, http.MethodPost, "/chats/"+chat.ID.String()+"/turns", "u1", map[string]string{"message": "hi"})
	wantStatus(t, resp, http.StatusOK)
	events := readEvents(t, resp.Body)
	resp.Body.Close()

	if len(events) != 1 || events[0].Kind != protocol.EventError {
		t.Fatalf("events = %+v", events)
	}
	if !strings.Contains(events[0].Error, "llm unavailable") {
		t.Errorf("error = %q", events[0].Error)
	}
}

func TestTurnAutoNamesChat(t *testing.T) {
	st := newFakeStore()
	space := st.addSpace("u1")
	chat := st.addChat(space.ID, "")

	deps := testDeps(st)
	deps.Agent = &fakeAgent{events: []protocol.Event{{Kind: protocol.EventDone}}}
	ts := newTestServer(t, deps)

	message := "  what   changed\nin the deploy   pipeline? "
	resp := doJSON(t, ts, http.MethodPost, "/chats/"+chat.ID.String()+"/turns", "u1", map[string]string{"message": message})
	wantStatus(t, resp, http.StatusOK)
	readEvents(t, resp.Body)
	resp.Body.Close()

	st.mu.Lock()
	title := st.titles[chat.ID]
	st.mu.Unlock()
	if title != "what changed in the deploy pipeline?" {
		t.Errorf("title = %q", title)
	}
}

func TestTurnApprovalFlow(t *testing.T) {
	st := newFakeStore()
	space := st.addSpace("u1")
	chat := st.addChat(space.ID, "t")

	approval := &protocol.Approval{
		ID:       uuid.NewString(),
		CallID:   "call-1",
		ToolName: "delete_linear_issue",
		Summary:  "Delete issue ENG-42",
	}
	ag := &fakeAgent{
		approval: approval,
		events:   []protocol.Event{{Kind: protocol.EventDone}},
	}
	deps := testDeps(st)
	deps.Agent = ag
	ts := newTestServer(t, deps)

	resp := doJSON(t, ts, http.MethodPost, "/chats/"+chat.ID.String()+"/turns", "u1", map[string]string{"message": "delete ENG-42"})
	wantStatus(t, resp, http.StatusOK)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	var got protocol.Event
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &got); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		break
	}
	if got.Kind != protocol.EventApprovalRequest || got.Approval == nil {
		t.Fatalf("first frame = %+v, want approval request", got)
	}

	// The turn is now blocked on the decision.
	dresp := doJSON(t, ts, http.MethodPost, "/approvals/"+got.Approval.ID, "u1", map[string]any{
		"action":    protocol.DecisionEdit,
		"arguments": map[string]any{"issue_id": "ENG-43"},
	})
	wantStatus(t, dresp, http.StatusAccepted)
	dresp.Body.Close()

	events := readEvents(t, resp.Body)
	if len(events) != 1 || events[0].Kind != protocol.EventDone {
		t.Fatalf("remaining events = %+v", events)
	}

	d := ag.lastDecision()
	if d.Action != protocol.DecisionEdit || d.ApprovalID != approval.ID {
		t.Errorf("decision = %+v", d)
	}
	if d.Args["issue_id"] != "ENG-43" {
		t.Errorf("edited args = %v", d.Args)
	}
}

func TestApprovalDecisionNoWaiter(t *testing.T) {
	ts := newTestServer(t, testDeps(newFakeStore()))

	resp := doJSON(t, ts, http.MethodPost, "/approvals/"+uuid.NewString(), "u1", map[string]string{"action": protocol.DecisionApprove})
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestApprovalDecisionBadAction(t *testing.T) {
	ts := newTestServer(t, testDeps(newFakeStore()))

	resp := doJSON(t, ts, http.MethodPost, "/approvals/"+uuid.NewString(), "u1", map[string]string{"action": "maybe"})
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestCreatePodcastConflict(t *testing.T) {
	st := newFakeStore()
	space := st.addSpace("u1")
	ts := newTestServer(t, testDeps(st))

	body := map[string]any{
		"search_space_id": space.ID,
		"title":           "Week in review",
		"source_content":  "Standup moved. Deploy on Friday.",
	}
	resp := doJSON(t, ts, http.MethodPost, "/podcasts", "u1", body)
	wantStatus(t, resp, http.StatusAccepted)
	first := decodeBody[map[string]string](t, resp)
	if first["status"] != "enqueued" || first["podcast_id"] == "" {
		t.Fatalf("first response = %v", first)
	}

	st.mu.Lock()
	jobCount := len(st.jobs)
	var kind string
	if jobCount > 0 {
		kind = st.jobs[0].Kind
	}
	st.mu.Unlock()
	if jobCount != 1 || kind != store.JobKindPodcast {
		t.Fatalf("jobs = %d kind %q", jobCount, kind)
	}

	// Same space, lock still held.
	resp = doJSON(t, ts, http.MethodPost, "/podcasts", "u1", body)
	wantStatus(t, resp, http.StatusConflict)
	second := decodeBody[map[string]string](t, resp)
	if second["status"] != "already_generating" || second["podcast_id"] != first["podcast_id"] {
		t.Errorf("conflict response = %v, want holder %s", second, first["podcast_id"])
	}
}

func TestGetPodcast(t *testing.T) {
	st := newFakeStore()
	space := st.addSpace("u1")
	id := uuid.New()
	st.podcasts[id] = &store.Podcast{ID: id, SearchSpaceID: space.ID, Title: "Week in review", Status: store.PodcastReady, AudioPath: "/data/podcasts/x.mp3"}
	ts := newTestServer(t, testDeps(st))

	resp := doJSON(t, ts, http.MethodGet, "/podcasts/"+id.String(), "u1", nil)
	wantStatus(t, resp, http.StatusOK)
	pod := decodeBody[podcastDTO](t, resp)
	if pod.Status != store.PodcastReady || pod.AudioPath == "" {
		t.Errorf("podcast = %+v", pod)
	}

	resp = doJSON(t, ts, http.MethodGet, "/podcasts/"+id.String(), "u2", nil)
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestCreateReport(t *testing.T) {
	st := newFakeStore()
	space := st.addSpace("u1")
	deps := testDeps(st)
	svc := &fakeReportService{report: &store.Report{
		ID: uuid.New(), SearchSpaceID: space.ID, Title: "Q3 infra changes",
		Content: "# Q3 infra changes\n\n...", WordCount: 1200, SectionCount: 4,
	}}
	deps.Reports = svc
	ts := newTestServer(t, deps)

	resp := doJSON(t, ts, http.MethodPost, "/reports", "u1", map[string]any{
		"search_space_id": space.ID,
		"topic":           "Q3 infra changes",
		"length":          "DETAILED",
	})
	wantStatus(t, resp, http.StatusCreated)
	rep := decodeBody[reportDTO](t, resp)
	if rep.Title != "Q3 infra changes" || rep.Content == "" {
		t.Errorf("report = %+v", rep)
	}
	if svc.gotReq.Topic != "Q3 infra changes" || svc.gotReq.Length != "DETAILED" {
		t.Errorf("request = %+v", svc.gotReq)
	}
}

func TestListReportsOmitContent(t *testing.T) {
	st := newFakeStore()
	space := st.addSpace("u1")
	id := uuid.New()
	st.reports[id] = &store.Report{ID: id, SearchSpaceID: space.ID, Title: "t", Content: "long body"}
	ts := newTestServer(t, testDeps(st))

	resp := doJSON(t, ts, http.MethodGet, "/reports?search_space_id="+space.ID.String(), "u1", nil)
	wantStatus(t, resp, http.StatusOK)
	reps := decodeBody[[]map[string]any](t, resp)
	if len(reps) != 1 {
		t.Fatalf("listed %d reports", len(reps))
	}
	if _, ok := reps[0]["content"]; ok {
		t.Error("list response carries report content")
	}

	resp = doJSON(t, ts, http.MethodGet, "/reports/"+id.String(), "u1", nil)
	wantStatus(t, resp, http.StatusOK)
	rep := decodeBody[reportDTO](t, resp)
	if rep.Content != "long body" {
		t.Errorf("get content = %q", rep.Content)
	}
}

func TestListTaskLogs(t *testing.T) {
	st := newFakeStore()
	st.taskLogs = []store.TaskLog{{ID: uuid.New(), TaskName: "connector_run", Source: "slack", Status: store.TaskSuccess}}
	ts := newTestServer(t, testDeps(st))

	resp := doJSON(t, ts, http.MethodGet, "/tasklogs?source=slack", "u1", nil)
	wantStatus(t, resp, http.StatusOK)
	logs := decodeBody[[]taskLogDTO](t, resp)
	if len(logs) != 1 || logs[0].Source != "slack" {
		t.Errorf("logs = %+v", logs)
	}
	if st.gotTaskSource != "slack" || st.gotTaskLimit != defaultTaskLogLimit {
		t.Errorf("query source=%q limit=%d", st.gotTaskSource, st.gotTaskLimit)
	}

	resp = doJSON(t, ts, http.MethodGet, "/tasklogs?limit=0", "u1", nil)
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestUpload(t *testing.T) {
	st := newFakeStore()
	space := st.addSpace("u1")
	deps := testDeps(st)
	ing := &fakeIngestor{}
	deps.Ingest = ing
	ts := newTestServer(t, deps)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("search_space_id", space.ID.String()); err != nil {
		t.Fatal(err)
	}
	fw, err := mw.CreateFormFile("file", "notes.md")
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprint(fw, "# Notes\n\nRotate the pager key monthly.")
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/uploads", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(UserHeader, "u1")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("POST /uploads: %v", err)
	}
	wantStatus(t, resp, http.StatusCreated)
	body := decodeBody[map[string]any](t, resp)
	if body["outcome"] != "created" {
		t.Errorf("outcome = %v", body["outcome"])
	}

	if ing.gotSpace != space.ID {
		t.Errorf("ingested into %s, want %s", ing.gotSpace, space.ID)
	}
	doc := ing.gotDoc
	if doc == nil {
		t.Fatal("pipeline never called")
	}
	if doc.Type != store.TypeFile || doc.Title != "notes.md" {
		t.Errorf("doc = %+v", doc)
	}
	wantSource := "upload://" + space.ID.String() + "/notes.md"
	if doc.SourceID != wantSource {
		t.Errorf("source id = %q, want %q", doc.SourceID, wantSource)
	}
	if !strings.Contains(doc.Body, "pager key") {
		t.Errorf("body = %q", doc.Body)
	}
}

func TestUploadUnsupportedType(t *testing.T) {
	st := newFakeStore()
	space := st.addSpace("u1")
	ts := newTestServer(t, testDeps(st))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("search_space_id", space.ID.String())
	fw, _ := mw.CreateFormFile("file", "tool.exe")
	fw.Write([]byte{0x4d, 0x5a})
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(UserHeader, "u1")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("POST /uploads: %v", err)
	}
	wantStatus(t, resp, http.StatusUnsupportedMediaType)
	resp.Body.Close()
}

func TestDeriveTitle(t *testing.T) {
	if got := deriveTitle("  hello   world "); got != "hello world" {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("word ", 40)
	if got := deriveTitle(long); len([]rune(got)) > 80 {
		t.Errorf("title too long: %d runes", len([]rune(got)))
	}
}

func TestApprovalBrokerResolveBeforeWait(t *testing.T) {
	b := newApprovalBroker()
	b.open("a1")
	if !b.resolve("a1", protocol.Decision{Action: protocol.DecisionApprove}) {
		t.Fatal("resolve found no channel")
	}
	// Second decision for the same id has nothing to land on.
	if b.resolve("a1", protocol.Decision{Action: protocol.DecisionReject}) {
		t.Error("second resolve accepted")
	}

	d, err := b.wait(context.Background(), "a1")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if d.Action != protocol.DecisionApprove {
		t.Errorf("action = %q", d.Action)
	}

	// Consumed; the id is gone.
	if b.resolve("a1", protocol.Decision{Action: protocol.DecisionApprove}) {
		t.Error("resolve after consume accepted")
	}
}

func TestApprovalBrokerWaitCancelled(t *testing.T) {
	b := newApprovalBroker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.wait(ctx, "a2"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	b.drop([]string{"a2"})
	if len(b.pending) != 0 {
		t.Errorf("pending = %d entries after drop", len(b.pending))
	}
}
