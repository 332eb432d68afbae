package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lorehq/lore/pkg/canonical"
	"github.com/lorehq/lore/pkg/connectors"
	"github.com/lorehq/lore/pkg/ingest"
	"github.com/lorehq/lore/pkg/podcast"
	"github.com/lorehq/lore/pkg/reports"
	"github.com/lorehq/lore/pkg/retrieval"
	"github.com/lorehq/lore/pkg/store"
)

// Store rows carry no JSON tags, so the boundary maps them onto
// snake_case response shapes here.

type spaceDTO struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func toSpaceDTO(s *store.SearchSpace) spaceDTO {
	return spaceDTO{ID: s.ID, Name: s.Name, Description: s.Description, CreatedAt: s.CreatedAt}
}

type chatDTO struct {
	ID            uuid.UUID `json:"id"`
	SearchSpaceID uuid.UUID `json:"search_space_id"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
}

func toChatDTO(c *store.Chat) chatDTO {
	return chatDTO{ID: c.ID, SearchSpaceID: c.SearchSpaceID, Title: c.Title, CreatedAt: c.CreatedAt}
}

type messageDTO struct {
	ID        uuid.UUID `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Citations []int64   `json:"citations,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toMessageDTO(m *store.ChatMessage) messageDTO {
	return messageDTO{ID: m.ID, Role: m.Role, Content: m.Content, Citations: m.Citations, CreatedAt: m.CreatedAt}
}

type connectorDTO struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	Type          string     `json:"type"`
	SearchSpaceID uuid.UUID  `json:"search_space_id"`
	LastIndexedAt *time.Time `json:"last_indexed_at,omitempty"`
	Runnable      bool       `json:"runnable"`
}

type podcastDTO struct {
	ID            uuid.UUID `json:"id"`
	SearchSpaceID uuid.UUID `json:"search_space_id"`
	Title         string    `json:"title"`
	Status        string    `json:"status"`
	AudioPath     string    `json:"audio_path,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toPodcastDTO(p *store.Podcast) podcastDTO {
	return podcastDTO{
		ID: p.ID, SearchSpaceID: p.SearchSpaceID, Title: p.Title, Status: p.Status,
		AudioPath: p.AudioPath, Error: p.Error, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

type reportDTO struct {
	ID            uuid.UUID `json:"id"`
	SearchSpaceID uuid.UUID `json:"search_space_id"`
	ReportGroupID uuid.UUID `json:"report_group_id"`
	Title         string    `json:"title"`
	Content       string    `json:"content,omitempty"`
	WordCount     int       `json:"word_count"`
	SectionCount  int       `json:"section_count"`
	CreatedAt     time.Time `json:"created_at"`
}

func toReportDTO(rep *store.Report, withContent bool) reportDTO {
	d := reportDTO{
		ID: rep.ID, SearchSpaceID: rep.SearchSpaceID, ReportGroupID: rep.ReportGroupID,
		Title: rep.Title, WordCount: rep.WordCount, SectionCount: rep.SectionCount,
		CreatedAt: rep.CreatedAt,
	}
	if withContent {
		d.Content = rep.Content
	}
	return d
}

type taskLogDTO struct {
	ID        uuid.UUID      `json:"id"`
	TaskName  string         `json:"task_name"`
	Source    string         `json:"source"`
	Stage     string         `json:"stage"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ownedSpace resolves a search space and enforces that the caller owns
// it. store.ErrNotFound covers both absent and foreign spaces.
func (s *Server) ownedSpace(r *http.Request, spaceID uuid.UUID) (*store.SearchSpace, error) {
	return s.deps.Store.GetSearchSpace(r.Context(), spaceID, requestUser(r))
}

func parseSpaceParam(r *http.Request) (uuid.UUID, error) {
	raw := r.URL.Query().Get("search_space_id")
	if raw == "" {
		return uuid.Nil, fmt.Errorf("search_space_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid search_space_id: %w", err)
	}
	return id, nil
}

// --- search spaces ---

func (s *Server) handleCreateSpace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	space, err := s.deps.Store.CreateSearchSpace(r.Context(), requestUser(r), req.Name, req.Description)
	if err != nil {
		s.internalError(w, "create search space", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSpaceDTO(space))
}

func (s *Server) handleListSpaces(w http.ResponseWriter, r *http.Request) {
	spaces, err := s.deps.Store.ListSearchSpaces(r.Context(), requestUser(r))
	if err != nil {
		s.internalError(w, "list search spaces", err)
		return
	}
	out := make([]spaceDTO, 0, len(spaces))
	for i := range spaces {
		out = append(out, toSpaceDTO(&spaces[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteSpace(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if err := s.deps.Store.DeleteSearchSpace(r.Context(), id, requestUser(r)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "search space not found")
			return
		}
		s.internalError(w, "delete search space", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- search ---

type searchRequest struct {
	SearchSpaceID  uuid.UUID `json:"search_space_id"`
	Query          string    `json:"query"`
	TopK           int       `json:"top_k"`
	Mode           string    `json:"mode"`
	EnabledSources []string  `json:"enabled_sources"`
	StartDate      string    `json:"start_date"`
	EndDate        string    `json:"end_date"`
	WebSources     []string  `json:"web_sources"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if _, err := s.ownedSpace(r, req.SearchSpaceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "search space not found")
			return
		}
		s.internalError(w, "resolve search space", err)
		return
	}

	opts := retrieval.SearchOptions{
		TopK:           req.TopK,
		Mode:           req.Mode,
		EnabledSources: req.EnabledSources,
		WebSources:     req.WebSources,
	}
	if req.StartDate != "" || req.EndDate != "" {
		dr, err := parseDateRange(req.StartDate, req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
		opts.DateRange = dr
	}

	sources, chunks, err := s.deps.Search.Search(r.Context(), requestUser(r), req.SearchSpaceID, req.Query, opts)
	if err != nil {
		s.internalError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources, "chunks": chunks})
}

// parseDateRange parses YYYY-MM-DD bounds; an empty end means now and the
// end is pushed to the close of its day.
func parseDateRange(start, end string) (*retrieval.DateRange, error) {
	dr := &retrieval.DateRange{End: time.Now().UTC()}
	if start != "" {
		t, err := time.Parse("2006-01-02", start)
		if err != nil {
			return nil, fmt.Errorf("invalid start_date %q, want YYYY-MM-DD", start)
		}
		dr.Start = t
	}
	if end != "" {
		t, err := time.Parse("2006-01-02", end)
		if err != nil {
			return nil, fmt.Errorf("invalid end_date %q, want YYYY-MM-DD", end)
		}
		dr.End = t.Add(24*time.Hour - time.Second)
	}
	return dr, nil
}

// --- connectors ---

func (s *Server) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	spaceID, err := parseSpaceParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	descs, err := s.deps.Connectors.ListConnectors(r.Context(), requestUser(r), spaceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "search space not found")
			return
		}
		s.internalError(w, "list connectors", err)
		return
	}
	out := make([]connectorDTO, 0, len(descs))
	for _, d := range descs {
		out = append(out, connectorDTO{
			ID: d.ID, Name: d.Name, Type: d.Type, SearchSpaceID: d.SearchSpaceID,
			LastIndexedAt: d.LastIndexedAt, Runnable: d.Runnable,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type runConnectorRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	// UpdateCursor defaults to true; backfills set it false to leave the
	// incremental cursor untouched.
	UpdateCursor *bool `json:"update_cursor"`
}

func (s *Server) handleRunConnector(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	// Ownership: the connector's space must belong to the caller.
	conn, err := s.deps.Store.GetConnector(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "connector not found")
			return
		}
		s.internalError(w, "resolve connector", err)
		return
	}
	if _, err := s.ownedSpace(r, conn.SearchSpaceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "connector not found")
			return
		}
		s.internalError(w, "resolve search space", err)
		return
	}

	var req runConnectorRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
	}

	opts := connectors.RunOptions{UpdateCursor: true}
	if req.UpdateCursor != nil {
		opts.UpdateCursor = *req.UpdateCursor
	}
	if req.StartDate != "" {
		t, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start_date %q, want YYYY-MM-DD", req.StartDate)
			return
		}
		opts.StartDate = &t
	}
	if req.EndDate != "" {
		t, err := time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end_date %q, want YYYY-MM-DD", req.EndDate)
			return
		}
		opts.EndDate = &t
	}

	stats, err := s.deps.Connectors.RunConnector(r.Context(), id, opts)
	if err != nil {
		status := connectorStatus(err)
		if status == http.StatusInternalServerError {
			s.internalError(w, "run connector", err)
			return
		}
		writeError(w, status, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"documents_indexed": stats.DocumentsIndexed,
		"documents_skipped": stats.DocumentsSkipped,
		"failures":          stats.Failures,
	})
}

// --- chats ---

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SearchSpaceID uuid.UUID `json:"search_space_id"`
		Title         string    `json:"title"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if _, err := s.ownedSpace(r, req.SearchSpaceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "search space not found")
			return
		}
		s.internalError(w, "resolve search space", err)
		return
	}
	chat, err := s.deps.Store.CreateChat(r.Context(), req.SearchSpaceID, req.Title)
	if err != nil {
		s.internalError(w, "create chat", err)
		return
	}
	writeJSON(w, http.StatusCreated, toChatDTO(chat))
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	spaceID, err := parseSpaceParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if _, err := s.ownedSpace(r, spaceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "search space not found")
			return
		}
		s.internalError(w, "resolve search space", err)
		return
	}
	chats, err := s.deps.Store.ListChats(r.Context(), spaceID)
	if err != nil {
		s.internalError(w, "list chats", err)
		return
	}
	out := make([]chatDTO, 0, len(chats))
	for i := range chats {
		out = append(out, toChatDTO(&chats[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// ownedChat resolves a chat and enforces ownership through its space.
func (s *Server) ownedChat(r *http.Request, chatID uuid.UUID) (*store.Chat, error) {
	chat, err := s.deps.Store.GetChat(r.Context(), chatID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedSpace(r, chat.SearchSpaceID); err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	chat, err := s.ownedChat(r, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		s.internalError(w, "resolve chat", err)
		return
	}
	messages, err := s.deps.Store.ListChatMessages(r.Context(), id)
	if err != nil {
		s.internalError(w, "list chat messages", err)
		return
	}
	msgs := make([]messageDTO, 0, len(messages))
	for i := range messages {
		msgs = append(msgs, toMessageDTO(&messages[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": toChatDTO(chat), "messages": msgs})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if _, err := s.ownedChat(r, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		s.internalError(w, "resolve chat", err)
		return
	}
	if err := s.deps.Store.DeleteChat(r.Context(), id); err != nil {
		s.internalError(w, "delete chat", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- podcasts ---

type createPodcastRequest struct {
	SearchSpaceID uuid.UUID `json:"search_space_id"`
	Title         string    `json:"title"`
	SourceContent string    `json:"source_content"`
	UserPrompt    string    `json:"user_prompt"`
}

// handleCreatePodcast enqueues a generation job. It takes the same
// per-space lock as the generate_podcast tool so the two entry points
// cannot race each other.
func (s *Server) handleCreatePodcast(w http.ResponseWriter, r *http.Request) {
	var req createPodcastRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if strings.TrimSpace(req.SourceContent) == "" {
		writeError(w, http.StatusBadRequest, "source_content is required")
		return
	}
	if _, err := s.ownedSpace(r, req.SearchSpaceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "search space not found")
			return
		}
		s.internalError(w, "resolve search space", err)
		return
	}

	ctx := r.Context()
	podcastID := uuid.New()
	lockKey := podcast.LockKey(req.SearchSpaceID)

	acquired, err := s.deps.KV.AcquireLock(ctx, lockKey, podcastID.String(), podcast.LockTTL)
	if err != nil {
		s.internalError(w, "acquire podcast lock", err)
		return
	}
	if !acquired {
		holder, err := s.deps.KV.LockHolder(ctx, lockKey)
		if err != nil {
			s.internalError(w, "resolve podcast lock holder", err)
			return
		}
		writeJSON(w, http.StatusConflict, map[string]string{
			"status":     "already_generating",
			"podcast_id": holder,
		})
		return
	}

	if _, err := s.deps.Store.CreatePodcast(ctx, podcastID, req.SearchSpaceID, req.Title); err != nil {
		s.internalError(w, "create podcast", err)
		return
	}

	payload := map[string]any{
		"podcast_id":      podcastID.String(),
		"search_space_id": req.SearchSpaceID.String(),
		"user_id":         requestUser(r),
		"title":           req.Title,
		"source_content":  req.SourceContent,
	}
	if req.UserPrompt != "" {
		payload["user_prompt"] = req.UserPrompt
	}
	if _, err := s.deps.Store.EnqueueJob(ctx, store.JobKindPodcast, payload, time.Now().UTC()); err != nil {
		s.internalError(w, "enqueue podcast job", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "enqueued",
		"podcast_id": podcastID.String(),
	})
}

func (s *Server) handleListPodcasts(w http.ResponseWriter, r *http.Request) {
	spaceID, err := parseSpaceParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if _, err := s.ownedSpace(r, spaceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "search space not found")
			return
		}
		s.internalError(w, "resolve search space", err)
		return
	}
	pods, err := s.deps.Store.ListPodcasts(r.Context(), spaceID)
	if err != nil {
		s.internalError(w, "list podcasts", err)
		return
	}
	out := make([]podcastDTO, 0, len(pods))
	for i := range pods {
		out = append(out, toPodcastDTO(&pods[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPodcast(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	pod, err := s.deps.Store.GetPodcast(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "podcast not found")
			return
		}
		s.internalError(w, "resolve podcast", err)
		return
	}
	if _, err := s.ownedSpace(r, pod.SearchSpaceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "podcast not found")
			return
		}
		s.internalError(w, "resolve search space", err)
		return
	}
	writeJSON(w, http.StatusOK, toPodcastDTO(pod))
}

// --- reports ---

type createReportRequest struct {
	SearchSpaceID  uuid.UUID `json:"search_space_id"`
	Topic          string    `json:"topic"`
	Length         string    `json:"length"`
	SourceStrategy string    `json:"source_strategy"`
	SourceContent  string    `json:"source_content"`
	SearchQueries  []string  `json:"search_queries"`
	ParentReportID uuid.UUID `json:"parent_report_id"`
}

// handleCreateReport drafts synchronously and returns the finished
// report. Progress events only flow through chat turns, so the sink
// stays nil here.
func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var req createReportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if _, err := s.ownedSpace(r, req.SearchSpaceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "search space not found")
			return
		}
		s.internalError(w, "resolve search space", err)
		return
	}

	rep, err := s.deps.Reports.Generate(r.Context(), requestUser(r), req.SearchSpaceID, reports.Request{
		Topic:          req.Topic,
		Length:         req.Length,
		SourceStrategy: req.SourceStrategy,
		SourceContent:  req.SourceContent,
		SearchQueries:  req.SearchQueries,
		ParentReportID: req.ParentReportID,
	}, nil)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "%v", err)
			return
		}
		s.internalError(w, "generate report", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReportDTO(rep, true))
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	spaceID, err := parseSpaceParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if _, err := s.ownedSpace(r, spaceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "search space not found")
			return
		}
		s.internalError(w, "resolve search space", err)
		return
	}
	reps, err := s.deps.Store.ListReports(r.Context(), spaceID)
	if err != nil {
		s.internalError(w, "list reports", err)
		return
	}
	out := make([]reportDTO, 0, len(reps))
	for i := range reps {
		out = append(out, toReportDTO(&reps[i], false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	rep, err := s.deps.Store.GetReport(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "report not found")
			return
		}
		s.internalError(w, "resolve report", err)
		return
	}
	if _, err := s.ownedSpace(r, rep.SearchSpaceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "report not found")
			return
		}
		s.internalError(w, "resolve search space", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(rep, true))
}

// --- task logs ---

const defaultTaskLogLimit = 50

func (s *Server) handleListTaskLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultTaskLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit %q", raw)
			return
		}
		limit = n
	}
	logs, err := s.deps.Store.ListTaskLogs(r.Context(), r.URL.Query().Get("source"), limit)
	if err != nil {
		s.internalError(w, "list task logs", err)
		return
	}
	out := make([]taskLogDTO, 0, len(logs))
	for _, l := range logs {
		out = append(out, taskLogDTO{
			ID: l.ID, TaskName: l.TaskName, Source: l.Source, Stage: l.Stage,
			Status: l.Status, Metadata: l.Metadata, CreatedAt: l.CreatedAt, UpdatedAt: l.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// --- uploads ---

const maxUploadBytes = 64 << 20

// handleUpload ingests one file from a multipart form. The synthesized
// source id keys re-uploads of the same filename to the same document.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: %v", err)
		return
	}
	spaceID, err := uuid.Parse(r.FormValue("search_space_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid search_space_id: %v", err)
		return
	}
	if _, err := s.ownedSpace(r, spaceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "search space not found")
			return
		}
		s.internalError(w, "resolve search space", err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required: %v", err)
		return
	}
	defer file.Close()

	if !ingest.SupportedFile(header.Filename) {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported file type %q", header.Filename)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: %v", err)
		return
	}
	body, err := ingest.ExtractBytes(r.Context(), header.Filename, data)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "extract %q: %v", header.Filename, err)
		return
	}

	doc := &canonical.Document{
		Title:    header.Filename,
		Type:     store.TypeFile,
		SourceID: fmt.Sprintf("upload://%s/%s", spaceID, header.Filename),
		Metadata: map[string]string{
			canonical.MetaFilePath: header.Filename,
			"FILE_NAME":            header.Filename,
		},
		Body: body,
	}
	res, err := s.deps.Ingest.Ingest(r.Context(), spaceID, nil, doc)
	if err != nil {
		s.internalError(w, "ingest upload", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"document_id": res.Document.ID,
		"title":       res.Document.Title,
		"outcome":     res.Outcome,
	})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error(op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
