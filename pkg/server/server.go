// Package server is the HTTP boundary: a chi router over the wired
// services. Chat turns stream protocol events as SSE; everything else is
// plain JSON. Authentication happens upstream; the caller identity
// arrives as an opaque header and scopes every query.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lorehq/lore/pkg/agent"
	"github.com/lorehq/lore/pkg/canonical"
	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/connectors"
	"github.com/lorehq/lore/pkg/ingest"
	"github.com/lorehq/lore/pkg/logger"
	"github.com/lorehq/lore/pkg/protocol"
	"github.com/lorehq/lore/pkg/reports"
	"github.com/lorehq/lore/pkg/retrieval"
	"github.com/lorehq/lore/pkg/store"
)

// UserHeader carries the caller identity for every authenticated route.
const UserHeader = "X-Lore-User"

// Store is the persistence surface the boundary reads and writes
// directly. Everything that runs a pipeline goes through a service
// interface instead.
type Store interface {
	Ping(ctx context.Context) error

	CreateSearchSpace(ctx context.Context, userID, name, description string) (*store.SearchSpace, error)
	GetSearchSpace(ctx context.Context, id uuid.UUID, userID string) (*store.SearchSpace, error)
	ListSearchSpaces(ctx context.Context, userID string) ([]store.SearchSpace, error)
	DeleteSearchSpace(ctx context.Context, id uuid.UUID, userID string) error

	GetConnector(ctx context.Context, id uuid.UUID) (*store.Connector, error)

	CreateChat(ctx context.Context, searchSpaceID uuid.UUID, title string) (*store.Chat, error)
	GetChat(ctx context.Context, id uuid.UUID) (*store.Chat, error)
	ListChats(ctx context.Context, searchSpaceID uuid.UUID) ([]store.Chat, error)
	ListChatMessages(ctx context.Context, chatID uuid.UUID) ([]store.ChatMessage, error)
	UpdateChatTitle(ctx context.Context, id uuid.UUID, title string) error
	DeleteChat(ctx context.Context, id uuid.UUID) error

	GetPodcast(ctx context.Context, id uuid.UUID) (*store.Podcast, error)
	ListPodcasts(ctx context.Context, searchSpaceID uuid.UUID) ([]store.Podcast, error)
	CreatePodcast(ctx context.Context, id, searchSpaceID uuid.UUID, title string) (*store.Podcast, error)
	EnqueueJob(ctx context.Context, kind string, payload map[string]any, runAfter time.Time) (*store.Job, error)

	GetReport(ctx context.Context, id uuid.UUID) (*store.Report, error)
	ListReports(ctx context.Context, searchSpaceID uuid.UUID) ([]store.Report, error)

	ListTaskLogs(ctx context.Context, source string, limit int) ([]store.TaskLog, error)
}

// KV is the lock surface the podcast endpoint shares with the tool.
type KV interface {
	Ping(ctx context.Context) error
	AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	LockHolder(ctx context.Context, key string) (string, error)
}

// TurnRunner answers chat turns. *agent.Agent implements it.
type TurnRunner interface {
	Turn(ctx context.Context, req agent.TurnRequest, sink protocol.Sink, decide agent.Decider) (*store.ChatMessage, error)
}

// Searcher runs knowledge-base queries. *retrieval.Engine implements it.
type Searcher interface {
	Search(ctx context.Context, userID string, searchSpaceID uuid.UUID, query string, opts retrieval.SearchOptions) ([]retrieval.SourceEnvelope, []retrieval.CitableChunk, error)
}

// ConnectorService lists and runs connectors. *connectors.Orchestrator
// implements it.
type ConnectorService interface {
	ListConnectors(ctx context.Context, userID string, searchSpaceID uuid.UUID) ([]connectors.Descriptor, error)
	RunConnector(ctx context.Context, connectorID uuid.UUID, opts connectors.RunOptions) (connectors.RunStats, error)
}

// ReportService drafts and revises reports. *reports.Generator
// implements it.
type ReportService interface {
	Generate(ctx context.Context, userID string, searchSpaceID uuid.UUID, req reports.Request, sink protocol.Sink) (*store.Report, error)
}

// Ingestor feeds uploaded documents through the pipeline.
// *ingest.Pipeline implements it.
type Ingestor interface {
	Ingest(ctx context.Context, searchSpaceID uuid.UUID, connectorID *uuid.UUID, doc *canonical.Document) (*ingest.Result, error)
}

// Deps carries the services the boundary exposes.
type Deps struct {
	Store      Store
	KV         KV
	Agent      TurnRunner
	Search     Searcher
	Connectors ConnectorService
	Reports    ReportService
	Ingest     Ingestor
}

// Server serves the Lore HTTP API.
type Server struct {
	cfg       config.ServerConfig
	deps      Deps
	approvals *approvalBroker
	http      *http.Server
	log       *slog.Logger
}

func New(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		approvals: newApprovalBroker(),
		log:       logger.Component("server"),
	}
	s.http = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Routes assembles the router. Exposed so tests can mount it on httptest
// servers.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)

		r.Post("/spaces", s.handleCreateSpace)
		r.Get("/spaces", s.handleListSpaces)
		r.Delete("/spaces/{id}", s.handleDeleteSpace)

		r.Post("/search", s.handleSearch)

		r.Get("/connectors", s.handleListConnectors)
		r.Post("/connectors/{id}/run", s.handleRunConnector)

		r.Post("/chats", s.handleCreateChat)
		r.Get("/chats", s.handleListChats)
		r.Get("/chats/{id}", s.handleGetChat)
		r.Delete("/chats/{id}", s.handleDeleteChat)
		r.Post("/chats/{id}/turns", s.handleTurn)

		r.Post("/approvals/{id}", s.handleApprovalDecision)

		r.Post("/podcasts", s.handleCreatePodcast)
		r.Get("/podcasts", s.handleListPodcasts)
		r.Get("/podcasts/{id}", s.handleGetPodcast)

		r.Post("/reports", s.handleCreateReport)
		r.Get("/reports", s.handleListReports)
		r.Get("/reports/{id}", s.handleGetReport)

		r.Get("/tasklogs", s.handleListTaskLogs)

		r.Post("/uploads", s.handleUpload)
	})

	return r
}

// Start serves until ctx is cancelled, then drains connections within the
// configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.log.Info("server listening", "addr", s.http.Addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

type ctxKey int

const userKey ctxKey = iota

// requireUser rejects requests without a caller identity and stashes it
// in the request context for handlers.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(UserHeader))
		if user == "" {
			writeError(w, http.StatusUnauthorized, "missing %s header", UserHeader)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func requestUser(r *http.Request) string {
	user, _ := r.Context().Value(userKey).(string)
	return user
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{"postgres": "ok", "redis": "ok"}
	healthy := true
	if err := s.deps.Store.Ping(ctx); err != nil {
		checks["postgres"] = err.Error()
		healthy = false
	}
	if err := s.deps.KV.Ping(ctx); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	body := map[string]any{"status": "ok", "checks": checks}
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// pathID parses the {id} route parameter.
func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id: %w", err)
	}
	return id, nil
}

// connectorStatus maps typed connector failures to HTTP codes.
func connectorStatus(err error) int {
	switch connectors.KindOf(err) {
	case connectors.KindConnectorNotFound:
		return http.StatusNotFound
	case connectors.KindMissingCredentials, connectors.KindAuthExpired:
		return http.StatusConflict
	case connectors.KindRateLimited:
		return http.StatusTooManyRequests
	case connectors.KindTransientUpstream:
		return http.StatusBadGateway
	default:
		if errors.Is(err, store.ErrNotFound) {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	}
}
