// Package runtime wires the Lore services from configuration. One Runtime
// per process; every worker gets its dependencies injected from here, so
// nothing reaches for globals.
package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lorehq/lore/pkg/agent"
	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/connectors"
	"github.com/lorehq/lore/pkg/docsindex"
	"github.com/lorehq/lore/pkg/embedders"
	"github.com/lorehq/lore/pkg/ingest"
	"github.com/lorehq/lore/pkg/jobs"
	"github.com/lorehq/lore/pkg/kvstore"
	"github.com/lorehq/lore/pkg/llms"
	"github.com/lorehq/lore/pkg/logger"
	"github.com/lorehq/lore/pkg/memory"
	"github.com/lorehq/lore/pkg/podcast"
	"github.com/lorehq/lore/pkg/reports"
	"github.com/lorehq/lore/pkg/retrieval"
	"github.com/lorehq/lore/pkg/secrets"
	"github.com/lorehq/lore/pkg/store"
	"github.com/lorehq/lore/pkg/tasklog"
	"github.com/lorehq/lore/pkg/tools"
	"github.com/lorehq/lore/pkg/vectordb"
	"github.com/lorehq/lore/pkg/websearch"
)

// Runtime holds one process's wired services. Fields are exported so the
// boundary server, the CLI, and the job workers pick what they need.
type Runtime struct {
	Store      *store.Store
	KV         *kvstore.Store
	Router     *llms.Router
	Embedders  *embedders.EmbedderRegistry
	Embedder   embedders.EmbedderProvider
	Cipher     *secrets.Cipher
	Docs       *docsindex.Index
	Retrieval  *retrieval.Engine
	Ingest     *ingest.Pipeline
	Tasks      *tasklog.Service
	Connectors *connectors.Orchestrator
	Memory     *memory.Service
	Reports    *reports.Generator
	Podcasts   *podcast.Generator
	Jobs       *jobs.Runner
	Toolbox    *tools.Toolbox
	Agent      *agent.Agent

	docsBackend vectordb.Backend
	log         *slog.Logger
}

// NewWithConfig builds the full service graph. Construction is ordered so
// config mistakes surface before anything dials out: secrets, LLM roles,
// and embedders are resolved first, connections after.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	cipher, err := secrets.NewCipher(cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}

	router, err := llms.BuildRouter(cfg.LLMs, cfg.Roles)
	if err != nil {
		return nil, fmt.Errorf("llms: %w", err)
	}
	closeOnError := []func() error{router.Close}
	fail := func(err error) (*Runtime, error) {
		for _, close := range closeOnError {
			_ = close()
		}
		return nil, err
	}

	fast, err := router.Fast()
	if err != nil {
		return fail(fmt.Errorf("llm roles: %w", err))
	}
	longContext, err := router.LongContext()
	if err != nil {
		return fail(fmt.Errorf("llm roles: %w", err))
	}
	strategic, err := router.Strategic()
	if err != nil {
		return fail(fmt.Errorf("llm roles: %w", err))
	}

	embReg, err := embedders.BuildRegistry(cfg.Embedders)
	if err != nil {
		return fail(fmt.Errorf("embedders: %w", err))
	}
	closeOnError = append(closeOnError, embReg.Close)
	embedder, err := embReg.GetEmbedder(cfg.DefaultEmbedder)
	if err != nil {
		return fail(fmt.Errorf("embedders: %w", err))
	}

	st, err := store.New(ctx, cfg.Postgres)
	if err != nil {
		return fail(fmt.Errorf("store: %w", err))
	}
	closeOnError = append(closeOnError, func() error { st.Close(); return nil })

	kv := kvstore.New(cfg.Redis)
	closeOnError = append(closeOnError, kv.Close)

	docsBackend, err := vectordb.New(cfg.DocsIndex)
	if err != nil {
		return fail(fmt.Errorf("docs index: %w", err))
	}
	closeOnError = append(closeOnError, docsBackend.Close)
	docs, err := docsindex.New(docsBackend, embedder)
	if err != nil {
		return fail(fmt.Errorf("docs index: %w", err))
	}

	engine := retrieval.NewEngine(st, embedder, websearch.NewProviders(cfg.WebSearch), cfg.Retrieval)
	pipeline := ingest.NewPipeline(st, embedder, longContext, cfg.Chunking, cfg.Retrieval.FanOutLimit)
	tasks := tasklog.NewService(st)
	orchestrator := connectors.NewOrchestrator(st, pipeline, tasks, cipher, cfg.Connectors)
	memories := memory.NewService(st, embedder)
	reporter := reports.NewGenerator(st, engine, strategic)
	podcasts := podcast.NewGenerator(st, kv, strategic, cfg.Podcast)

	runner := jobs.NewRunner(st, cfg.Jobs, nil)
	if err := runner.Register(jobs.PodcastHandler(podcasts)); err != nil {
		return fail(fmt.Errorf("jobs: %w", err))
	}

	toolbox := tools.NewToolbox(tools.ToolboxDeps{
		Searcher: engine,
		Docs:     docs,
		Memory:   memories,
		Podcasts: st,
		Locks:    kv,
		Reports:  reporter,
		Cipher:   cipher,
		Agent:    cfg.Agent,
	})

	return &Runtime{
		Store:      st,
		KV:         kv,
		Router:     router,
		Embedders:  embReg,
		Embedder:   embedder,
		Cipher:     cipher,
		Docs:       docs,
		Retrieval:  engine,
		Ingest:     pipeline,
		Tasks:      tasks,
		Connectors: orchestrator,
		Memory:     memories,
		Reports:    reporter,
		Podcasts:   podcasts,
		Jobs:       runner,
		Toolbox:    toolbox,
		Agent:      agent.New(st, toolbox, fast, cfg.Agent),

		docsBackend: docsBackend,
		log:         logger.Component("runtime"),
	}, nil
}

// Reload applies the non-structural settings from a freshly loaded config:
// web-search provider keys and agent toggles. Pools, providers, and server
// wiring stay as built at startup.
func (r *Runtime) Reload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	r.Retrieval.SetWebProviders(websearch.NewProviders(cfg.WebSearch))
	r.Agent.SetConfig(cfg.Agent)
	r.log.Info("runtime settings reloaded")
}

// Close tears down providers first, pools last. The jobs runner stops via
// its Run context and holds nothing to close here.
func (r *Runtime) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(r.Router.Close())
	keep(r.Embedders.Close())
	keep(r.docsBackend.Close())
	keep(r.KV.Close())
	r.Store.Close()

	if firstErr != nil {
		r.log.Warn("runtime close", "error", firstErr)
	}
	return firstErr
}
