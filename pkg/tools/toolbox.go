package tools

import (
	"context"
	"log/slog"
	"maps"

	"github.com/google/uuid"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/connectors"
	"github.com/lorehq/lore/pkg/logger"
	"github.com/lorehq/lore/pkg/protocol"
	"github.com/lorehq/lore/pkg/secrets"
	"github.com/lorehq/lore/pkg/store"
)

// ToolboxDeps carries the services the built-in tools bind to. Docs is
// optional; the docs search tool is omitted when it is nil.
type ToolboxDeps struct {
	Searcher KnowledgeSearcher
	Docs     DocsSearcher
	Memory   MemoryService
	Podcasts PodcastStore
	Locks    Locker
	Reports  ReportGenerator
	Cipher   *secrets.Cipher
	Agent    config.AgentConfig
}

// Toolbox assembles the agent's tool registry per chat turn: the fixed
// built-ins wired to their services, Linear tools when the space has a
// Linear connector, and MCP tools materialized from MCP connector rows.
type Toolbox struct {
	deps ToolboxDeps
	log  *slog.Logger
}

func NewToolbox(deps ToolboxDeps) *Toolbox {
	return &Toolbox{deps: deps, log: logger.Component("tools")}
}

// Turn is one chat turn's tool set. Close tears down MCP connections
// when the turn ends.
type Turn struct {
	Registry *Registry
	sources  []*MCPSource
	log      *slog.Logger
}

func (t *Turn) Close() {
	for _, src := range t.sources {
		if err := src.Close(); err != nil {
			t.log.Warn("mcp source close failed", "source", src.Name(), "error", err)
		}
	}
}

// Assemble builds the registry for one turn. The sink receives source
// envelopes and progress events; conversation supplies the running
// transcript for report generation; rows are the space's connectors,
// from which Linear and MCP tools materialize.
func (tb *Toolbox) Assemble(ctx context.Context, userID string, searchSpaceID uuid.UUID, sink protocol.Sink, conversation func() string, rows []store.Connector) (*Turn, error) {
	d := tb.deps
	registry, err := NewRegistry(
		NewSearchKnowledgeBaseTool(d.Searcher, sink, userID, searchSpaceID),
		NewScrapeWebpageTool(d.Agent.ScrapeTimeout),
		NewLinkPreviewTool(d.Agent.ScrapeTimeout),
		NewDisplayImageTool(),
		NewSaveMemoryTool(d.Memory, userID),
		NewRecallMemoryTool(d.Memory, userID),
		NewGeneratePodcastTool(d.Podcasts, d.Locks, userID, searchSpaceID),
		NewGenerateReportTool(d.Reports, sink, conversation, userID, searchSpaceID),
	)
	if err != nil {
		return nil, err
	}
	if d.Docs != nil {
		if err := registry.Register(NewSearchLoreDocsTool(d.Docs)); err != nil {
			return nil, err
		}
	}

	turn := &Turn{Registry: registry, log: tb.log}
	for _, row := range rows {
		switch row.ConnectorType {
		case store.TypeLinear:
			tb.addLinearTools(registry, row)
		case connectors.TypeMCP:
			tb.addMCPTools(ctx, turn, row)
		}
	}
	return turn, nil
}

func (tb *Toolbox) addLinearTools(registry *Registry, row store.Connector) {
	cfg, err := tb.decryptConfig(row)
	if err != nil {
		tb.log.Warn("linear connector unusable", "connector", row.Name, "error", err)
		return
	}
	apiKey, _ := cfg["api_key"].(string)
	if apiKey == "" {
		tb.log.Warn("linear connector has no api_key", "connector", row.Name)
		return
	}
	client := NewLinearClient(apiKey, "")
	for _, tool := range []Tool{
		NewCreateLinearIssueTool(client),
		NewUpdateLinearIssueTool(client),
		NewDeleteLinearIssueTool(client),
	} {
		tb.register(registry, tool, row.Name)
	}
}

func (tb *Toolbox) addMCPTools(ctx context.Context, turn *Turn, row store.Connector) {
	cfg, err := tb.decryptConfig(row)
	if err != nil {
		tb.log.Warn("mcp connector unusable", "connector", row.Name, "error", err)
		return
	}
	source, err := NewMCPSource(row.Name, cfg, tb.deps.Agent.MCPTimeout)
	if err != nil {
		tb.log.Warn("mcp connector unusable", "connector", row.Name, "error", err)
		return
	}
	list, err := source.Tools(ctx)
	if err != nil {
		tb.log.Warn("mcp tool discovery failed", "connector", row.Name, "error", err)
		source.Close()
		return
	}
	turn.sources = append(turn.sources, source)
	for _, tool := range list {
		tb.register(turn.Registry, tool, row.Name)
	}
}

// register adds a tool, skipping name collisions so one misconfigured
// connector cannot sink the whole turn.
func (tb *Toolbox) register(registry *Registry, tool Tool, origin string) {
	if err := registry.Register(tool); err != nil {
		tb.log.Warn("skipping tool", "tool", tool.Name(), "connector", origin, "error", err)
	}
}

func (tb *Toolbox) decryptConfig(row store.Connector) (map[string]any, error) {
	work := maps.Clone(row.Config)
	if work == nil {
		work = map[string]any{}
	}
	if tb.deps.Cipher == nil {
		return work, nil
	}
	if err := tb.deps.Cipher.DecryptFields(work, connectors.SecretFields(row.ConnectorType)...); err != nil {
		return nil, err
	}
	return work, nil
}
