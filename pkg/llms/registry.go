package llms

import (
	"context"
	"fmt"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/registry"
)

// LLMProvider is the uniform chat interface every provider implements.
type LLMProvider interface {
	// Generate performs a non-streaming request. Returns the response text,
	// any tool calls, and total tokens used.
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []*ToolCall, int, error)

	// GenerateStreaming returns a channel of chunks. The channel is closed
	// after a "done" or "error" chunk.
	GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error)

	GetModelName() string
	GetMaxTokens() int
	GetTemperature() float64

	Close() error
}

// StructuredOutputProvider is implemented by providers that can constrain
// output to a JSON schema. The report planner requires one.
type StructuredOutputProvider interface {
	LLMProvider

	GenerateStructured(ctx context.Context, messages []Message, tools []ToolDefinition, structConfig *StructuredOutputConfig) (string, []*ToolCall, int, error)

	SupportsStructuredOutput() bool
}

// LLMRegistry holds named provider instances.
type LLMRegistry struct {
	*registry.BaseRegistry[LLMProvider]
}

func NewLLMRegistry() *LLMRegistry {
	return &LLMRegistry{
		BaseRegistry: registry.NewBaseRegistry[LLMProvider](),
	}
}

// CreateLLMFromConfig instantiates a provider from config and registers it
// under the given name.
func (r *LLMRegistry) CreateLLMFromConfig(name string, cfg *config.LLMProviderConfig) (LLMProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required for llm %q", name)
	}

	var provider LLMProvider
	var err error

	switch cfg.Type {
	case "openai":
		provider, err = NewOpenAIProviderFromConfig(cfg)
	case "anthropic":
		provider, err = NewAnthropicProviderFromConfig(cfg)
	case "gemini":
		provider, err = NewGeminiProviderFromConfig(cfg)
	case "ollama":
		provider, err = NewOllamaProviderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm type %q (supported: openai, anthropic, gemini, ollama)", cfg.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create llm %q: %w", name, err)
	}

	if err := r.Register(name, provider); err != nil {
		return nil, err
	}

	return provider, nil
}

// GetLLM returns a registered provider by name.
func (r *LLMRegistry) GetLLM(name string) (LLMProvider, error) {
	provider, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("llm %q not found (available: %v)", name, r.Names())
	}
	return provider, nil
}

// Router resolves workload roles to providers. The fast role drives chat
// turns, long_context summarizes documents, strategic plans reports.
type Router struct {
	registry *LLMRegistry
	roles    config.RolesConfig
}

func NewRouter(reg *LLMRegistry, roles config.RolesConfig) *Router {
	return &Router{registry: reg, roles: roles}
}

// BuildRouter creates providers for every configured llm and wires the role
// router over them.
func BuildRouter(llms map[string]*config.LLMProviderConfig, roles config.RolesConfig) (*Router, error) {
	reg := NewLLMRegistry()
	for name, cfg := range llms {
		if _, err := reg.CreateLLMFromConfig(name, cfg); err != nil {
			return nil, err
		}
	}
	return NewRouter(reg, roles), nil
}

func (r *Router) Fast() (LLMProvider, error) {
	return r.registry.GetLLM(r.roles.Fast)
}

func (r *Router) LongContext() (LLMProvider, error) {
	return r.registry.GetLLM(r.roles.LongContext)
}

// Strategic returns the planning provider. It must support structured
// output; the report revision planner depends on schema-constrained JSON.
func (r *Router) Strategic() (StructuredOutputProvider, error) {
	provider, err := r.registry.GetLLM(r.roles.Strategic)
	if err != nil {
		return nil, err
	}
	structured, ok := provider.(StructuredOutputProvider)
	if !ok || !structured.SupportsStructuredOutput() {
		return nil, fmt.Errorf("llm %q does not support structured output required by the strategic role", r.roles.Strategic)
	}
	return structured, nil
}

// Registry exposes the underlying registry for provider shutdown.
func (r *Router) Registry() *LLMRegistry {
	return r.registry
}

// Close closes every registered provider.
func (r *Router) Close() error {
	var firstErr error
	for _, provider := range r.registry.List() {
		if err := provider.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
