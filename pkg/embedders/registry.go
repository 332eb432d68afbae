// Package embedders turns text into dense vectors for hybrid search.
package embedders

import (
	"context"
	"fmt"

	"github.com/lorehq/lore/pkg/config"
	"github.com/lorehq/lore/pkg/registry"
)

// EmbedderProvider is the uniform embedding interface. Batch calls
// preserve input order.
type EmbedderProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	GetDimension() int
	GetModelName() string

	Close() error
}

// EmbedderRegistry holds named embedder instances.
type EmbedderRegistry struct {
	*registry.BaseRegistry[EmbedderProvider]
}

func NewEmbedderRegistry() *EmbedderRegistry {
	return &EmbedderRegistry{
		BaseRegistry: registry.NewBaseRegistry[EmbedderProvider](),
	}
}

// CreateEmbedderFromConfig instantiates an embedder from config and
// registers it under the given name.
func (r *EmbedderRegistry) CreateEmbedderFromConfig(name string, cfg *config.EmbedderProviderConfig) (EmbedderProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required for embedder %q", name)
	}

	var provider EmbedderProvider
	var err error

	switch cfg.Type {
	case "openai":
		provider, err = NewOpenAIEmbedderFromConfig(cfg)
	case "ollama":
		provider, err = NewOllamaEmbedderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder type %q (supported: openai, ollama)", cfg.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create embedder %q: %w", name, err)
	}

	if err := r.Register(name, provider); err != nil {
		return nil, err
	}

	return provider, nil
}

// GetEmbedder returns a registered embedder by name.
func (r *EmbedderRegistry) GetEmbedder(name string) (EmbedderProvider, error) {
	provider, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("embedder %q not found (available: %v)", name, r.Names())
	}
	return provider, nil
}

// BuildRegistry creates every configured embedder.
func BuildRegistry(embedders map[string]*config.EmbedderProviderConfig) (*EmbedderRegistry, error) {
	reg := NewEmbedderRegistry()
	for name, cfg := range embedders {
		if _, err := reg.CreateEmbedderFromConfig(name, cfg); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Close closes every registered embedder.
func (r *EmbedderRegistry) Close() error {
	var firstErr error
	for _, provider := range r.List() {
		if err := provider.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
