// Package vectordb is the vector store behind the docs index. Two
// backends: chromem (embedded, zero external services) and Qdrant.
// Embeddings are always computed upstream; backends only store and
// rank pre-computed vectors.
package vectordb

import (
	"context"
	"fmt"

	"github.com/lorehq/lore/pkg/config"
)

// Result is one similarity hit.
type Result struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]string
}

// Entry is one document ready to upsert.
type Entry struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]string
}

// Backend stores and searches pre-computed vectors in one collection.
type Backend interface {
	Upsert(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, vector []float32, topK int) ([]Result, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// New creates the configured backend.
func New(cfg config.DocsIndexConfig) (Backend, error) {
	switch cfg.Backend {
	case "chromem":
		return NewChromemBackend(cfg)
	case "qdrant":
		return NewQdrantBackend(cfg)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}
