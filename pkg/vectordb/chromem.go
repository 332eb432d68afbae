package vectordb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/lorehq/lore/pkg/config"
)

// ChromemBackend is the embedded store: pure Go, vectors in memory,
// gob-persisted under the configured path. Single process only.
type ChromemBackend struct {
	db         *chromem.DB
	collection *chromem.Collection
	path       string
	mu         sync.Mutex
}

func NewChromemBackend(cfg config.DocsIndexConfig) (*ChromemBackend, error) {
	var (
		db  *chromem.DB
		err error
	)
	path := ""
	if cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create docs index dir: %w", err)
		}
		path = filepath.Join(cfg.Path, "vectors.gob")
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open docs index: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	// Vectors arrive pre-computed; the embedding hook must never run.
	noEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("docs index received text without a vector")
	}
	col, err := db.GetOrCreateCollection(cfg.Collection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("open collection %q: %w", cfg.Collection, err)
	}

	return &ChromemBackend{db: db, collection: col, path: path}, nil
}

func (b *ChromemBackend) Upsert(ctx context.Context, entries []Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	docs := make([]chromem.Document, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, chromem.Document{
			ID:        e.ID,
			Content:   e.Content,
			Metadata:  e.Metadata,
			Embedding: e.Vector,
		})
	}
	if err := b.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("upsert docs: %w", err)
	}
	return nil
}

func (b *ChromemBackend) Search(ctx context.Context, vector []float32, topK int) ([]Result, error) {
	b.mu.Lock()
	count := b.collection.Count()
	b.mu.Unlock()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	hits, err := b.collection.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query docs: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			ID:       h.ID,
			Content:  h.Content,
			Score:    h.Similarity,
			Metadata: h.Metadata,
		})
	}
	return results, nil
}

func (b *ChromemBackend) Count(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.collection.Count(), nil
}

func (b *ChromemBackend) Close() error {
	return nil
}
