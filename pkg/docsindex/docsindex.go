// Package docsindex maintains the product-documentation index the
// search_lore_docs tool answers from. It walks a Markdown tree, chunks
// and embeds each file, and serves similarity queries with doc-prefixed
// citation ids.
package docsindex

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/lorehq/lore/pkg/chunking"
	"github.com/lorehq/lore/pkg/embedders"
	"github.com/lorehq/lore/pkg/logger"
	"github.com/lorehq/lore/pkg/vectordb"
)

// IDPrefix marks citation ids that resolve against the docs index, not
// the knowledge base.
const IDPrefix = "doc-"

// Hit is one docs search result. ID carries the doc- prefix.
type Hit struct {
	ID      string
	Path    string
	Title   string
	Content string
	Score   float32
}

// Index wraps the vector backend with docs-specific ingest and search.
type Index struct {
	backend  vectordb.Backend
	embedder embedders.EmbedderProvider
	chunker  chunking.Chunker
	log      *slog.Logger
}

func New(backend vectordb.Backend, embedder embedders.EmbedderProvider) (*Index, error) {
	cfg := chunking.Config{}
	cfg.SetDefaults()
	chunker, err := chunking.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Index{
		backend:  backend,
		embedder: embedder,
		chunker:  chunker,
		log:      logger.Component("docsindex"),
	}, nil
}

// IndexDir walks dir for Markdown files and upserts each chunk. Returns
// the number of chunks indexed.
func (ix *Index) IndexDir(ctx context.Context, dir string) (int, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".md" || ext == ".markdown" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk docs dir: %w", err)
	}

	total := 0
	for _, path := range paths {
		n, err := ix.indexFile(ctx, dir, path)
		if err != nil {
			return total, fmt.Errorf("index %s: %w", path, err)
		}
		total += n
	}
	ix.log.Info("docs indexed", "files", len(paths), "chunks", total)
	return total, nil
}

func (ix *Index) indexFile(ctx context.Context, root, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	content := string(raw)
	if strings.TrimSpace(content) == "" {
		return 0, nil
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	title := docTitle(content, rel)

	chunks, err := ix.chunker.Chunk(content)
	if err != nil {
		return 0, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	entries := make([]vectordb.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = vectordb.Entry{
			// Stable per path+index so re-indexing replaces, not duplicates.
			ID:      uuid.NewSHA1(uuid.NameSpaceURL, []byte(rel+"#"+fmt.Sprint(c.Index))).String(),
			Content: c.Content,
			Vector:  vectors[i],
			Metadata: map[string]string{
				"path":  rel,
				"title": title,
				"chunk": fmt.Sprint(c.Index),
			},
		}
	}
	if err := ix.backend.Upsert(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Search returns the topK nearest docs chunks with doc-prefixed ids.
func (ix *Index) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	vector, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := ix.backend.Search(ctx, vector, topK)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			ID:      IDPrefix + r.ID,
			Path:    r.Metadata["path"],
			Title:   r.Metadata["title"],
			Content: r.Content,
			Score:   r.Score,
		})
	}
	return hits, nil
}

// Count reports how many chunks the index holds.
func (ix *Index) Count(ctx context.Context) (int, error) {
	return ix.backend.Count(ctx)
}

// docTitle takes the first Markdown heading, falling back to the file
// name.
func docTitle(content, rel string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	base := filepath.Base(rel)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
