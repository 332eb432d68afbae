package tools

import (
	"context"

	"github.com/lorehq/lore/pkg/docsindex"
)

// DocsSearcher is the slice of the docs index this tool drives.
type DocsSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]docsindex.Hit, error)
}

type searchLoreDocsArgs struct {
	Query string `json:"query" jsonschema:"required,description=What to look up in the Lore documentation"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"description=Maximum number of passages to return,default=5"`
}

// SearchLoreDocsTool answers questions about Lore itself from the
// product documentation index. Hits carry doc-prefixed citation ids.
type SearchLoreDocsTool struct {
	docs DocsSearcher
}

func NewSearchLoreDocsTool(docs DocsSearcher) *SearchLoreDocsTool {
	return &SearchLoreDocsTool{docs: docs}
}

func (t *SearchLoreDocsTool) Name() string { return "search_lore_docs" }

func (t *SearchLoreDocsTool) Description() string {
	return "Search Lore's own product documentation. Use this when the user asks how Lore works or how to configure it."
}

func (t *SearchLoreDocsTool) ArgsSchema() map[string]any {
	return argsSchema[searchLoreDocsArgs]()
}

func (t *SearchLoreDocsTool) Invoke(ctx context.Context, args map[string]any) ToolOutcome {
	query := stringArg(args, "query")
	if query == "" {
		return Failedf("query is required")
	}
	topK := intArg(args, "top_k", 5)

	hits, err := t.docs.Search(ctx, query, topK)
	if err != nil {
		return Failed(err)
	}

	rendered := make([]contextChunk, len(hits))
	for i, h := range hits {
		title := h.Title
		if title == "" {
			title = h.Path
		}
		rendered[i] = contextChunk{
			ID:      h.ID,
			Source:  "Lore Docs",
			Title:   title,
			Content: h.Content,
		}
	}
	return Success(renderChunks(rendered))
}
