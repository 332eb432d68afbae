package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// SearchQuery parameterizes one hybrid search pass over a single
// document type. Weights come from retrieval config; TopK is the final
// result budget after score ordering. Nil date bounds are open-ended.
type SearchQuery struct {
	UserID         string
	SearchSpaceIDs []uuid.UUID
	DocumentType   string
	Query          string
	Embedding      []float32
	TopK           int
	SemanticWeight float64
	LexicalWeight  float64
	After          *time.Time
	Before         *time.Time
}

// ChunkHit is one chunk-mode search result joined with its parent
// document.
type ChunkHit struct {
	ChunkID       uuid.UUID
	DocumentID    uuid.UUID
	DocumentTitle string
	DocumentType  string
	Metadata      map[string]any
	Content       string
	Score         float64
}

// DocumentHit is one document-mode search result. Content aggregates
// the matching chunks so the caller sees evidence, not just a summary.
type DocumentHit struct {
	DocumentID   uuid.UUID
	Title        string
	DocumentType string
	Metadata     map[string]any
	Summary      string
	Content      string
	Score        float64
}

// SearchChunks runs hybrid retrieval at chunk granularity: cosine
// similarity against chunk embeddings blended with full-text rank,
// newest document first on ties.
func (s *Store) SearchChunks(ctx context.Context, q SearchQuery) ([]ChunkHit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, d.id, d.title, d.document_type, d.metadata, c.content,
		        ($5 * (1 - (c.embedding <=> $6)) +
		         $7 * ts_rank_cd(c.content_tsv, plainto_tsquery('english', $4))) AS score
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 JOIN search_spaces sp ON sp.id = d.search_space_id
		 WHERE sp.user_id = $1
		   AND d.search_space_id = ANY($2)
		   AND d.document_type = $3
		   AND ($9::timestamptz IS NULL OR d.created_at >= $9)
		   AND ($10::timestamptz IS NULL OR d.created_at <= $10)
		 ORDER BY score DESC, d.created_at DESC
		 LIMIT $8`,
		q.UserID, q.SearchSpaceIDs, q.DocumentType, q.Query,
		q.SemanticWeight, pgvector.NewVector(q.Embedding), q.LexicalWeight, q.TopK,
		q.After, q.Before)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var hits []ChunkHit
	for rows.Next() {
		var h ChunkHit
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.DocumentTitle,
			&h.DocumentType, &h.Metadata, &h.Content, &h.Score); err != nil {
			return nil, fmt.Errorf("scan chunk hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// SearchDocuments runs hybrid retrieval at document granularity:
// summary embeddings carry the semantic side, the best chunk rank
// carries the lexical side, and the matching chunks are concatenated
// into the hit content.
func (s *Store) SearchDocuments(ctx context.Context, q SearchQuery) ([]DocumentHit, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT d.id, d.title, d.document_type, d.metadata, d.summary,
		        COALESCE(string_agg(c.content, E'\n\n' ORDER BY c.chunk_index), d.summary) AS content,
		        ($5 * (1 - (d.summary_embedding <=> $6)) +
		         $7 * COALESCE(MAX(ts_rank_cd(c.content_tsv, plainto_tsquery('english', $4))), 0)) AS score
		 FROM documents d
		 JOIN search_spaces sp ON sp.id = d.search_space_id
		 LEFT JOIN chunks c ON c.document_id = d.id
		   AND c.content_tsv @@ plainto_tsquery('english', $4)
		 WHERE sp.user_id = $1
		   AND d.search_space_id = ANY($2)
		   AND d.document_type = $3
		   AND ($9::timestamptz IS NULL OR d.created_at >= $9)
		   AND ($10::timestamptz IS NULL OR d.created_at <= $10)
		 GROUP BY d.id
		 ORDER BY score DESC, d.created_at DESC
		 LIMIT $8`,
		q.UserID, q.SearchSpaceIDs, q.DocumentType, q.Query,
		q.SemanticWeight, pgvector.NewVector(q.Embedding), q.LexicalWeight, q.TopK,
		q.After, q.Before)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var hits []DocumentHit
	for rows.Next() {
		var h DocumentHit
		if err := rows.Scan(&h.DocumentID, &h.Title, &h.DocumentType,
			&h.Metadata, &h.Summary, &h.Content, &h.Score); err != nil {
			return nil, fmt.Errorf("scan document hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
