package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// DocumentWrite is everything needed to persist one document and its
// chunks atomically.
type DocumentWrite struct {
	SearchSpaceID        uuid.UUID
	DocumentType         string
	Title                string
	Metadata             map[string]any
	Summary              string
	SummaryEmbedding     []float32
	ContentHash          string
	UniqueIdentifierHash string
	ConnectorID          *uuid.UUID
	Chunks               []ChunkWrite
}

type ChunkWrite struct {
	Content   string
	Embedding []float32
}

// GetDocumentByUniqueHash finds the document carrying a stable source
// identity, scoped to one search space by the hash construction.
func (s *Store) GetDocumentByUniqueHash(ctx context.Context, uniqueHash string) (*Document, error) {
	return s.getDocument(ctx,
		`SELECT id, search_space_id, document_type, title, metadata, summary,
		        content_hash, COALESCE(unique_identifier_hash, ''), connector_id,
		        created_at, updated_at
		 FROM documents WHERE unique_identifier_hash = $1`, uniqueHash)
}

// GetDocumentByContentHash finds the document with identical canonical
// content.
func (s *Store) GetDocumentByContentHash(ctx context.Context, contentHash string) (*Document, error) {
	return s.getDocument(ctx,
		`SELECT id, search_space_id, document_type, title, metadata, summary,
		        content_hash, COALESCE(unique_identifier_hash, ''), connector_id,
		        created_at, updated_at
		 FROM documents WHERE content_hash = $1`, contentHash)
}

// GetDocument loads one document by id.
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	return s.getDocument(ctx,
		`SELECT id, search_space_id, document_type, title, metadata, summary,
		        content_hash, COALESCE(unique_identifier_hash, ''), connector_id,
		        created_at, updated_at
		 FROM documents WHERE id = $1`, id)
}

func (s *Store) getDocument(ctx context.Context, sql string, arg any) (*Document, error) {
	var doc Document
	err := s.pool.QueryRow(ctx, sql, arg).Scan(
		&doc.ID, &doc.SearchSpaceID, &doc.DocumentType, &doc.Title,
		&doc.Metadata, &doc.Summary, &doc.ContentHash, &doc.UniqueIdentifierHash,
		&doc.ConnectorID, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

// InsertDocument persists a new document and its chunks in one
// transaction. A concurrent insert of the same content hash surfaces as
// ErrDuplicate so the pipeline can fall back to the dedupe path.
func (s *Store) InsertDocument(ctx context.Context, w DocumentWrite) (*Document, error) {
	id := uuid.New()
	now := time.Now().UTC()

	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var uniqueHash *string
		if w.UniqueIdentifierHash != "" {
			uniqueHash = &w.UniqueIdentifierHash
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO documents
			   (id, search_space_id, document_type, title, metadata, summary,
			    summary_embedding, content_hash, unique_identifier_hash,
			    connector_id, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)`,
			id, w.SearchSpaceID, w.DocumentType, w.Title, w.Metadata, w.Summary,
			pgvector.NewVector(w.SummaryEmbedding), w.ContentHash, uniqueHash,
			w.ConnectorID, now)
		if err != nil {
			if isUniqueViolation(err, "content_hash") || isUniqueViolation(err, "unique_identifier") {
				return ErrDuplicate
			}
			return fmt.Errorf("insert document: %w", err)
		}
		return insertChunks(ctx, tx, id, w.Chunks)
	})
	if err != nil {
		return nil, err
	}

	return &Document{
		ID:                   id,
		SearchSpaceID:        w.SearchSpaceID,
		DocumentType:         w.DocumentType,
		Title:                w.Title,
		Metadata:             w.Metadata,
		Summary:              w.Summary,
		ContentHash:          w.ContentHash,
		UniqueIdentifierHash: w.UniqueIdentifierHash,
		ConnectorID:          w.ConnectorID,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// ReplaceDocument updates a changed document in place, retaining its
// identity: title, metadata, summary, and content hash move to the new
// values and every chunk is recreated, all in one transaction.
func (s *Store) ReplaceDocument(ctx context.Context, id uuid.UUID, w DocumentWrite) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE documents
			 SET title = $2, metadata = $3, summary = $4, summary_embedding = $5,
			     content_hash = $6, updated_at = NOW()
			 WHERE id = $1`,
			id, w.Title, w.Metadata, w.Summary,
			pgvector.NewVector(w.SummaryEmbedding), w.ContentHash)
		if err != nil {
			return fmt.Errorf("update document: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, id); err != nil {
			return fmt.Errorf("delete stale chunks: %w", err)
		}
		return insertChunks(ctx, tx, id, w.Chunks)
	})
}

// UpdateDocumentTitleMetadata is the rename-only path: no summary, no
// embedding, no chunk churn.
func (s *Store) UpdateDocumentTitleMetadata(ctx context.Context, id uuid.UUID, title string, metadata map[string]any) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET title = $2, metadata = $3, updated_at = NOW() WHERE id = $1`,
		id, title, metadata)
	if err != nil {
		return fmt.Errorf("update document title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocument removes a document; chunks cascade.
func (s *Store) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func insertChunks(ctx context.Context, tx pgx.Tx, documentID uuid.UUID, chunks []ChunkWrite) error {
	for i, chunk := range chunks {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chunks (id, document_id, chunk_index, content, embedding)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), documentID, i, chunk.Content,
			pgvector.NewVector(chunk.Embedding)); err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	return nil
}

// CountChunksForUser seeds the retrieval chunk-id sequence.
func (s *Store) CountChunksForUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 JOIN search_spaces sp ON sp.id = d.search_space_id
		 WHERE sp.user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

// CountDocumentChunks reports how many chunks a document owns.
func (s *Store) CountDocumentChunks(ctx context.Context, documentID uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE document_id = $1`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count document chunks: %w", err)
	}
	return count, nil
}

// CountDocuments reports how many documents a search space holds.
func (s *Store) CountDocuments(ctx context.Context, searchSpaceID uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents WHERE search_space_id = $1`, searchSpaceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}
