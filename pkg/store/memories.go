package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// InsertUserMemory saves one remembered fact with its embedding.
func (s *Store) InsertUserMemory(ctx context.Context, userID, category, content string, embedding []float32) (*UserMemory, error) {
	m := UserMemory{ID: uuid.New(), UserID: userID, Category: category, Content: content}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO user_memories (id, user_id, category, content, embedding)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		m.ID, m.UserID, m.Category, m.Content, pgvector.NewVector(embedding)).Scan(&m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user memory: %w", err)
	}
	return &m, nil
}

// RecallUserMemories returns the memories nearest to a query embedding.
func (s *Store) RecallUserMemories(ctx context.Context, userID string, embedding []float32, topK int) ([]UserMemory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, category, content, created_at
		 FROM user_memories
		 WHERE user_id = $1
		 ORDER BY embedding <=> $2
		 LIMIT $3`,
		userID, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("recall user memories: %w", err)
	}
	defer rows.Close()

	var memories []UserMemory
	for rows.Next() {
		var m UserMemory
		if err := rows.Scan(&m.ID, &m.UserID, &m.Category, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user memory: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// ListUserMemories returns every memory a user has saved, newest first.
func (s *Store) ListUserMemories(ctx context.Context, userID string) ([]UserMemory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, category, content, created_at
		 FROM user_memories WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user memories: %w", err)
	}
	defer rows.Close()

	var memories []UserMemory
	for rows.Next() {
		var m UserMemory
		if err := rows.Scan(&m.ID, &m.UserID, &m.Category, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user memory: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// DeleteUserMemory removes one memory, enforcing ownership.
func (s *Store) DeleteUserMemory(ctx context.Context, id uuid.UUID, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM user_memories WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete user memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
