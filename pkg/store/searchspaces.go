package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateSearchSpace provisions a new space for a user.
func (s *Store) CreateSearchSpace(ctx context.Context, userID, name, description string) (*SearchSpace, error) {
	sp := SearchSpace{ID: uuid.New(), UserID: userID, Name: name, Description: description}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO search_spaces (id, user_id, name, description)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		sp.ID, sp.UserID, sp.Name, sp.Description).Scan(&sp.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create search space: %w", err)
	}
	return &sp, nil
}

// GetSearchSpace loads one space, enforcing ownership.
func (s *Store) GetSearchSpace(ctx context.Context, id uuid.UUID, userID string) (*SearchSpace, error) {
	var sp SearchSpace
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, description, created_at
		 FROM search_spaces WHERE id = $1 AND user_id = $2`, id, userID).Scan(
		&sp.ID, &sp.UserID, &sp.Name, &sp.Description, &sp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get search space: %w", err)
	}
	return &sp, nil
}

// ListSearchSpaces returns every space a user owns, newest first.
func (s *Store) ListSearchSpaces(ctx context.Context, userID string) ([]SearchSpace, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, description, created_at
		 FROM search_spaces WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list search spaces: %w", err)
	}
	defer rows.Close()

	var spaces []SearchSpace
	for rows.Next() {
		var sp SearchSpace
		if err := rows.Scan(&sp.ID, &sp.UserID, &sp.Name, &sp.Description, &sp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan search space: %w", err)
		}
		spaces = append(spaces, sp)
	}
	return spaces, rows.Err()
}

// SearchSpaceIDsForUser resolves the id set retrieval scopes to. An
// explicit subset is validated against ownership; empty means all.
func (s *Store) SearchSpaceIDsForUser(ctx context.Context, userID string, subset []uuid.UUID) ([]uuid.UUID, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(subset) == 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT id FROM search_spaces WHERE user_id = $1`, userID)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id FROM search_spaces WHERE user_id = $1 AND id = ANY($2)`, userID, subset)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve search spaces: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan search space id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSearchSpace removes a space and everything beneath it.
func (s *Store) DeleteSearchSpace(ctx context.Context, id uuid.UUID, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM search_spaces WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete search space: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
