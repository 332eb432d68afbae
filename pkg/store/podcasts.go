package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreatePodcast records a pending podcast before generation starts. The
// id is caller-supplied so the enqueue path can hold it in the
// single-flight lock before the row exists.
func (s *Store) CreatePodcast(ctx context.Context, id, searchSpaceID uuid.UUID, title string) (*Podcast, error) {
	p := Podcast{ID: id, SearchSpaceID: searchSpaceID, Title: title, Status: PodcastPending}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO podcasts (id, search_space_id, title, status)
		 VALUES ($1, $2, $3, $4) RETURNING created_at, updated_at`,
		p.ID, p.SearchSpaceID, p.Title, p.Status).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create podcast: %w", err)
	}
	return &p, nil
}

// GetPodcast loads one podcast by id.
func (s *Store) GetPodcast(ctx context.Context, id uuid.UUID) (*Podcast, error) {
	var p Podcast
	err := s.pool.QueryRow(ctx,
		`SELECT id, search_space_id, title, status, audio_path, error, created_at, updated_at
		 FROM podcasts WHERE id = $1`, id).Scan(
		&p.ID, &p.SearchSpaceID, &p.Title, &p.Status, &p.AudioPath,
		&p.Error, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get podcast: %w", err)
	}
	return &p, nil
}

// ListPodcasts returns a search space's podcasts, newest first.
func (s *Store) ListPodcasts(ctx context.Context, searchSpaceID uuid.UUID) ([]Podcast, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, search_space_id, title, status, audio_path, error, created_at, updated_at
		 FROM podcasts WHERE search_space_id = $1 ORDER BY created_at DESC`, searchSpaceID)
	if err != nil {
		return nil, fmt.Errorf("list podcasts: %w", err)
	}
	defer rows.Close()

	var podcasts []Podcast
	for rows.Next() {
		var p Podcast
		if err := rows.Scan(&p.ID, &p.SearchSpaceID, &p.Title, &p.Status, &p.AudioPath,
			&p.Error, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan podcast: %w", err)
		}
		podcasts = append(podcasts, p)
	}
	return podcasts, rows.Err()
}

// MarkPodcastGenerating flips a pending podcast to GENERATING.
func (s *Store) MarkPodcastGenerating(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE podcasts SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, PodcastGenerating)
	if err != nil {
		return fmt.Errorf("mark podcast generating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPodcastReady stores the finished audio location.
func (s *Store) MarkPodcastReady(ctx context.Context, id uuid.UUID, audioPath string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE podcasts
		 SET status = $2, audio_path = $3, error = '', updated_at = NOW()
		 WHERE id = $1`,
		id, PodcastReady, audioPath)
	if err != nil {
		return fmt.Errorf("mark podcast ready: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPodcastFailed records a terminal failure with its cause.
func (s *Store) MarkPodcastFailed(ctx context.Context, id uuid.UUID, cause string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE podcasts SET status = $2, error = $3, updated_at = NOW() WHERE id = $1`,
		id, PodcastFailed, cause)
	if err != nil {
		return fmt.Errorf("mark podcast failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
