package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const reportColumns = `id, search_space_id, report_group_id, title, content,
	word_count, character_count, section_count, created_at`

// ReportWrite carries one report version ready to persist. A zero
// GroupID starts a new lineage keyed by the report's own id.
type ReportWrite struct {
	SearchSpaceID  uuid.UUID
	GroupID        uuid.UUID
	Title          string
	Content        string
	WordCount      int
	CharacterCount int
	SectionCount   int
}

// InsertReport stores a report version.
func (s *Store) InsertReport(ctx context.Context, w ReportWrite) (*Report, error) {
	r := Report{
		ID:             uuid.New(),
		SearchSpaceID:  w.SearchSpaceID,
		ReportGroupID:  w.GroupID,
		Title:          w.Title,
		Content:        w.Content,
		WordCount:      w.WordCount,
		CharacterCount: w.CharacterCount,
		SectionCount:   w.SectionCount,
	}
	if r.ReportGroupID == uuid.Nil {
		r.ReportGroupID = r.ID
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO reports
		   (id, search_space_id, report_group_id, title, content,
		    word_count, character_count, section_count)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING created_at`,
		r.ID, r.SearchSpaceID, r.ReportGroupID, r.Title, r.Content,
		r.WordCount, r.CharacterCount, r.SectionCount).Scan(&r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert report: %w", err)
	}
	return &r, nil
}

// GetReport loads one report version.
func (s *Store) GetReport(ctx context.Context, id uuid.UUID) (*Report, error) {
	var r Report
	err := s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = $1`, id).Scan(
		&r.ID, &r.SearchSpaceID, &r.ReportGroupID, &r.Title, &r.Content,
		&r.WordCount, &r.CharacterCount, &r.SectionCount, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &r, nil
}

// LatestReportInGroup returns the newest version of a report lineage.
func (s *Store) LatestReportInGroup(ctx context.Context, groupID uuid.UUID) (*Report, error) {
	var r Report
	err := s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+`
		 FROM reports WHERE report_group_id = $1
		 ORDER BY created_at DESC LIMIT 1`, groupID).Scan(
		&r.ID, &r.SearchSpaceID, &r.ReportGroupID, &r.Title, &r.Content,
		&r.WordCount, &r.CharacterCount, &r.SectionCount, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest report in group: %w", err)
	}
	return &r, nil
}

// ListReports returns the newest version of every lineage in a search
// space.
func (s *Store) ListReports(ctx context.Context, searchSpaceID uuid.UUID) ([]Report, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (report_group_id) `+reportColumns+`
		 FROM reports WHERE search_space_id = $1
		 ORDER BY report_group_id, created_at DESC`, searchSpaceID)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.ID, &r.SearchSpaceID, &r.ReportGroupID, &r.Title, &r.Content,
			&r.WordCount, &r.CharacterCount, &r.SectionCount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
