package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const connectorColumns = `id, user_id, search_space_id, connector_type, name, config,
	last_indexed_at, page_token, config_modified_at, created_at, updated_at`

// CreateConnector registers a connector instance in a search space.
// Config arrives already field-encrypted.
func (s *Store) CreateConnector(ctx context.Context, userID string, searchSpaceID uuid.UUID, connectorType, name string, cfg map[string]any) (*Connector, error) {
	c := Connector{
		ID:            uuid.New(),
		UserID:        userID,
		SearchSpaceID: searchSpaceID,
		ConnectorType: connectorType,
		Name:          name,
		Config:        cfg,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO search_source_connectors
		   (id, user_id, search_space_id, connector_type, name, config, config_modified_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 RETURNING config_modified_at, created_at, updated_at`,
		c.ID, c.UserID, c.SearchSpaceID, c.ConnectorType, c.Name, c.Config).Scan(
		&c.ConfigModifiedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create connector: %w", err)
	}
	return &c, nil
}

// GetConnector loads one connector by id.
func (s *Store) GetConnector(ctx context.Context, id uuid.UUID) (*Connector, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+connectorColumns+` FROM search_source_connectors WHERE id = $1`, id)
	return scanConnector(row)
}

// ListConnectors returns the connectors of a search space.
func (s *Store) ListConnectors(ctx context.Context, searchSpaceID uuid.UUID) ([]Connector, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+connectorColumns+`
		 FROM search_source_connectors
		 WHERE search_space_id = $1 ORDER BY created_at`, searchSpaceID)
	if err != nil {
		return nil, fmt.Errorf("list connectors: %w", err)
	}
	defer rows.Close()

	var connectors []Connector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, err
		}
		connectors = append(connectors, *c)
	}
	return connectors, rows.Err()
}

// UpdateConnectorCursor advances last_indexed_at and the resumption
// token after a fully successful run. Failed runs never reach here, so
// the cursor only moves forward on complete windows.
func (s *Store) UpdateConnectorCursor(ctx context.Context, id uuid.UUID, indexedAt time.Time, pageToken string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE search_source_connectors
		 SET last_indexed_at = $2, page_token = $3, updated_at = NOW()
		 WHERE id = $1`,
		id, indexedAt, pageToken)
	if err != nil {
		return fmt.Errorf("update connector cursor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateConnectorConfig persists a refreshed credential set. The row is
// locked and config_modified_at compared first: if another worker
// already refreshed, the newer config wins and the caller gets it back
// with refreshed=false.
func (s *Store) UpdateConnectorConfig(ctx context.Context, id uuid.UUID, seenModifiedAt time.Time, cfg map[string]any) (map[string]any, bool, error) {
	var (
		current   map[string]any
		refreshed bool
	)
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var modifiedAt *time.Time
		err := tx.QueryRow(ctx,
			`SELECT config, config_modified_at
			 FROM search_source_connectors WHERE id = $1 FOR UPDATE`, id).Scan(&current, &modifiedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock connector: %w", err)
		}
		if modifiedAt != nil && modifiedAt.After(seenModifiedAt) {
			return nil
		}
		if _, err := tx.Exec(ctx,
			`UPDATE search_source_connectors
			 SET config = $2, config_modified_at = NOW(), updated_at = NOW()
			 WHERE id = $1`, id, cfg); err != nil {
			return fmt.Errorf("update connector config: %w", err)
		}
		current = cfg
		refreshed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return current, refreshed, nil
}

// DeleteConnector removes a connector; its documents survive with a
// NULL connector reference.
func (s *Store) DeleteConnector(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM search_source_connectors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete connector: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConnector(row pgx.Row) (*Connector, error) {
	var c Connector
	err := row.Scan(&c.ID, &c.UserID, &c.SearchSpaceID, &c.ConnectorType, &c.Name, &c.Config,
		&c.LastIndexedAt, &c.PageToken, &c.ConfigModifiedAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan connector: %w", err)
	}
	return &c, nil
}
