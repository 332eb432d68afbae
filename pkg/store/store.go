// Package store is the canonical document store: Postgres with pgvector for
// dense vectors and a tsvector column for lexical rank. It owns search
// spaces, documents and chunks, connectors, chats, reports, podcasts, user
// memories, task logs, and the durable job queue.
//
// Transactions are scoped narrowly. Callers that pipeline several writes
// use WithTx; nothing in this package holds a connection across an LLM,
// embedding, or TTS call.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lorehq/lore/pkg/config"
)

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a unique constraint the
// caller treats as control flow (content-hash dedupe).
var ErrDuplicate = errors.New("duplicate")

// Store wraps the pgx pool. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	dim  int
}

// New connects the pool and optionally bootstraps the schema. The embedding
// dimension is fixed per deployment; vector columns are declared with it.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	s := &Store{pool: pool, dim: cfg.EmbeddingDim}

	if cfg.BootstrapSchema {
		if err := s.ensureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return s, nil
}

// NewWithPool wires an existing pool (tests use this against a disposable
// database).
func NewWithPool(pool *pgxpool.Pool, dim int) *Store {
	return &Store{pool: pool, dim: dim}
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

// WithTx runs fn inside one transaction, rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation, optionally on the named constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || strings.Contains(pgErr.ConstraintName, constraint)
}
