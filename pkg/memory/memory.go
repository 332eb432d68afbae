// Package memory stores user-scoped facts for explicit save and recall.
// The agent exposes it through the save_memory and recall_memory tools;
// there is no implicit conversational memory beyond these calls.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/lorehq/lore/pkg/embedders"
	"github.com/lorehq/lore/pkg/logger"
	"github.com/lorehq/lore/pkg/store"
)

// Categories accepted by Save. Free-form categories collapse to
// CategoryOther so recall filters stay predictable.
const (
	CategoryPreference = "PREFERENCE"
	CategoryFact       = "FACT"
	CategoryProject    = "PROJECT"
	CategoryContact    = "CONTACT"
	CategoryOther      = "OTHER"
)

const defaultRecallTopK = 5

// Store is the persistence surface the service needs.
type Store interface {
	InsertUserMemory(ctx context.Context, userID, category, content string, embedding []float32) (*store.UserMemory, error)
	RecallUserMemories(ctx context.Context, userID string, embedding []float32, topK int) ([]store.UserMemory, error)
	ListUserMemories(ctx context.Context, userID string) ([]store.UserMemory, error)
	DeleteUserMemory(ctx context.Context, id uuid.UUID, userID string) error
}

// Service embeds facts on save and recalls them by vector proximity.
type Service struct {
	store    Store
	embedder embedders.EmbedderProvider
	log      *slog.Logger
}

func NewService(s Store, embedder embedders.EmbedderProvider) *Service {
	return &Service{store: s, embedder: embedder, log: logger.Component("memory")}
}

// Save remembers one fact for a user.
func (s *Service) Save(ctx context.Context, userID, fact, category string) (*store.UserMemory, error) {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return nil, fmt.Errorf("fact cannot be empty")
	}

	embedding, err := s.embedder.Embed(ctx, fact)
	if err != nil {
		return nil, fmt.Errorf("embed fact: %w", err)
	}

	m, err := s.store.InsertUserMemory(ctx, userID, normalizeCategory(category), fact, embedding)
	if err != nil {
		return nil, err
	}
	s.log.Debug("memory saved", "user", userID, "category", m.Category)
	return m, nil
}

// Recall returns the memories semantically nearest to the query.
func (s *Service) Recall(ctx context.Context, userID, query string, topK int) ([]store.UserMemory, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if topK <= 0 {
		topK = defaultRecallTopK
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.store.RecallUserMemories(ctx, userID, embedding, topK)
}

// List returns every memory a user has saved, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]store.UserMemory, error) {
	return s.store.ListUserMemories(ctx, userID)
}

// Forget removes one memory by id, enforcing ownership.
func (s *Service) Forget(ctx context.Context, id uuid.UUID, userID string) error {
	return s.store.DeleteUserMemory(ctx, id, userID)
}

func normalizeCategory(category string) string {
	switch c := strings.ToUpper(strings.TrimSpace(category)); c {
	case CategoryPreference, CategoryFact, CategoryProject, CategoryContact:
		return c
	default:
		return CategoryOther
	}
}
