package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateChat starts a new conversation in a search space.
func (s *Store) CreateChat(ctx context.Context, searchSpaceID uuid.UUID, title string) (*Chat, error) {
	c := Chat{ID: uuid.New(), SearchSpaceID: searchSpaceID, Title: title}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chats (id, search_space_id, title)
		 VALUES ($1, $2, $3) RETURNING created_at`,
		c.ID, c.SearchSpaceID, c.Title).Scan(&c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return &c, nil
}

// GetChat loads one chat by id.
func (s *Store) GetChat(ctx context.Context, id uuid.UUID) (*Chat, error) {
	var c Chat
	err := s.pool.QueryRow(ctx,
		`SELECT id, search_space_id, title, created_at
		 FROM chats WHERE id = $1`, id).Scan(
		&c.ID, &c.SearchSpaceID, &c.Title, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &c, nil
}

// UpdateChatTitle renames a chat. The boundary uses it to name chats
// after their first user message.
func (s *Store) UpdateChatTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE chats SET title = $2 WHERE id = $1`, id, title)
	if err != nil {
		return fmt.Errorf("update chat title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListChats returns a search space's chats, newest first.
func (s *Store) ListChats(ctx context.Context, searchSpaceID uuid.UUID) ([]Chat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, search_space_id, title, created_at
		 FROM chats WHERE search_space_id = $1 ORDER BY created_at DESC`, searchSpaceID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.SearchSpaceID, &c.Title, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// AppendChatMessage persists one turn message.
func (s *Store) AppendChatMessage(ctx context.Context, chatID uuid.UUID, role, content string, citations []int64) (*ChatMessage, error) {
	m := ChatMessage{ID: uuid.New(), ChatID: chatID, Role: role, Content: content, Citations: citations}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_messages (id, chat_id, role, content, citations)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		m.ID, m.ChatID, m.Role, m.Content, m.Citations).Scan(&m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert chat message: %w", err)
	}
	return &m, nil
}

// ListChatMessages returns a chat's messages in turn order.
func (s *Store) ListChatMessages(ctx context.Context, chatID uuid.UUID) ([]ChatMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, role, content, COALESCE(citations, '[]'::jsonb), created_at
		 FROM chat_messages WHERE chat_id = $1 ORDER BY created_at`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.Citations, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteChat removes a chat and its messages.
func (s *Store) DeleteChat(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
