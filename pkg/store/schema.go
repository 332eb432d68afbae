package store

import (
	"context"
	"fmt"
	"strings"
)

// schemaTemplate carries one %[1]d verb: the deployment embedding dimension.
// Dedicated migration tooling is out of scope; the bootstrap is idempotent
// and safe to run on every start.
const schemaTemplate = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS search_spaces (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS search_spaces_user_idx
	ON search_spaces (user_id);

CREATE TABLE IF NOT EXISTS search_source_connectors (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	search_space_id UUID NOT NULL REFERENCES search_spaces(id) ON DELETE CASCADE,
	connector_type TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	config JSONB NOT NULL DEFAULT '{}',
	last_indexed_at TIMESTAMPTZ,
	page_token TEXT NOT NULL DEFAULT '',
	config_modified_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS connectors_user_space_idx
	ON search_source_connectors (user_id, search_space_id);

CREATE TABLE IF NOT EXISTS documents (
	id UUID PRIMARY KEY,
	search_space_id UUID NOT NULL REFERENCES search_spaces(id) ON DELETE CASCADE,
	document_type TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}',
	summary TEXT NOT NULL DEFAULT '',
	summary_embedding vector(%[1]d),
	content_hash TEXT NOT NULL,
	unique_identifier_hash TEXT,
	connector_id UUID REFERENCES search_source_connectors(id) ON DELETE SET NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT documents_content_hash_key UNIQUE (content_hash),
	CONSTRAINT documents_unique_identifier_hash_key UNIQUE (unique_identifier_hash)
);

CREATE INDEX IF NOT EXISTS documents_space_type_idx
	ON documents (search_space_id, document_type);

CREATE TABLE IF NOT EXISTS chunks (
	id UUID PRIMARY KEY,
	document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_index INT NOT NULL,
	content TEXT NOT NULL,
	embedding vector(%[1]d),
	content_tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
);

CREATE INDEX IF NOT EXISTS chunks_document_idx
	ON chunks (document_id);

CREATE INDEX IF NOT EXISTS chunks_tsv_idx
	ON chunks USING GIN (content_tsv);

CREATE TABLE IF NOT EXISTS chats (
	id UUID PRIMARY KEY,
	search_space_id UUID NOT NULL REFERENCES search_spaces(id) ON DELETE CASCADE,
	title TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id UUID PRIMARY KEY,
	chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	citations JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS chat_messages_chat_idx
	ON chat_messages (chat_id, created_at);

CREATE TABLE IF NOT EXISTS reports (
	id UUID PRIMARY KEY,
	search_space_id UUID NOT NULL REFERENCES search_spaces(id) ON DELETE CASCADE,
	report_group_id UUID NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	word_count INT NOT NULL DEFAULT 0,
	character_count INT NOT NULL DEFAULT 0,
	section_count INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS reports_group_idx
	ON reports (report_group_id, created_at);

CREATE TABLE IF NOT EXISTS podcasts (
	id UUID PRIMARY KEY,
	search_space_id UUID NOT NULL REFERENCES search_spaces(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING',
	audio_path TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS user_memories (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	embedding vector(%[1]d),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS user_memories_user_idx
	ON user_memories (user_id);

CREATE TABLE IF NOT EXISTS task_logs (
	id UUID PRIMARY KEY,
	task_name TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	stage TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'running',
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS task_logs_name_idx
	ON task_logs (task_name, created_at);

CREATE TABLE IF NOT EXISTS job_queue (
	id UUID PRIMARY KEY,
	kind TEXT NOT NULL,
	payload JSONB NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INT NOT NULL DEFAULT 0,
	run_after TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	locked_by TEXT NOT NULL DEFAULT '',
	locked_at TIMESTAMPTZ,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS job_queue_claim_idx
	ON job_queue (status, run_after);

-- Approximate index for chunk similarity. Guarded: ivfflat creation fails
-- on tiny tables, and that is fine.
DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1
		FROM pg_indexes
		WHERE schemaname = current_schema()
			AND indexname = 'chunks_embedding_idx'
	) THEN
		EXECUTE 'CREATE INDEX chunks_embedding_idx ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);';
	END IF;
END
$$;
`

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(schemaTemplate, s.dim))
	if err != nil && strings.Contains(err.Error(), "ivfflat") {
		// The approximate index needs enough rows to build; skipping it
		// only costs query speed, not correctness.
		err = nil
	}
	if err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}
