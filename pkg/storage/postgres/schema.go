package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the Postgres DDL for every table the service reads or writes.
// Statements are idempotent so ApplySchema can run on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	password_hash BYTEA NOT NULL,
	salt          TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS workspaces (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS workspace_members (
	workspace_id BIGINT NOT NULL REFERENCES workspaces (id) ON DELETE CASCADE,
	user_id      BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	role         SMALLINT NOT NULL CHECK (role BETWEEN 0 AND 3),
	joined_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (workspace_id, user_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS workspace_members_one_owner
	ON workspace_members (workspace_id) WHERE role = 0;
CREATE INDEX IF NOT EXISTS workspace_members_user_idx ON workspace_members (user_id);

CREATE TABLE IF NOT EXISTS boards (
	id           BIGSERIAL PRIMARY KEY,
	workspace_id BIGINT NOT NULL REFERENCES workspaces (id) ON DELETE CASCADE,
	name         TEXT NOT NULL,
	archived_at  TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS boards_workspace_idx ON boards (workspace_id);
CREATE INDEX IF NOT EXISTS boards_archived_idx ON boards (archived_at) WHERE archived_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS board_access (
	board_id   BIGINT NOT NULL REFERENCES boards (id) ON DELETE CASCADE,
	user_id    BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	granted_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (board_id, user_id)
);
CREATE INDEX IF NOT EXISTS board_access_user_idx ON board_access (user_id);

CREATE TABLE IF NOT EXISTS tasks (
	id          BIGSERIAL PRIMARY KEY,
	board_id    BIGINT NOT NULL REFERENCES boards (id) ON DELETE CASCADE,
	title       TEXT NOT NULL,
	assignee_id BIGINT REFERENCES users (id) ON DELETE SET NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS tasks_board_idx ON tasks (board_id);
CREATE INDEX IF NOT EXISTS tasks_assignee_idx ON tasks (assignee_id) WHERE assignee_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS refresh_tokens (
	id         TEXT PRIMARY KEY,
	user_id    BIGINT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	token_hash BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	revoked_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS refresh_tokens_one_active
	ON refresh_tokens (user_id) WHERE revoked_at IS NULL;

CREATE TABLE IF NOT EXISTS reset_tokens (
	id         TEXT PRIMARY KEY,
	user_id    BIGINT NOT NULL UNIQUE REFERENCES users (id) ON DELETE CASCADE,
	token_hash BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_events (
	id           BIGSERIAL PRIMARY KEY,
	occurred_at  TIMESTAMPTZ NOT NULL,
	event_type   TEXT NOT NULL,
	status       TEXT NOT NULL,
	actor_id     BIGINT,
	subject_id   BIGINT,
	workspace_id BIGINT,
	board_id     BIGINT,
	message      TEXT,
	metadata     JSONB
);
CREATE INDEX IF NOT EXISTS audit_events_occurred_idx ON audit_events (occurred_at);
CREATE INDEX IF NOT EXISTS audit_events_subject_idx ON audit_events (subject_id) WHERE subject_id IS NOT NULL;
`

// ApplySchema creates any missing tables and indexes
func ApplySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
