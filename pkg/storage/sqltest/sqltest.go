// Package sqltest opens throwaway in-memory SQLite databases carrying the
// same tables as the Postgres schema, for package tests.
package sqltest

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Schema mirrors postgres.Schema in SQLite types
const Schema = `
	CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		password_hash BLOB NOT NULL,
		salt TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE workspaces (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE workspace_members (
		workspace_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		role INTEGER NOT NULL,
		joined_at TIMESTAMP NOT NULL,
		PRIMARY KEY (workspace_id, user_id)
	);
	CREATE UNIQUE INDEX workspace_members_one_owner ON workspace_members (workspace_id) WHERE role = 0;

	CREATE TABLE boards (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workspace_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		archived_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE board_access (
		board_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		granted_at TIMESTAMP NOT NULL,
		PRIMARY KEY (board_id, user_id)
	);

	CREATE TABLE tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		board_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		assignee_id INTEGER,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE refresh_tokens (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		token_hash BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		revoked_at TIMESTAMP
	);
	CREATE UNIQUE INDEX refresh_tokens_one_active ON refresh_tokens (user_id) WHERE revoked_at IS NULL;

	CREATE TABLE reset_tokens (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL UNIQUE,
		token_hash BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	);

	CREATE TABLE audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		occurred_at TIMESTAMP NOT NULL,
		event_type TEXT NOT NULL,
		status TEXT NOT NULL,
		actor_id INTEGER,
		subject_id INTEGER,
		workspace_id INTEGER,
		board_id INTEGER,
		message TEXT,
		metadata TEXT
	);
`

// Open returns a migrated in-memory database closed at test cleanup.
// The pool holds a single connection so every query sees the same database.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		t.Fatalf("Failed to create schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// Epoch is a fixed instant tests build their clocks on
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Clock is a settable time source
type Clock struct {
	T time.Time
}

// NewClock starts a clock at Epoch
func NewClock() *Clock {
	return &Clock{T: Epoch}
}

// Now returns the clock's time
func (c *Clock) Now() time.Time { return c.T }

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }

// SeedUser inserts a user and returns its id
func SeedUser(t testing.TB, db *sql.DB, email string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`
		INSERT INTO users (email, name, password_hash, salt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		email, email, []byte("x"), "", Epoch, Epoch).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
	return id
}

// SeedWorkspace inserts a workspace and returns its id
func SeedWorkspace(t testing.TB, db *sql.DB, name string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`INSERT INTO workspaces (name, created_at) VALUES ($1, $2) RETURNING id`,
		name, Epoch).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to seed workspace: %v", err)
	}
	return id
}

// SeedBoard inserts a board in workspaceID and returns its id
func SeedBoard(t testing.TB, db *sql.DB, workspaceID int64, name string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`INSERT INTO boards (workspace_id, name, created_at) VALUES ($1, $2, $3) RETURNING id`,
		workspaceID, name, Epoch).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to seed board: %v", err)
	}
	return id
}

// SeedTask inserts a task on boardID, optionally assigned, and returns its id
func SeedTask(t testing.TB, db *sql.DB, boardID int64, assigneeID *int64) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`INSERT INTO tasks (board_id, title, assignee_id, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		boardID, "task", assigneeID, Epoch).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to seed task: %v", err)
	}
	return id
}

// SeedMember inserts a membership row with an explicit role value
func SeedMember(t testing.TB, db *sql.DB, workspaceID, userID int64, role int) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO workspace_members (workspace_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
		workspaceID, userID, role, Epoch)
	if err != nil {
		t.Fatalf("Failed to seed member: %v", err)
	}
}

// Count runs a COUNT(*) query and returns the result
func Count(t testing.TB, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	return n
}
