// Package users is the user directory the access core treats as authoritative
// for user existence and credentials.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/taskboard/pkg/auth"
)

var (
	// ErrUserNotFound is returned when an id that should exist does not
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken is returned when creating a user with a registered email
	ErrEmailTaken = errors.New("email already registered")
)

// Directory looks up and maintains user accounts
type Directory interface {
	FindByEmail(ctx context.Context, email string) (*auth.User, error)
	FindByID(ctx context.Context, id int64) (*auth.User, error)
	Exists(ctx context.Context, id int64) (bool, error)
	Create(ctx context.Context, user *auth.User) error
	UpdatePassword(ctx context.Context, id int64, passwordHash []byte, salt string, now time.Time) error
}

// NormalizeEmail lower-cases and trims an address for storage and lookup
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SQLDirectory implements Directory on the users table
type SQLDirectory struct {
	db *sql.DB
}

// NewSQLDirectory creates a directory on db
func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

const userColumns = `id, email, name, password_hash, salt, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*auth.User, error) {
	user := &auth.User{}
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash,
		&user.Salt, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	return user, nil
}

// FindByEmail returns the user registered with email, or nil if none
func (d *SQLDirectory) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	user, err := scanUser(d.db.QueryRowContext(ctx, query, NormalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByID returns the user with id, or nil if none
func (d *SQLDirectory) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(d.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// Exists reports whether a user with id exists
func (d *SQLDirectory) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return exists, nil
}

// Create inserts user and fills in its id. Email is normalized.
func (d *SQLDirectory) Create(ctx context.Context, user *auth.User) error {
	user.Email = NormalizeEmail(user.Email)
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}

	query := `
		INSERT INTO users (email, name, password_hash, salt, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (email) DO NOTHING
		RETURNING id
	`
	err := d.db.QueryRowContext(ctx, query, user.Email, user.Name, user.PasswordHash,
		user.Salt, user.CreatedAt, user.UpdatedAt).Scan(&user.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UpdatePassword replaces the stored password digest and salt
func (d *SQLDirectory) UpdatePassword(ctx context.Context, id int64, passwordHash []byte, salt string, now time.Time) error {
	query := `UPDATE users SET password_hash = $1, salt = $2, updated_at = $3 WHERE id = $4`
	result, err := d.db.ExecContext(ctx, query, passwordHash, salt, now, id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
