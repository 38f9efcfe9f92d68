package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/taskboard/pkg/audit"
	"github.com/platinummonkey/taskboard/pkg/auth"
	"github.com/platinummonkey/taskboard/pkg/keylock"
)

// ResetTokens manages single-use password reset tokens. Each user has at
// most one outstanding token.
type ResetTokens struct {
	db     *sql.DB
	users  UserChecker
	tokens *auth.TokenGenerator
	locker keylock.Locker
	options
}

// NewResetTokens creates a reset token manager. A nil locker falls back to
// an in-process one.
func NewResetTokens(db *sql.DB, users UserChecker, tokens *auth.TokenGenerator, locker keylock.Locker, opts ...Option) *ResetTokens {
	if locker == nil {
		locker = keylock.NewLocal(keylock.DefaultShards)
	}
	return &ResetTokens{
		db:      db,
		users:   users,
		tokens:  tokens,
		locker:  locker,
		options: buildOptions(DefaultResetTTL, "reset_tokens", opts),
	}
}

// TTL returns the configured token lifetime
func (r *ResetTokens) TTL() time.Duration {
	return r.ttl
}

// Issue replaces any outstanding reset token for the user with a new one.
func (r *ResetTokens) Issue(ctx context.Context, userID int64) (issued *IssuedToken, err error) {
	ctx, span := startSpan(ctx, "credentials.ResetTokens.Issue", userID)
	defer func() { endSpan(span, err) }()

	ok, err := r.users.Exists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check user: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUserNotFound, userID)
	}

	token, digest, err := r.tokens.Generate(auth.ResetTokenPrefix)
	if err != nil {
		return nil, err
	}

	release, err := r.locker.Lock(ctx, lockKey("reset", userID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock reset tokens for user %d: %w", userID, err)
	}
	defer release()

	now := r.now()
	candidate := &IssuedToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		ExpiresAt: now.Add(r.ttl),
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reset_tokens WHERE user_id = $1`, userID); err != nil {
		return nil, fmt.Errorf("failed to delete previous reset token: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO reset_tokens (id, user_id, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		candidate.ID, userID, digest, now, candidate.ExpiresAt); err != nil {
		return nil, fmt.Errorf("failed to insert reset token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reset token: %w", err)
	}

	r.metrics.RecordToken("reset", "issue")
	r.record(ctx, audit.EventTypePasswordResetIssue, userID, "password reset token issued")
	return candidate, nil
}

// VerifyAndConsume looks up the token for the user and deletes it whether or
// not it has expired. It returns true only for an unexpired token; a second
// call with the same token always returns false.
func (r *ResetTokens) VerifyAndConsume(ctx context.Context, token string, userID int64) (valid bool, err error) {
	ctx, span := startSpan(ctx, "credentials.ResetTokens.VerifyAndConsume", userID)
	defer func() { endSpan(span, err) }()

	if r.tokens.ValidateFormat(token, auth.ResetTokenPrefix) != nil {
		return false, nil
	}
	now := r.now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		id        string
		expiresAt time.Time
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, expires_at FROM reset_tokens WHERE user_id = $1 AND token_hash = $2`,
		userID, r.tokens.Digest(token)).Scan(&id, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up reset token: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM reset_tokens WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to consume reset token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit reset token consumption: %w", err)
	}

	// A concurrent consumer deleted the row first.
	if n == 0 {
		return false, nil
	}

	r.metrics.RecordToken("reset", "consume")
	return now.Before(expiresAt), nil
}

// PurgeExpired deletes reset tokens that expired at or before the current time.
func (r *ResetTokens) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM reset_tokens WHERE expires_at <= $1`, r.now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired reset tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
