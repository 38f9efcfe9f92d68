package credentials

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/taskboard/pkg/audit"
	"github.com/platinummonkey/taskboard/pkg/auth"
	"github.com/platinummonkey/taskboard/pkg/keylock"
)

// RefreshTokens manages long-lived refresh tokens. A user has at most one
// unrevoked token at a time; the refresh_tokens_one_active index enforces
// it in the store and the per-user lock keeps concurrent issuers from racing.
type RefreshTokens struct {
	db     *sql.DB
	users  UserChecker
	tokens *auth.TokenGenerator
	locker keylock.Locker
	options
}

// NewRefreshTokens creates a refresh token manager. A nil locker falls back
// to an in-process one.
func NewRefreshTokens(db *sql.DB, users UserChecker, tokens *auth.TokenGenerator, locker keylock.Locker, opts ...Option) *RefreshTokens {
	if locker == nil {
		locker = keylock.NewLocal(keylock.DefaultShards)
	}
	return &RefreshTokens{
		db:      db,
		users:   users,
		tokens:  tokens,
		locker:  locker,
		options: buildOptions(DefaultRefreshTTL, "refresh_tokens", opts),
	}
}

// TTL returns the configured token lifetime
func (r *RefreshTokens) TTL() time.Duration {
	return r.ttl
}

func (r *RefreshTokens) withLock(ctx context.Context, userID int64, fn func() error) error {
	release, err := r.locker.Lock(ctx, lockKey("refresh", userID))
	if err != nil {
		return fmt.Errorf("failed to lock refresh tokens for user %d: %w", userID, err)
	}
	defer release()
	return fn()
}

// Issue creates a refresh token for the user. It returns nil when the user
// already holds an unrevoked token, and ErrUserNotFound for unknown users.
func (r *RefreshTokens) Issue(ctx context.Context, userID int64) (issued *IssuedToken, err error) {
	ctx, span := startSpan(ctx, "credentials.RefreshTokens.Issue", userID)
	defer func() { endSpan(span, err) }()

	if err := r.ensureUser(ctx, userID); err != nil {
		return nil, err
	}

	err = r.withLock(ctx, userID, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		var active int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM refresh_tokens WHERE user_id = $1 AND revoked_at IS NULL`,
			userID).Scan(&active); err != nil {
			return fmt.Errorf("failed to count active refresh tokens: %w", err)
		}
		if active > 0 {
			return nil
		}

		issued, err = r.insert(ctx, tx, userID)
		if err != nil || issued == nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			issued = nil
			return fmt.Errorf("failed to commit refresh token: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if issued == nil {
		r.logger.WithField("user_id", userID).Debug("Refresh token already active")
		return nil, nil
	}
	r.metrics.RecordToken("refresh", "issue")
	r.record(ctx, audit.EventTypeRefreshTokenIssue, userID, "refresh token issued")
	return issued, nil
}

// insert adds a token row inside tx. It returns nil when the single-active
// index rejects the row.
func (r *RefreshTokens) insert(ctx context.Context, tx *sql.Tx, userID int64) (*IssuedToken, error) {
	token, digest, err := r.tokens.Generate(auth.RefreshTokenPrefix)
	if err != nil {
		return nil, err
	}

	now := r.now()
	issued := &IssuedToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		ExpiresAt: now.Add(r.ttl),
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING`,
		issued.ID, userID, digest, now, issued.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert refresh token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return issued, nil
}

// Verify checks token against the user's unrevoked token.
func (r *RefreshTokens) Verify(ctx context.Context, token string, userID int64) (status Status, err error) {
	ctx, span := startSpan(ctx, "credentials.RefreshTokens.Verify", userID)
	defer func() {
		span.SetAttributes(statusAttr(status))
		endSpan(span, err)
	}()

	return r.verify(ctx, r.db, token, userID)
}

func (r *RefreshTokens) verify(ctx context.Context, q queryer, token string, userID int64) (Status, error) {
	if r.tokens.ValidateFormat(token, auth.RefreshTokenPrefix) != nil {
		return StatusInvalidOrRevoked, nil
	}

	rows, err := q.QueryContext(ctx,
		`SELECT token_hash, expires_at FROM refresh_tokens WHERE user_id = $1 AND revoked_at IS NULL`,
		userID)
	if err != nil {
		return StatusInvalidOrRevoked, fmt.Errorf("failed to look up refresh token: %w", err)
	}
	defer rows.Close()

	var (
		digest    []byte
		expiresAt time.Time
		found     int
	)
	for rows.Next() {
		found++
		if err := rows.Scan(&digest, &expiresAt); err != nil {
			return StatusInvalidOrRevoked, fmt.Errorf("failed to scan refresh token: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return StatusInvalidOrRevoked, fmt.Errorf("failed to look up refresh token: %w", err)
	}

	if found != 1 || !r.tokens.Matches(token, digest) {
		return StatusInvalidOrRevoked, nil
	}
	if !r.now().Before(expiresAt) {
		return StatusExpired, nil
	}
	return StatusValid, nil
}

// RevokeAll revokes every unrevoked token for the user and hard-deletes rows
// that were already revoked. It returns how many tokens it revoked.
func (r *RefreshTokens) RevokeAll(ctx context.Context, userID int64) (revoked int64, err error) {
	ctx, span := startSpan(ctx, "credentials.RefreshTokens.RevokeAll", userID)
	defer func() { endSpan(span, err) }()

	err = r.withLock(ctx, userID, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		revoked, err = r.revokeAll(ctx, tx, userID)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}

	if revoked > 0 {
		r.metrics.RecordToken("refresh", "revoke")
		r.record(ctx, audit.EventTypeRefreshTokenRevoke, userID, fmt.Sprintf("revoked %d refresh tokens", revoked))
	}
	return revoked, nil
}

func (r *RefreshTokens) revokeAll(ctx context.Context, tx *sql.Tx, userID int64) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE user_id = $1 AND revoked_at IS NOT NULL`, userID); err != nil {
		return 0, fmt.Errorf("failed to delete revoked refresh tokens: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL`,
		r.now(), userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// Rotate exchanges a valid or expired token for a new one. Invalid or
// revoked tokens yield a nil token and the verification status.
func (r *RefreshTokens) Rotate(ctx context.Context, token string, userID int64) (issued *IssuedToken, status Status, err error) {
	ctx, span := startSpan(ctx, "credentials.RefreshTokens.Rotate", userID)
	defer func() {
		span.SetAttributes(statusAttr(status))
		endSpan(span, err)
	}()

	err = r.withLock(ctx, userID, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		status, err = r.verify(ctx, tx, token, userID)
		if err != nil || !status.Rotatable() {
			return err
		}

		if _, err := r.revokeAll(ctx, tx, userID); err != nil {
			return err
		}
		issued, err = r.insert(ctx, tx, userID)
		if err != nil || issued == nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			issued = nil
			return fmt.Errorf("failed to commit rotation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, status, err
	}

	if issued != nil {
		r.metrics.RecordToken("refresh", "rotate")
		r.record(ctx, audit.EventTypeRefreshTokenRotate, userID, "refresh token rotated from "+status.String())
	}
	return issued, status, nil
}

// PurgeRevoked hard-deletes every revoked token row.
func (r *RefreshTokens) PurgeRevoked(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE revoked_at IS NOT NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge revoked refresh tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *RefreshTokens) ensureUser(ctx context.Context, userID int64) error {
	ok, err := r.users.Exists(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrUserNotFound, userID)
	}
	return nil
}
