package authn

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/taskboard/pkg/auth"
	"github.com/platinummonkey/taskboard/pkg/credentials"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/users"
)

// StartSession revokes the user's refresh tokens and issues a new refresh
// token together with an access token. Call it after a successful Login or
// Register.
func (a *Authenticator) StartSession(ctx context.Context, user *auth.User) (session *auth.Session, err error) {
	ctx, span := observability.Tracer().Start(ctx, "authn.StartSession")
	defer func() { endSpan(span, err) }()

	if _, err := a.refresh.RevokeAll(ctx, user.ID); err != nil {
		return nil, err
	}
	issued, err := a.refresh.Issue(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if issued == nil {
		return nil, fmt.Errorf("failed to start session for user %d: %w", user.ID, ErrSessionConflict)
	}
	return a.session(user, issued)
}

// Refresh rotates the refresh token and issues a new access token. An
// invalid or revoked token yields a nil session and its status.
func (a *Authenticator) Refresh(ctx context.Context, userID int64, refreshToken string) (session *auth.Session, status credentials.Status, err error) {
	ctx, span := observability.Tracer().Start(ctx, "authn.Refresh")
	defer func() {
		span.SetAttributes(attribute.String("token.status", status.String()))
		endSpan(span, err)
	}()

	issued, status, err := a.refresh.Rotate(ctx, refreshToken, userID)
	if err != nil || issued == nil {
		return nil, status, err
	}

	user, err := a.users.FindByID(ctx, userID)
	if err != nil {
		return nil, status, err
	}
	if user == nil {
		return nil, status, fmt.Errorf("%w: %d", users.ErrUserNotFound, userID)
	}

	session, err = a.session(user, issued)
	return session, status, err
}

func (a *Authenticator) session(user *auth.User, refresh *credentials.IssuedToken) (*auth.Session, error) {
	access, accessExpires, err := a.access.Issue(user)
	if err != nil {
		return nil, err
	}
	return &auth.Session{
		UserID:           user.ID,
		AccessToken:      access,
		AccessExpiresAt:  accessExpires,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}
