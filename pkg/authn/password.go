package authn

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/taskboard/pkg/audit"
	"github.com/platinummonkey/taskboard/pkg/auth"
	"github.com/platinummonkey/taskboard/pkg/mail"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/throttle"
	"github.com/platinummonkey/taskboard/pkg/users"
)

// ForgotPassword mails a reset token to email. Every accepted request counts
// against the reset-email throttle, and a locked email is rejected before
// anything is looked up. Unknown emails are accepted and send nothing.
func (a *Authenticator) ForgotPassword(ctx context.Context, email, locale string) (result ForgotPasswordResult, err error) {
	ctx, span := observability.Tracer().Start(ctx, "authn.ForgotPassword")
	defer func() {
		span.SetAttributes(attribute.String("auth.outcome", result.Outcome.String()))
		endSpan(span, err)
	}()

	email = users.NormalizeEmail(email)

	locked, until, err := a.resetThrottle.Locked(ctx, email)
	if err != nil {
		return ForgotPasswordResult{}, fmt.Errorf("failed to check reset throttle: %w", err)
	}
	if locked {
		a.metrics.RecordPasswordReset("request", OutcomeLocked.String())
		return ForgotPasswordResult{Outcome: OutcomeLocked, LockedUntil: lockedAt(until)}, nil
	}

	state, err := a.resetThrottle.RecordFailure(ctx, email)
	if err != nil {
		return ForgotPasswordResult{}, err
	}
	if state.IsLocked(a.now()) {
		a.metrics.RecordLockout(throttle.NamespaceResetEmail)
	}

	user, err := a.users.FindByEmail(ctx, email)
	if err != nil {
		return ForgotPasswordResult{}, err
	}
	if user == nil {
		a.logger.WithField("email", email).Info("Password reset requested for unknown email")
		a.metrics.RecordPasswordReset("request", "unknown_email")
		return ForgotPasswordResult{Outcome: OutcomeSuccess}, nil
	}

	issued, err := a.reset.Issue(ctx, user.ID)
	if err != nil {
		return ForgotPasswordResult{}, err
	}

	err = a.mailer.SendPasswordReset(ctx, mail.PasswordReset{
		To:        user.Email,
		Token:     issued.Token,
		Locale:    locale,
		ExpiresAt: issued.ExpiresAt,
	})
	if err != nil {
		return ForgotPasswordResult{}, fmt.Errorf("failed to send password reset: %w", err)
	}

	a.logger.WithField("user_id", user.ID).Info("Password reset token sent")
	a.metrics.RecordPasswordReset("request", "sent")
	return ForgotPasswordResult{Outcome: OutcomeSuccess}, nil
}

// ResetPassword consumes a reset token and replaces the user's password
// with a freshly salted digest. Every refresh token of the user is revoked
// and the login throttle for their email is cleared. It returns false when
// the token is invalid, expired or already used.
func (a *Authenticator) ResetPassword(ctx context.Context, userID int64, token, newPassword string) (ok bool, err error) {
	ctx, span := observability.Tracer().Start(ctx, "authn.ResetPassword")
	defer func() {
		span.SetAttributes(attribute.Bool("auth.reset", ok))
		endSpan(span, err)
	}()

	if newPassword == "" {
		return false, fmt.Errorf("new password is required")
	}

	valid, err := a.reset.VerifyAndConsume(ctx, token, userID)
	if err != nil {
		return false, err
	}
	if !valid {
		a.metrics.RecordPasswordReset("complete", "rejected")
		a.emit(ctx, audit.EventTypePasswordReset, audit.EventStatusFailure, userID, "reset token rejected")
		return false, nil
	}

	user, err := a.users.FindByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, fmt.Errorf("%w: %d", users.ErrUserNotFound, userID)
	}

	salt, err := auth.NewSalt()
	if err != nil {
		return false, err
	}
	if err := a.users.UpdatePassword(ctx, userID, a.hasher.Hash(newPassword, salt), salt, a.now()); err != nil {
		return false, err
	}
	if _, err := a.refresh.RevokeAll(ctx, userID); err != nil {
		return false, err
	}
	if err := a.loginThrottle.Reset(ctx, user.Email); err != nil {
		return false, err
	}

	a.logger.WithField("user_id", userID).Info("Password reset completed")
	a.metrics.RecordPasswordReset("complete", "ok")
	a.emit(ctx, audit.EventTypePasswordReset, audit.EventStatusSuccess, userID, "password reset")
	return true, nil
}
