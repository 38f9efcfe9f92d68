package authn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/taskboard/pkg/audit"
	"github.com/platinummonkey/taskboard/pkg/auth"
	"github.com/platinummonkey/taskboard/pkg/credentials"
	"github.com/platinummonkey/taskboard/pkg/mail"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/throttle"
	"github.com/platinummonkey/taskboard/pkg/users"
)

// ErrSessionConflict is returned when a concurrent login issued the user's
// refresh token between StartSession's revoke and issue steps.
var ErrSessionConflict = errors.New("concurrent session start")

// Config holds the collaborators of an Authenticator. Logger, Metrics, Audit
// and Clock are optional.
type Config struct {
	Users         users.Directory
	Hasher        *auth.Hasher
	LoginThrottle *throttle.Throttle
	ResetThrottle *throttle.Throttle
	RefreshTokens *credentials.RefreshTokens
	ResetTokens   *credentials.ResetTokens
	AccessTokens  *auth.AccessTokenIssuer
	Mailer        mail.Mailer

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Audit   audit.Logger
	Clock   func() time.Time
}

// Authenticator runs login, registration, password reset and session flows.
type Authenticator struct {
	users         users.Directory
	hasher        *auth.Hasher
	loginThrottle *throttle.Throttle
	resetThrottle *throttle.Throttle
	refresh       *credentials.RefreshTokens
	reset         *credentials.ResetTokens
	access        *auth.AccessTokenIssuer
	mailer        mail.Mailer

	logger  *observability.Logger
	metrics *observability.Metrics
	audit   audit.Logger
	now     func() time.Time
}

// New validates cfg and creates an Authenticator
func New(cfg Config) (*Authenticator, error) {
	switch {
	case cfg.Users == nil:
		return nil, fmt.Errorf("authenticator requires a user directory")
	case cfg.Hasher == nil:
		return nil, fmt.Errorf("authenticator requires a hasher")
	case cfg.LoginThrottle == nil || cfg.ResetThrottle == nil:
		return nil, fmt.Errorf("authenticator requires login and reset throttles")
	case cfg.RefreshTokens == nil || cfg.ResetTokens == nil:
		return nil, fmt.Errorf("authenticator requires refresh and reset token managers")
	case cfg.AccessTokens == nil:
		return nil, fmt.Errorf("authenticator requires an access token issuer")
	case cfg.Mailer == nil:
		return nil, fmt.Errorf("authenticator requires a mailer")
	}

	a := &Authenticator{
		users:         cfg.Users,
		hasher:        cfg.Hasher,
		loginThrottle: cfg.LoginThrottle,
		resetThrottle: cfg.ResetThrottle,
		refresh:       cfg.RefreshTokens,
		reset:         cfg.ResetTokens,
		access:        cfg.AccessTokens,
		mailer:        cfg.Mailer,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		audit:         cfg.Audit,
		now:           cfg.Clock,
	}
	if a.logger == nil {
		a.logger = observability.NewNopLogger()
	}
	a.logger = a.logger.WithField("component", "authn")
	if a.audit == nil {
		a.audit = audit.NoopLogger{}
	}
	if a.now == nil {
		a.now = func() time.Time { return time.Now().UTC() }
	}
	return a, nil
}

// Login checks the email's lockout state, then the credentials. A locked
// email short-circuits without touching the user directory.
func (a *Authenticator) Login(ctx context.Context, email, password string) (result LoginResult, err error) {
	ctx, span := observability.Tracer().Start(ctx, "authn.Login")
	defer func() {
		span.SetAttributes(
			attribute.String("auth.outcome", result.Outcome.String()),
			attribute.String("auth.reason", string(result.Reason)),
		)
		endSpan(span, err)
	}()

	email = users.NormalizeEmail(email)
	log := observability.WithTraceContext(ctx, a.logger).WithField("email", email)

	locked, until, err := a.loginThrottle.Locked(ctx, email)
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to check login throttle: %w", err)
	}
	if locked {
		log.Info("Login rejected: locked out")
		a.metrics.RecordLogin(OutcomeLocked.String(), "")
		a.emit(ctx, audit.EventTypeLoginLocked, audit.EventStatusDenied, 0, "login attempted while locked")
		return LoginResult{Outcome: OutcomeLocked, LockedUntil: lockedAt(until)}, nil
	}

	user, err := a.users.FindByEmail(ctx, email)
	if err != nil {
		return LoginResult{}, err
	}
	if user == nil {
		if _, err := a.loginThrottle.RecordFailure(ctx, email); err != nil {
			return LoginResult{}, err
		}
		log.Info("Login failed: unknown email")
		a.metrics.RecordLogin(OutcomeFailure.String(), string(ReasonUserNonExistent))
		a.emit(ctx, audit.EventTypeLoginFailed, audit.EventStatusFailure, 0, string(ReasonUserNonExistent))
		return LoginResult{Outcome: OutcomeFailure, Reason: ReasonUserNonExistent}, nil
	}

	if a.hasher.Verify(password, user.PasswordHash, user.Salt) {
		if err := a.loginThrottle.Reset(ctx, email); err != nil {
			return LoginResult{}, err
		}
		log.WithField("user_id", user.ID).Info("Login succeeded")
		a.metrics.RecordLogin(OutcomeSuccess.String(), "")
		a.emit(ctx, audit.EventTypeLogin, audit.EventStatusSuccess, user.ID, "login succeeded")
		return LoginResult{Outcome: OutcomeSuccess, User: user}, nil
	}

	state, err := a.loginThrottle.RecordFailure(ctx, email)
	if err != nil {
		return LoginResult{}, err
	}
	if state.IsLocked(a.now()) {
		log.WithField("user_id", user.ID).Warn("Login failed: lockout threshold reached")
		a.metrics.RecordLockout(throttle.NamespaceLogin)
		a.metrics.RecordLogin(OutcomeLocked.String(), "")
		a.emit(ctx, audit.EventTypeLoginLocked, audit.EventStatusDenied, user.ID, "lockout threshold reached")
		return LoginResult{Outcome: OutcomeLocked, LockedUntil: lockedAt(*state.LockedUntil)}, nil
	}

	log.WithField("user_id", user.ID).WithField("attempts", state.Attempts).Info("Login failed: invalid password")
	a.metrics.RecordLogin(OutcomeFailure.String(), string(ReasonPasswordInvalid))
	a.emit(ctx, audit.EventTypeLoginFailed, audit.EventStatusFailure, user.ID, string(ReasonPasswordInvalid))
	return LoginResult{Outcome: OutcomeFailure, Reason: ReasonPasswordInvalid}, nil
}

// Register creates an account with a fresh salt. It fails with
// ReasonUserExists when the email is already registered.
func (a *Authenticator) Register(ctx context.Context, email, name, password string) (result RegisterResult, err error) {
	ctx, span := observability.Tracer().Start(ctx, "authn.Register")
	defer func() {
		span.SetAttributes(attribute.String("auth.outcome", result.Outcome.String()))
		endSpan(span, err)
	}()

	email = users.NormalizeEmail(email)
	if email == "" || password == "" {
		return RegisterResult{}, fmt.Errorf("email and password are required")
	}

	existing, err := a.users.FindByEmail(ctx, email)
	if err != nil {
		return RegisterResult{}, err
	}
	if existing != nil {
		a.metrics.RecordRegistration(string(ReasonUserExists))
		return RegisterResult{Outcome: OutcomeFailure, Reason: ReasonUserExists}, nil
	}

	salt, err := auth.NewSalt()
	if err != nil {
		return RegisterResult{}, err
	}
	now := a.now()
	user := &auth.User{
		Email:        email,
		Name:         name,
		PasswordHash: a.hasher.Hash(password, salt),
		Salt:         salt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := a.users.Create(ctx, user); err != nil {
		if errors.Is(err, users.ErrEmailTaken) {
			a.metrics.RecordRegistration(string(ReasonUserExists))
			return RegisterResult{Outcome: OutcomeFailure, Reason: ReasonUserExists}, nil
		}
		return RegisterResult{}, err
	}

	a.logger.WithField("user_id", user.ID).Info("User registered")
	a.metrics.RecordRegistration("created")
	a.emit(ctx, audit.EventTypeRegister, audit.EventStatusSuccess, user.ID, "user registered")
	return RegisterResult{Outcome: OutcomeSuccess, User: user}, nil
}

func (a *Authenticator) emit(ctx context.Context, eventType audit.EventType, status audit.EventStatus, userID int64, message string) {
	event := audit.NewEvent(a.now(), eventType, status)
	if userID != 0 {
		event.SubjectID = audit.Int64(userID)
	}
	event.Message = message
	if err := a.audit.Log(ctx, event); err != nil {
		a.logger.WithError(err).WithField("event_type", string(eventType)).Warn("Failed to write audit event")
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
