package credentials

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/taskboard/pkg/audit"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/users"
)

const (
	// DefaultRefreshTTL is the lifetime of a refresh token
	DefaultRefreshTTL = 7 * 24 * time.Hour
	// DefaultResetTTL is the lifetime of a password reset token
	DefaultResetTTL = 30 * time.Minute
)

// ErrUserNotFound is returned when issuing a token for a user id that does
// not exist. It is the same sentinel as users.ErrUserNotFound.
var ErrUserNotFound = users.ErrUserNotFound

// UserChecker reports whether a user id exists. users.Directory satisfies it.
type UserChecker interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// IssuedToken is a freshly issued secret. Token is the only copy of the
// plaintext; the store keeps its digest.
type IssuedToken struct {
	ID        string
	UserID    int64
	Token     string
	ExpiresAt time.Time
}

// Status is the outcome of verifying a refresh token
type Status int

const (
	StatusInvalidOrRevoked Status = iota
	StatusExpired
	StatusValid
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusExpired:
		return "expired"
	default:
		return "invalid_or_revoked"
	}
}

// Rotatable reports whether a token in this state may be exchanged for a new one.
func (s Status) Rotatable() bool {
	return s == StatusValid || s == StatusExpired
}

type options struct {
	ttl     time.Duration
	now     func() time.Time
	logger  *observability.Logger
	metrics *observability.Metrics
	audit   audit.Logger
}

// Option configures RefreshTokens and ResetTokens
type Option func(*options)

// WithTTL overrides the token lifetime
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithAudit sets the audit sink
func WithAudit(logger audit.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.audit = logger
		}
	}
}

func buildOptions(defaultTTL time.Duration, component string, opts []Option) options {
	o := options{
		ttl:    defaultTTL,
		now:    func() time.Time { return time.Now().UTC() },
		logger: observability.NewNopLogger(),
		audit:  audit.NoopLogger{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.WithField("component", component)
	return o
}

func (o *options) record(ctx context.Context, eventType audit.EventType, userID int64, message string) {
	event := audit.NewEvent(o.now(), eventType, audit.EventStatusSuccess)
	event.SubjectID = audit.Int64(userID)
	if actor := observability.GetUserID(ctx); actor != 0 {
		event.ActorID = audit.Int64(actor)
	}
	event.Message = message
	if err := o.audit.Log(ctx, event); err != nil {
		o.logger.WithError(err).WithField("event_type", string(eventType)).Warn("Failed to write audit event")
	}
}

func startSpan(ctx context.Context, name string, userID int64) (context.Context, trace.Span) {
	return observability.Tracer().Start(ctx, name,
		trace.WithAttributes(attribute.Int64("user.id", userID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func lockKey(kind string, userID int64) string {
	return "credentials:" + kind + ":" + strconv.FormatInt(userID, 10)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func statusAttr(s Status) attribute.KeyValue {
	return attribute.String("token.status", s.String())
}
