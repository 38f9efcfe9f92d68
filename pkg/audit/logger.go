package audit

import (
	"context"
	"errors"

	"github.com/platinummonkey/taskboard/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error
}

// NoopLogger discards every event.
type NoopLogger struct{}

// Log implements Logger
func (NoopLogger) Log(context.Context, *Event) error { return nil }

// SlogLogger writes events as structured log lines.
type SlogLogger struct {
	logger *observability.Logger
}

// NewSlogLogger wraps an observability logger.
func NewSlogLogger(logger *observability.Logger) *SlogLogger {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &SlogLogger{logger: logger.WithField("component", "audit")}
}

// Log implements Logger
func (l *SlogLogger) Log(ctx context.Context, event *Event) error {
	fields := map[string]interface{}{
		"event_type":  string(event.Type),
		"status":      string(event.Status),
		"occurred_at": event.OccurredAt,
	}
	if event.ActorID != nil {
		fields["actor_id"] = *event.ActorID
	}
	if event.SubjectID != nil {
		fields["subject_id"] = *event.SubjectID
	}
	if event.WorkspaceID != nil {
		fields["workspace_id"] = *event.WorkspaceID
	}
	if event.BoardID != nil {
		fields["board_id"] = *event.BoardID
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}
	if reqID := observability.GetRequestID(ctx); reqID != "" {
		fields["request_id"] = reqID
	}

	l.logger.WithFields(fields).Info(event.Message)
	return nil
}

// MultiLogger fans an event out to several loggers synchronously. Every
// logger is attempted and the failures are joined.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that writes to every destination.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log implements Logger
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
