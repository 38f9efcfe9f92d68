// Package mail delivers password reset messages.
package mail

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/taskboard/pkg/observability"
)

// DefaultLocale is used when a request carries no locale
const DefaultLocale = "en"

// PasswordReset is one reset message
type PasswordReset struct {
	To        string
	Token     string
	Locale    string
	ExpiresAt time.Time
}

// Mailer sends password reset messages
type Mailer interface {
	SendPasswordReset(ctx context.Context, msg PasswordReset) error
}

// LogMailer writes reset messages to the log instead of sending them. The
// token itself is never logged, only a short fingerprint of it.
type LogMailer struct {
	logger *observability.Logger
}

// NewLogMailer creates a logging mailer
func NewLogMailer(logger *observability.Logger) *LogMailer {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &LogMailer{logger: logger.WithField("component", "mail")}
}

// SendPasswordReset implements Mailer
func (m *LogMailer) SendPasswordReset(ctx context.Context, msg PasswordReset) error {
	if msg.To == "" {
		return fmt.Errorf("failed to send password reset: empty recipient")
	}
	m.logger.WithFields(map[string]interface{}{
		"to":                msg.To,
		"locale":            localeOrDefault(msg.Locale),
		"token_fingerprint": Fingerprint(msg.Token),
		"expires_at":        msg.ExpiresAt,
	}).Info("Password reset message queued")
	return nil
}

// Fingerprint returns the first 8 hex characters of the token's SHA-256.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:4])
}

func localeOrDefault(locale string) string {
	if locale == "" {
		return DefaultLocale
	}
	return locale
}

// Outbox collects messages in memory. It is safe for concurrent use.
type Outbox struct {
	mu       sync.Mutex
	messages []PasswordReset
}

// SendPasswordReset implements Mailer
func (o *Outbox) SendPasswordReset(_ context.Context, msg PasswordReset) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	msg.Locale = localeOrDefault(msg.Locale)
	o.messages = append(o.messages, msg)
	return nil
}

// Messages returns a copy of the collected messages
func (o *Outbox) Messages() []PasswordReset {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]PasswordReset(nil), o.messages...)
}
