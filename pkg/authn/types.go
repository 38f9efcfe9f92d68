package authn

import (
	"time"

	"github.com/platinummonkey/taskboard/pkg/auth"
)

// Outcome is the top-level result of an authentication operation
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeLocked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// Reason explains a failure
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonUserNonExistent Reason = "user_non_existent"
	ReasonPasswordInvalid Reason = "password_invalid"
	ReasonUserExists      Reason = "user_exists"
)

// LoginResult is the outcome of Login. User is set on success, Reason on
// failure, and LockedUntil when locked.
type LoginResult struct {
	Outcome     Outcome
	User        *auth.User
	Reason      Reason
	LockedUntil *time.Time
}

// RegisterResult is the outcome of Register
type RegisterResult struct {
	Outcome Outcome
	User    *auth.User
	Reason  Reason
}

// ForgotPasswordResult is the outcome of ForgotPassword. Success means the
// request was accepted; it says nothing about whether the email is registered.
type ForgotPasswordResult struct {
	Outcome     Outcome
	LockedUntil *time.Time
}

func lockedAt(t time.Time) *time.Time {
	return &t
}
