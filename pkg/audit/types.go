package audit

import (
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	// Authentication events
	EventTypeLogin              EventType = "auth.login"
	EventTypeLoginFailed        EventType = "auth.login_failed"
	EventTypeLoginLocked        EventType = "auth.login_locked"
	EventTypeRegister           EventType = "auth.register"
	EventTypePasswordResetIssue EventType = "auth.password_reset_issue"
	EventTypePasswordReset      EventType = "auth.password_reset"
	EventTypeRefreshTokenIssue  EventType = "auth.refresh_token_issue"
	EventTypeRefreshTokenRotate EventType = "auth.refresh_token_rotate"
	EventTypeRefreshTokenRevoke EventType = "auth.refresh_token_revoke"

	// Membership events
	EventTypeMemberAdd       EventType = "membership.member_add"
	EventTypeMemberRemove    EventType = "membership.member_remove"
	EventTypeOwnerAssign     EventType = "membership.owner_assign"
	EventTypeAdminGrant      EventType = "membership.admin_grant"
	EventTypeAdminRevoke     EventType = "membership.admin_revoke"
	EventTypeGuestAdd        EventType = "membership.guest_add"
	EventTypeGuestRemove     EventType = "membership.guest_remove"
	EventTypeWorkspaceRemove EventType = "membership.workspace_remove"

	// Maintenance events
	EventTypeSweep EventType = "maintenance.sweep"
)

// EventStatus represents the outcome of an audited action
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is a single audit record. Optional identifiers are nil when not applicable.
type Event struct {
	ID          int64                  `json:"id,omitempty"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Type        EventType              `json:"event_type"`
	Status      EventStatus            `json:"status"`
	ActorID     *int64                 `json:"actor_id,omitempty"`
	SubjectID   *int64                 `json:"subject_id,omitempty"`
	WorkspaceID *int64                 `json:"workspace_id,omitempty"`
	BoardID     *int64                 `json:"board_id,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent starts an event at the given time.
func NewEvent(at time.Time, eventType EventType, status EventStatus) *Event {
	return &Event{
		OccurredAt: at.UTC(),
		Type:       eventType,
		Status:     status,
		Metadata:   make(map[string]interface{}),
	}
}

// Int64 returns a pointer to v, for the optional identifier fields.
func Int64(v int64) *int64 {
	return &v
}
