package membership

import (
	"context"
	"time"

	"github.com/platinummonkey/taskboard/pkg/rbac"
)

// Membership is a user's role in one workspace
type Membership struct {
	WorkspaceID int64     `json:"workspace_id"`
	UserID      int64     `json:"user_id"`
	Role        rbac.Role `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

// GuestMembership is the result of granting a user access to one board.
// Role is the user's workspace role after the grant, which stays higher
// than Guest when the user was already a member.
type GuestMembership struct {
	Membership
	BoardID int64 `json:"board_id"`
}

// Store manages workspace memberships and per-board guest access.
//
// Lookup-style absence is reported through nil, false or empty results.
// Errors are reserved for store failures.
type Store interface {
	GetRole(ctx context.Context, workspaceID, userID int64) (rbac.Role, bool, error)
	ListMembers(ctx context.Context, workspaceID int64) ([]*Membership, error)

	AddMember(ctx context.Context, workspaceID, userID int64) (*Membership, error)
	AddMembers(ctx context.Context, workspaceID int64, userIDs []int64) ([]*Membership, error)
	AddOwner(ctx context.Context, workspaceID, userID int64) (*Membership, error)
	RemoveMember(ctx context.Context, workspaceID, userID int64) (bool, error)
	GrantAdmin(ctx context.Context, workspaceID, userID int64) (bool, error)
	RevokeAdmin(ctx context.Context, workspaceID, userID int64) (bool, error)
	RemoveWorkspace(ctx context.Context, workspaceID int64) (int64, error)

	AddGuestsToBoard(ctx context.Context, boardID int64, userIDs []int64) ([]*GuestMembership, error)
	RemoveGuestFromBoard(ctx context.Context, boardID, userID int64) (bool, error)
	CanViewBoard(ctx context.Context, boardID, userID int64) (bool, error)
	BoardVisible(ctx context.Context, boardID, userID int64) (bool, error)
}
