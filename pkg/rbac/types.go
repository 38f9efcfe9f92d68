package rbac

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Role is a workspace-level role. Lower values carry more privilege:
// Owner < Admin < Member < Guest. Stored as a small integer.
type Role int16

const (
	RoleOwner  Role = 0 // Created the workspace, full control
	RoleAdmin  Role = 1 // Manages members, guests and workspace settings
	RoleMember Role = 2 // Works on every board in the workspace
	RoleGuest  Role = 3 // Sees only boards explicitly shared with them
)

var roleNames = map[Role]string{
	RoleOwner:  "owner",
	RoleAdmin:  "admin",
	RoleMember: "member",
	RoleGuest:  "guest",
}

// String returns the role label
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int16(r))
}

// Valid reports whether r is one of the four known roles
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// AtLeast reports whether r is as privileged as min or more
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && r <= min
}

// Outranks reports whether r is strictly more privileged than other
func (r Role) Outranks(other Role) bool {
	return r.Valid() && other.Valid() && r < other
}

// ParseRole parses a role label
func ParseRole(s string) (Role, error) {
	for role, name := range roleNames {
		if strings.EqualFold(s, name) {
			return role, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", int16(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Value implements driver.Valuer
func (r Role) Value() (driver.Value, error) {
	return int64(r), nil
}

// Scan implements sql.Scanner
func (r *Role) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*r = Role(v)
	case int32:
		*r = Role(v)
	case []byte:
		var n int16
		if _, err := fmt.Sscan(string(v), &n); err != nil {
			return fmt.Errorf("failed to scan role: %w", err)
		}
		*r = Role(n)
	default:
		return fmt.Errorf("cannot scan %T into Role", src)
	}
	if !r.Valid() {
		return fmt.Errorf("invalid role %d", int16(*r))
	}
	return nil
}

// Action is an operation gated by the role model
type Action string

const (
	ActionAddMember          Action = "member:add"
	ActionDeleteMember       Action = "member:delete"
	ActionGrantAdmin         Action = "admin:grant"
	ActionRevokeAdmin        Action = "admin:revoke"
	ActionCreateWorkspace    Action = "workspace:create"
	ActionUpdateWorkspace    Action = "workspace:update"
	ActionDeleteWorkspace    Action = "workspace:delete"
	ActionManageBoardContent Action = "board:manage"
	ActionManageGuests       Action = "guest:manage"
	ActionViewBoard          Action = "board:view"
)
