// Package rbac is the role model of a task-board workspace.
//
// # Roles
//
// Every (workspace, user) pair holds exactly one role. Roles are totally
// ordered by privilege and stored as small integers:
//
//	RoleOwner  (0) - created the workspace
//	RoleAdmin  (1) - manages members, guests and workspace settings
//	RoleMember (2) - works on every board
//	RoleGuest  (3) - sees only boards shared with them
//
// # Policy
//
// The policy lives in a single table mapping each Action to the least
// privileged role allowed to perform it:
//
//	member:add, member:delete        Admin+
//	admin:grant, admin:revoke        Owner
//	workspace:create, :update        Admin+
//	workspace:delete                 Owner
//	board:manage                     Member+
//	guest:manage                     Admin+
//	board:view                       Member+ (Guest with board access)
//
// Checks where the target's role matters as well (removing a member,
// granting or revoking admin) have dedicated predicates:
//
//	if !rbac.CanRemoveMember(actorRole, targetRole, actorID == targetID) {
//		return errForbidden
//	}
//
// All predicates are total: they never panic and return false for unknown
// actions or invalid roles. A caller that is not a member at all has no role
// and must be rejected before consulting this package.
package rbac
