package rbac

// minimumRole maps each action to the least privileged role allowed to perform it.
// Actions that also depend on the target's role have extra predicates below.
var minimumRole = map[Action]Role{
	ActionAddMember:          RoleAdmin,
	ActionDeleteMember:       RoleAdmin,
	ActionGrantAdmin:         RoleOwner,
	ActionRevokeAdmin:        RoleOwner,
	ActionCreateWorkspace:    RoleAdmin,
	ActionUpdateWorkspace:    RoleAdmin,
	ActionDeleteWorkspace:    RoleOwner,
	ActionManageBoardContent: RoleMember,
	ActionManageGuests:       RoleAdmin,
	ActionViewBoard:          RoleMember,
}

// Actions returns every action known to the policy table
func Actions() []Action {
	actions := make([]Action, 0, len(minimumRole))
	for a := range minimumRole {
		actions = append(actions, a)
	}
	return actions
}

// MinimumRole returns the least privileged role allowed to perform action
func MinimumRole(action Action) (Role, bool) {
	role, ok := minimumRole[action]
	return role, ok
}

// CanPerform reports whether role may perform action. Unknown actions and
// invalid roles are never permitted.
func CanPerform(action Action, role Role) bool {
	min, ok := minimumRole[action]
	if !ok {
		return false
	}
	return role.AtLeast(min)
}

// CanRemoveMember decides member deletion, which depends on both sides.
// A user may remove themself unless they hold Owner (the last owner cannot leave).
// Otherwise the actor needs Admin; an Admin cannot remove an Owner or another Admin.
func CanRemoveMember(actor, target Role, self bool) bool {
	if !actor.Valid() || !target.Valid() {
		return false
	}
	if self {
		return target != RoleOwner
	}
	if !CanPerform(ActionDeleteMember, actor) {
		return false
	}
	if actor == RoleOwner {
		return true
	}
	return actor.Outranks(target)
}

// CanGrantAdmin reports whether actor may promote a member holding target to Admin
func CanGrantAdmin(actor, target Role) bool {
	return CanPerform(ActionGrantAdmin, actor) && target.Valid() && !target.AtLeast(RoleAdmin)
}

// CanRevokeAdmin reports whether actor may demote a member holding target
func CanRevokeAdmin(actor, target Role) bool {
	return CanPerform(ActionRevokeAdmin, actor) && target == RoleAdmin
}

// CanViewBoard reports whether a member holding role may see a board.
// Guests see a board only when they hold board access to it.
func CanViewBoard(role Role, hasBoardAccess bool) bool {
	if CanPerform(ActionViewBoard, role) {
		return true
	}
	return role == RoleGuest && hasBoardAccess
}
