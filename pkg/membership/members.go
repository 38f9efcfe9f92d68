package membership

import (
	"context"
	"fmt"

	"github.com/platinummonkey/taskboard/pkg/audit"
	"github.com/platinummonkey/taskboard/pkg/rbac"
)

// GetRole returns the user's role in the workspace. ok is false when the
// user is not a member.
func (s *SQLStore) GetRole(ctx context.Context, workspaceID, userID int64) (rbac.Role, bool, error) {
	role, ok, err := getRole(ctx, s.db, workspaceID, userID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get role: %w", err)
	}
	return role, ok, nil
}

// ListMembers returns the workspace's members, most privileged first.
func (s *SQLStore) ListMembers(ctx context.Context, workspaceID int64) ([]*Membership, error) {
	query := `
		SELECT workspace_id, user_id, role, joined_at
		FROM workspace_members
		WHERE workspace_id = $1
		ORDER BY role ASC, joined_at ASC, user_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Membership
	for rows.Next() {
		m := &Membership{}
		if err := rows.Scan(&m.WorkspaceID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// AddMember adds the user with the Member role. It returns nil when the user
// is already a member or when the workspace or user does not exist.
func (s *SQLStore) AddMember(ctx context.Context, workspaceID, userID int64) (*Membership, error) {
	added, err := s.AddMembers(ctx, workspaceID, []int64{userID})
	if err != nil || len(added) == 0 {
		return nil, err
	}
	return added[0], nil
}

// AddMembers adds every listed user with the Member role, skipping unknown
// users and existing members. Duplicate ids are collapsed.
func (s *SQLStore) AddMembers(ctx context.Context, workspaceID int64, userIDs []int64) ([]*Membership, error) {
	return s.insertMembers(ctx, workspaceID, uniqueIDs(userIDs), rbac.RoleMember, audit.EventTypeMemberAdd)
}

// AddOwner makes the user the workspace owner. It returns nil when the
// workspace already has an owner, the user is already a member, or either
// entity does not exist.
func (s *SQLStore) AddOwner(ctx context.Context, workspaceID, userID int64) (*Membership, error) {
	var hasOwner bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM workspace_members WHERE workspace_id = $1 AND role = $2)`,
		workspaceID, rbac.RoleOwner).Scan(&hasOwner)
	if err != nil {
		return nil, fmt.Errorf("failed to check workspace owner: %w", err)
	}
	if hasOwner {
		return nil, nil
	}

	added, err := s.insertMembers(ctx, workspaceID, []int64{userID}, rbac.RoleOwner, audit.EventTypeOwnerAssign)
	if err != nil || len(added) == 0 {
		return nil, err
	}
	return added[0], nil
}

func (s *SQLStore) insertMembers(ctx context.Context, workspaceID int64, userIDs []int64, role rbac.Role, eventType audit.EventType) ([]*Membership, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ok, err := exists(ctx, tx, `SELECT EXISTS (SELECT 1 FROM workspaces WHERE id = $1)`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to check workspace: %w", err)
	}
	if !ok {
		return nil, nil
	}

	insert := `
		INSERT INTO workspace_members (workspace_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`

	var added []*Membership
	for _, userID := range userIDs {
		ok, err := exists(ctx, tx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to check user: %w", err)
		}
		if !ok {
			continue
		}

		result, err := tx.ExecContext(ctx, insert, workspaceID, userID, role, now)
		if err != nil {
			return nil, fmt.Errorf("failed to add member: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			continue
		}
		added = append(added, &Membership{
			WorkspaceID: workspaceID,
			UserID:      userID,
			Role:        role,
			JoinedAt:    now,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit members: %w", err)
	}

	for _, m := range added {
		s.record(ctx, eventType, workspaceID, 0, m.UserID, "added "+m.Role.String())
	}
	return added, nil
}

// RemoveMember deletes the user's membership and returns false if there was
// none. The user's board access rows in the workspace are always removed.
// A non-guest's task assignments in the workspace are cleared.
func (s *SQLStore) RemoveMember(ctx context.Context, workspaceID, userID int64) (bool, error) {
	var removed bool
	var role rbac.Role

	err := s.withUserLock(ctx, userID, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		var ok bool
		role, ok, err = getRole(ctx, tx, workspaceID, userID)
		if err != nil {
			return fmt.Errorf("failed to get role: %w", err)
		}
		if !ok {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`,
			workspaceID, userID); err != nil {
			return fmt.Errorf("failed to delete membership: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM board_access
			WHERE user_id = $1
			  AND board_id IN (SELECT id FROM boards WHERE workspace_id = $2)`,
			userID, workspaceID); err != nil {
			return fmt.Errorf("failed to delete board access: %w", err)
		}

		if role != rbac.RoleGuest {
			if _, err := tx.ExecContext(ctx, `
				UPDATE tasks SET assignee_id = NULL
				WHERE assignee_id = $1
				  AND board_id IN (SELECT id FROM boards WHERE workspace_id = $2)`,
				userID, workspaceID); err != nil {
				return fmt.Errorf("failed to clear task assignees: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit member removal: %w", err)
		}
		removed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if removed {
		s.logger.WithFields(map[string]interface{}{
			"workspace_id": workspaceID,
			"user_id":      userID,
			"role":         role.String(),
		}).Info("Member removed")
		s.record(ctx, audit.EventTypeMemberRemove, workspaceID, 0, userID, "removed "+role.String())
	}
	return removed, nil
}

// GrantAdmin sets the user's role to Admin and returns false if the user is
// not a member or already holds Admin or Owner. Callers authorize with
// rbac.CanGrantAdmin first.
func (s *SQLStore) GrantAdmin(ctx context.Context, workspaceID, userID int64) (bool, error) {
	ok, err := s.setRole(ctx, workspaceID, userID, rbac.RoleAdmin, ">", rbac.RoleAdmin)
	if err != nil {
		return false, fmt.Errorf("failed to grant admin: %w", err)
	}
	if ok {
		s.record(ctx, audit.EventTypeAdminGrant, workspaceID, 0, userID, "granted admin")
	}
	return ok, nil
}

// RevokeAdmin sets the user's role back to Member and returns false if the
// user is not currently an Admin. Callers authorize with rbac.CanRevokeAdmin
// first.
func (s *SQLStore) RevokeAdmin(ctx context.Context, workspaceID, userID int64) (bool, error) {
	ok, err := s.setRole(ctx, workspaceID, userID, rbac.RoleMember, "=", rbac.RoleAdmin)
	if err != nil {
		return false, fmt.Errorf("failed to revoke admin: %w", err)
	}
	if ok {
		s.record(ctx, audit.EventTypeAdminRevoke, workspaceID, 0, userID, "revoked admin")
	}
	return ok, nil
}

// setRole moves a membership to role when its current role compares to
// current under op
func (s *SQLStore) setRole(ctx context.Context, workspaceID, userID int64, role rbac.Role, op string, current rbac.Role) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE workspace_members SET role = $1
		 WHERE workspace_id = $2 AND user_id = $3 AND role `+op+` $4`,
		role, workspaceID, userID, current)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// RemoveWorkspace drops every membership in the workspace together with the
// board access rows on its boards, and returns the number of memberships
// removed. Boards, tasks and the workspace row are left to their owners.
func (s *SQLStore) RemoveWorkspace(ctx context.Context, workspaceID int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM board_access WHERE board_id IN (SELECT id FROM boards WHERE workspace_id = $1)`,
		workspaceID); err != nil {
		return 0, fmt.Errorf("failed to delete board access: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM workspace_members WHERE workspace_id = $1`, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete memberships: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit workspace removal: %w", err)
	}

	s.record(ctx, audit.EventTypeWorkspaceRemove, workspaceID, 0, 0, fmt.Sprintf("removed %d memberships", n))
	return n, nil
}
