package membership

import (
	"context"
	"fmt"

	"github.com/platinummonkey/taskboard/pkg/audit"
	"github.com/platinummonkey/taskboard/pkg/rbac"
)

// AddGuestsToBoard grants each user access to the board. Users without a
// membership in the board's workspace become Guests there; existing members
// keep their role. Unknown users are skipped, and an unknown board yields nil.
func (s *SQLStore) AddGuestsToBoard(ctx context.Context, boardID int64, userIDs []int64) ([]*GuestMembership, error) {
	workspaceID, ok, err := boardWorkspace(ctx, s.db, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up board: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var granted []*GuestMembership
	for _, userID := range uniqueIDs(userIDs) {
		gm, err := s.addGuest(ctx, workspaceID, boardID, userID)
		if err != nil {
			return granted, err
		}
		if gm != nil {
			granted = append(granted, gm)
		}
	}
	return granted, nil
}

func (s *SQLStore) addGuest(ctx context.Context, workspaceID, boardID, userID int64) (*GuestMembership, error) {
	var gm *GuestMembership
	var createdMembership bool

	err := s.withUserLock(ctx, userID, func() error {
		now := s.now()

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		ok, err := exists(ctx, tx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID)
		if err != nil {
			return fmt.Errorf("failed to check user: %w", err)
		}
		if !ok {
			return nil
		}

		m := Membership{WorkspaceID: workspaceID, UserID: userID}
		err = tx.QueryRowContext(ctx,
			`SELECT role, joined_at FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`,
			workspaceID, userID).Scan(&m.Role, &m.JoinedAt)
		switch {
		case err == nil:
		case isNoRows(err):
			m.Role = rbac.RoleGuest
			m.JoinedAt = now
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO workspace_members (workspace_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
				workspaceID, userID, m.Role, now); err != nil {
				return fmt.Errorf("failed to add guest membership: %w", err)
			}
			createdMembership = true
		default:
			return fmt.Errorf("failed to get membership: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO board_access (board_id, user_id, granted_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			boardID, userID, now); err != nil {
			return fmt.Errorf("failed to add board access: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit guest access: %w", err)
		}
		gm = &GuestMembership{Membership: m, BoardID: boardID}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if gm != nil {
		msg := "board access granted to existing " + gm.Role.String()
		if createdMembership {
			msg = "guest added"
		}
		s.record(ctx, audit.EventTypeGuestAdd, workspaceID, boardID, userID, msg)
	}
	return gm, nil
}

// RemoveGuestFromBoard revokes the user's access to the board and returns
// false if there was none. When it was the user's last board in the
// workspace, their Guest membership there is deleted too. Memberships above
// Guest are never touched.
func (s *SQLStore) RemoveGuestFromBoard(ctx context.Context, boardID, userID int64) (bool, error) {
	workspaceID, ok, err := boardWorkspace(ctx, s.db, boardID)
	if err != nil {
		return false, fmt.Errorf("failed to look up board: %w", err)
	}
	if !ok {
		return false, nil
	}

	var removed, cascaded bool
	err = s.withUserLock(ctx, userID, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		result, err := tx.ExecContext(ctx,
			`DELETE FROM board_access WHERE board_id = $1 AND user_id = $2`, boardID, userID)
		if err != nil {
			return fmt.Errorf("failed to delete board access: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}

		var remaining int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM board_access ba
			JOIN boards b ON b.id = ba.board_id
			WHERE ba.user_id = $1 AND b.workspace_id = $2`,
			userID, workspaceID).Scan(&remaining)
		if err != nil {
			return fmt.Errorf("failed to count board access: %w", err)
		}

		if remaining == 0 {
			result, err := tx.ExecContext(ctx,
				`DELETE FROM workspace_members WHERE workspace_id = $1 AND user_id = $2 AND role = $3`,
				workspaceID, userID, rbac.RoleGuest)
			if err != nil {
				return fmt.Errorf("failed to delete guest membership: %w", err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			cascaded = n > 0
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit guest removal: %w", err)
		}
		removed = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if removed {
		msg := "board access revoked"
		if cascaded {
			msg = "board access revoked; guest membership removed"
		}
		s.record(ctx, audit.EventTypeGuestRemove, workspaceID, boardID, userID, msg)
	}
	return removed, nil
}

// CanViewBoard reports whether the user holds a board access row for the board.
func (s *SQLStore) CanViewBoard(ctx context.Context, boardID, userID int64) (bool, error) {
	ok, err := exists(ctx, s.db,
		`SELECT EXISTS (SELECT 1 FROM board_access WHERE board_id = $1 AND user_id = $2)`,
		boardID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check board access: %w", err)
	}
	return ok, nil
}

// BoardVisible applies the view policy: members above Guest see every board
// in their workspace, Guests only boards they were granted.
func (s *SQLStore) BoardVisible(ctx context.Context, boardID, userID int64) (bool, error) {
	workspaceID, ok, err := boardWorkspace(ctx, s.db, boardID)
	if err != nil {
		return false, fmt.Errorf("failed to look up board: %w", err)
	}
	if !ok {
		return false, nil
	}

	role, ok, err := s.GetRole(ctx, workspaceID, userID)
	if err != nil || !ok {
		return false, err
	}
	if role != rbac.RoleGuest {
		return rbac.CanViewBoard(role, false), nil
	}

	hasAccess, err := s.CanViewBoard(ctx, boardID, userID)
	if err != nil {
		return false, err
	}
	return rbac.CanViewBoard(role, hasAccess), nil
}
