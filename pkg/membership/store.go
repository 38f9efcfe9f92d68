package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/platinummonkey/taskboard/pkg/audit"
	"github.com/platinummonkey/taskboard/pkg/keylock"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/rbac"
)

// SQLStore implements Store on the workspace_members, board_access, boards
// and tasks tables. Cascading sequences for one user run under that user's
// lock and inside a single transaction.
type SQLStore struct {
	db      *sql.DB
	locker  keylock.Locker
	logger  *observability.Logger
	audit   audit.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option configures an SQLStore
type Option func(*SQLStore)

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *SQLStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAudit sets the audit sink
func WithAudit(logger audit.Logger) Option {
	return func(s *SQLStore) {
		if logger != nil {
			s.audit = logger
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *observability.Metrics) Option {
	return func(s *SQLStore) {
		s.metrics = m
	}
}

// WithClock overrides the time source used for joined_at and granted_at
func WithClock(now func() time.Time) Option {
	return func(s *SQLStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSQLStore creates a store. A nil locker falls back to an in-process one.
func NewSQLStore(db *sql.DB, locker keylock.Locker, opts ...Option) *SQLStore {
	if locker == nil {
		locker = keylock.NewLocal(keylock.DefaultShards)
	}
	s := &SQLStore{
		db:     db,
		locker: locker,
		logger: observability.NewNopLogger(),
		audit:  audit.NoopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", "membership")
	return s
}

func userLockKey(userID int64) string {
	return "membership:user:" + strconv.FormatInt(userID, 10)
}

// withUserLock runs fn while holding the per-user lock.
func (s *SQLStore) withUserLock(ctx context.Context, userID int64, fn func() error) error {
	start := time.Now()
	release, err := s.locker.Lock(ctx, userLockKey(userID))
	s.metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to lock user %d: %w", userID, err)
	}
	defer release()
	return fn()
}

// record emits an audit event and bumps the change counter. Audit failures
// are logged and never fail the mutation that already committed.
func (s *SQLStore) record(ctx context.Context, eventType audit.EventType, workspaceID, boardID, userID int64, message string) {
	s.metrics.RecordMembershipChange(string(eventType))

	event := audit.NewEvent(s.now(), eventType, audit.EventStatusSuccess)
	if actor := observability.GetUserID(ctx); actor != 0 {
		event.ActorID = audit.Int64(actor)
	}
	if userID != 0 {
		event.SubjectID = audit.Int64(userID)
	}
	if workspaceID != 0 {
		event.WorkspaceID = audit.Int64(workspaceID)
	}
	if boardID != 0 {
		event.BoardID = audit.Int64(boardID)
	}
	event.Message = message

	if err := s.audit.Log(ctx, event); err != nil {
		s.logger.WithError(err).WithField("event_type", string(eventType)).Warn("Failed to write audit event")
	}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func exists(ctx context.Context, q queryer, query string, args ...any) (bool, error) {
	var ok bool
	if err := q.QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func getRole(ctx context.Context, q queryer, workspaceID, userID int64) (rbac.Role, bool, error) {
	var role rbac.Role
	err := q.QueryRowContext(ctx,
		`SELECT role FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`,
		workspaceID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return role, true, nil
}

// boardWorkspace returns the workspace owning boardID, or false if the board does not exist.
func boardWorkspace(ctx context.Context, q queryer, boardID int64) (int64, bool, error) {
	var workspaceID int64
	err := q.QueryRowContext(ctx, `SELECT workspace_id FROM boards WHERE id = $1`, boardID).Scan(&workspaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return workspaceID, true, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
