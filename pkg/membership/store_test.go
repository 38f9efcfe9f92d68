package membership

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/taskboard/pkg/audit"
	"github.com/platinummonkey/taskboard/pkg/keylock"
	"github.com/platinummonkey/taskboard/pkg/storage/sqltest"
)

type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (r *recordingAudit) Log(_ context.Context, e *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingAudit) types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store *SQLStore
	db    *sql.DB
	clock *sqltest.Clock
	audit *recordingAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := sqltest.Open(t)
	clock := sqltest.NewClock()
	rec := &recordingAudit{}
	store := NewSQLStore(db, keylock.NewLocal(16), WithClock(clock.Now), WithAudit(rec))
	return &fixture{store: store, db: db, clock: clock, audit: rec}
}

func (f *fixture) memberCount(t *testing.T, workspaceID, userID int64) int {
	return sqltest.Count(t, f.db,
		`SELECT COUNT(*) FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`, workspaceID, userID)
}

func (f *fixture) accessCount(t *testing.T, userID int64) int {
	return sqltest.Count(t, f.db, `SELECT COUNT(*) FROM board_access WHERE user_id = $1`, userID)
}

func TestNewSQLStore_DefaultLocker(t *testing.T) {
	store := NewSQLStore(sqltest.Open(t), nil)
	assert.NotNil(t, store.locker)
}

func TestRemoveMember_RollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLStore(db, keylock.NewLocal(4))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT role FROM workspace_members`).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow(int64(2)))
	mock.ExpectExec(`DELETE FROM workspace_members`).
		WithArgs(int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM board_access`).
		WithArgs(int64(2), int64(1)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	removed, err := store.RemoveMember(context.Background(), 1, 2)
	require.Error(t, err)
	assert.False(t, removed)
	assert.Contains(t, err.Error(), "failed to delete board access")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRole_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT role FROM workspace_members`).WillReturnError(errors.New("timeout"))

	_, ok, err := NewSQLStore(db, nil).GetRole(context.Background(), 1, 1)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "failed to get role")
}

type blockingLocker struct{}

func (blockingLocker) Lock(ctx context.Context, key string) (func(), error) {
	<-ctx.Done()
	return nil, errors.Join(keylock.ErrLockTimeout, ctx.Err())
}

func TestRemoveMember_LockTimeout(t *testing.T) {
	db := sqltest.Open(t)
	store := NewSQLStore(db, blockingLocker{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	removed, err := store.RemoveMember(ctx, 1, 1)
	assert.False(t, removed)
	assert.ErrorIs(t, err, keylock.ErrLockTimeout)
}
