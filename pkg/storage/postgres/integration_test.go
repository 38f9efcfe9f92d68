//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/taskboard/pkg/auth"
	"github.com/platinummonkey/taskboard/pkg/credentials"
	"github.com/platinummonkey/taskboard/pkg/keylock"
	"github.com/platinummonkey/taskboard/pkg/membership"
	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage/sqltest"
	"github.com/platinummonkey/taskboard/pkg/users"
)

// setupPostgres starts a PostgreSQL container and applies the schema
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("taskboard_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cm, err := NewConnectionManager(ctx, ConnectionConfig{URL: connStr, MaxConns: 10, MinConns: 2, Timeout: 10 * time.Second}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cm.Close() })

	require.NoError(t, ApplySchema(ctx, cm.Primary()))
	// Idempotent on restart
	require.NoError(t, ApplySchema(ctx, cm.Primary()))
	return cm.Primary()
}

func TestIntegration_MembershipCascade(t *testing.T) {
	ctx := context.Background()
	db := setupPostgres(t)
	store := membership.NewSQLStore(db, keylock.NewLocal(16))

	ws := sqltest.SeedWorkspace(t, db, "acme")
	owner := sqltest.SeedUser(t, db, "owner@example.com")
	member := sqltest.SeedUser(t, db, "member@example.com")
	guest := sqltest.SeedUser(t, db, "guest@example.com")
	b1 := sqltest.SeedBoard(t, db, ws, "one")
	b2 := sqltest.SeedBoard(t, db, ws, "two")

	_, err := store.AddOwner(ctx, ws, owner)
	require.NoError(t, err)
	_, err = store.AddMember(ctx, ws, member)
	require.NoError(t, err)

	t.Run("single owner per workspace", func(t *testing.T) {
		_, err := db.Exec(`UPDATE workspace_members SET role = $1 WHERE workspace_id = $2 AND user_id = $3`,
			rbac.RoleOwner, ws, member)
		assert.Error(t, err)
	})

	t.Run("guest removed from last board leaves the workspace", func(t *testing.T) {
		granted, err := store.AddGuestsToBoard(ctx, b1, []int64{guest})
		require.NoError(t, err)
		require.Len(t, granted, 1)
		_, err = store.AddGuestsToBoard(ctx, b2, []int64{guest})
		require.NoError(t, err)

		removed, err := store.RemoveGuestFromBoard(ctx, b1, guest)
		require.NoError(t, err)
		assert.True(t, removed)
		_, ok, err := store.GetRole(ctx, ws, guest)
		require.NoError(t, err)
		assert.True(t, ok)

		removed, err = store.RemoveGuestFromBoard(ctx, b2, guest)
		require.NoError(t, err)
		assert.True(t, removed)
		_, ok, err = store.GetRole(ctx, ws, guest)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("removing a member clears their assignments", func(t *testing.T) {
		task := sqltest.SeedTask(t, db, b1, &member)

		removed, err := store.RemoveMember(ctx, ws, member)
		require.NoError(t, err)
		assert.True(t, removed)

		var assignee sql.NullInt64
		require.NoError(t, db.QueryRow(`SELECT assignee_id FROM tasks WHERE id = $1`, task).Scan(&assignee))
		assert.False(t, assignee.Valid)
	})

	t.Run("concurrent guest removals keep membership consistent", func(t *testing.T) {
		other := sqltest.SeedUser(t, db, "other@example.com")
		_, err := store.AddGuestsToBoard(ctx, b1, []int64{other})
		require.NoError(t, err)
		_, err = store.AddGuestsToBoard(ctx, b2, []int64{other})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for _, b := range []int64{b1, b2} {
			wg.Add(1)
			go func(boardID int64) {
				defer wg.Done()
				_, err := store.RemoveGuestFromBoard(ctx, boardID, other)
				assert.NoError(t, err)
			}(b)
		}
		wg.Wait()

		_, ok, err := store.GetRole(ctx, ws, other)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestIntegration_SingleActiveRefreshToken(t *testing.T) {
	ctx := context.Background()
	db := setupPostgres(t)

	hasher, err := auth.NewHasher(auth.HashSHA256)
	require.NoError(t, err)
	// Separate lockers stand in for separate instances; the partial unique
	// index still admits a single winner.
	user := sqltest.SeedUser(t, db, "ada@example.com")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := credentials.NewRefreshTokens(db, users.NewSQLDirectory(db), auth.NewTokenGenerator(hasher), keylock.NewLocal(1))
			issued, err := r.Issue(ctx, user)
			assert.NoError(t, err)
			if issued != nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, sqltest.Count(t, db,
		`SELECT COUNT(*) FROM refresh_tokens WHERE user_id = $1 AND revoked_at IS NULL`, user))
}
