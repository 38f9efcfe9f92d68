package membership

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/taskboard/pkg/audit"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage/sqltest"
)

func TestAddMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ws := sqltest.SeedWorkspace(t, f.db, "acme")
	alice := sqltest.SeedUser(t, f.db, "alice@example.com")

	t.Run("creates member row", func(t *testing.T) {
		m, err := f.store.AddMember(ctx, ws, alice)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, rbac.RoleMember, m.Role)
		assert.Equal(t, sqltest.Epoch, m.JoinedAt)

		role, ok, err := f.store.GetRole(ctx, ws, alice)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, rbac.RoleMember, role)
	})

	t.Run("existing member is a no-op", func(t *testing.T) {
		m, err := f.store.AddMember(ctx, ws, alice)
		require.NoError(t, err)
		assert.Nil(t, m)
		assert.Equal(t, 1, f.memberCount(t, ws, alice))
	})

	t.Run("unknown workspace", func(t *testing.T) {
		m, err := f.store.AddMember(ctx, 999, alice)
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("unknown user", func(t *testing.T) {
		m, err := f.store.AddMember(ctx, ws, 999)
		require.NoError(t, err)
		assert.Nil(t, m)
		assert.Equal(t, 0, f.memberCount(t, ws, 999))
	})

	assert.Equal(t, []audit.EventType{audit.EventTypeMemberAdd}, f.audit.types())
}

func TestAddMembers_SkipsUnknownAndExisting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ws := sqltest.SeedWorkspace(t, f.db, "acme")
	alice := sqltest.SeedUser(t, f.db, "alice@example.com")
	bob := sqltest.SeedUser(t, f.db, "bob@example.com")
	sqltest.SeedMember(t, f.db, ws, alice, int(rbac.RoleAdmin))

	added, err := f.store.AddMembers(ctx, ws, []int64{alice, bob, 404, bob})
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, bob, added[0].UserID)

	role, _, err := f.store.GetRole(ctx, ws, alice)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, role, "existing role untouched")

	added, err = f.store.AddMembers(ctx, ws, nil)
	require.NoError(t, err)
	assert.Empty(t, added)
}

func TestAddOwner_SingleOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ws := sqltest.SeedWorkspace(t, f.db, "acme")
	alice := sqltest.SeedUser(t, f.db, "alice@example.com")
	bob := sqltest.SeedUser(t, f.db, "bob@example.com")

	m, err := f.store.AddOwner(ctx, ws, alice)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, rbac.RoleOwner, m.Role)

	m, err = f.store.AddOwner(ctx, ws, bob)
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Equal(t, 0, f.memberCount(t, ws, bob))
}

func TestGetRole_NotMember(t *testing.T) {
	f := newFixture(t)
	ws := sqltest.SeedWorkspace(t, f.db, "acme")

	role, ok, err := f.store.GetRole(context.Background(), ws, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, rbac.Role(0), role)
}

func TestListMembers_Ordering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ws := sqltest.SeedWorkspace(t, f.db, "acme")
	guest := sqltest.SeedUser(t, f.db, "guest@example.com")
	owner := sqltest.SeedUser(t, f.db, "owner@example.com")
	member := sqltest.SeedUser(t, f.db, "member@example.com")
	sqltest.SeedMember(t, f.db, ws, guest, int(rbac.RoleGuest))
	sqltest.SeedMember(t, f.db, ws, owner, int(rbac.RoleOwner))
	sqltest.SeedMember(t, f.db, ws, member, int(rbac.RoleMember))

	members, err := f.store.ListMembers(ctx, ws)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, owner, members[0].UserID)
	assert.Equal(t, member, members[1].UserID)
	assert.Equal(t, guest, members[2].UserID)

	members, err = f.store.ListMembers(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestRemoveMember(t *testing.T) {
	ctx := context.Background()

	t.Run("absent membership", func(t *testing.T) {
		f := newFixture(t)
		ws := sqltest.SeedWorkspace(t, f.db, "acme")
		removed, err := f.store.RemoveMember(ctx, ws, 1)
		require.NoError(t, err)
		assert.False(t, removed)
		assert.Empty(t, f.audit.types())
	})

	t.Run("member clears assignees in this workspace only", func(t *testing.T) {
		f := newFixture(t)
		ws := sqltest.SeedWorkspace(t, f.db, "acme")
		other := sqltest.SeedWorkspace(t, f.db, "other")
		alice := sqltest.SeedUser(t, f.db, "alice@example.com")
		sqltest.SeedMember(t, f.db, ws, alice, int(rbac.RoleMember))
		sqltest.SeedMember(t, f.db, other, alice, int(rbac.RoleMember))

		board := sqltest.SeedBoard(t, f.db, ws, "roadmap")
		otherBoard := sqltest.SeedBoard(t, f.db, other, "ops")
		mine := sqltest.SeedTask(t, f.db, board, &alice)
		elsewhere := sqltest.SeedTask(t, f.db, otherBoard, &alice)

		removed, err := f.store.RemoveMember(ctx, ws, alice)
		require.NoError(t, err)
		assert.True(t, removed)

		assert.Equal(t, 0, f.memberCount(t, ws, alice))
		assert.Equal(t, 1, f.memberCount(t, other, alice))
		assert.Equal(t, 1, sqltest.Count(t, f.db,
			`SELECT COUNT(*) FROM tasks WHERE id = $1 AND assignee_id IS NULL`, mine))
		assert.Equal(t, 1, sqltest.Count(t, f.db,
			`SELECT COUNT(*) FROM tasks WHERE id = $1 AND assignee_id = $2`, elsewhere, alice))
		assert.Equal(t, []audit.EventType{audit.EventTypeMemberRemove}, f.audit.types())
	})

	t.Run("guest cascades board access", func(t *testing.T) {
		f := newFixture(t)
		ws := sqltest.SeedWorkspace(t, f.db, "acme")
		other := sqltest.SeedWorkspace(t, f.db, "other")
		gina := sqltest.SeedUser(t, f.db, "gina@example.com")
		a := sqltest.SeedBoard(t, f.db, ws, "a")
		b := sqltest.SeedBoard(t, f.db, ws, "b")
		c := sqltest.SeedBoard(t, f.db, other, "c")

		_, err := f.store.AddGuestsToBoard(ctx, a, []int64{gina})
		require.NoError(t, err)
		_, err = f.store.AddGuestsToBoard(ctx, b, []int64{gina})
		require.NoError(t, err)
		_, err = f.store.AddGuestsToBoard(ctx, c, []int64{gina})
		require.NoError(t, err)
		require.Equal(t, 3, f.accessCount(t, gina))

		removed, err := f.store.RemoveMember(ctx, ws, gina)
		require.NoError(t, err)
		assert.True(t, removed)
		assert.Equal(t, 1, f.accessCount(t, gina), "access in other workspace survives")
		assert.Equal(t, 1, f.memberCount(t, other, gina))
	})
}

func TestGrantAndRevokeAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ws := sqltest.SeedWorkspace(t, f.db, "acme")
	alice := sqltest.SeedUser(t, f.db, "alice@example.com")
	sqltest.SeedMember(t, f.db, ws, alice, int(rbac.RoleMember))

	ok, err := f.store.GrantAdmin(ctx, ws, alice)
	require.NoError(t, err)
	assert.True(t, ok)
	role, _, err := f.store.GetRole(ctx, ws, alice)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, role)

	ok, err = f.store.RevokeAdmin(ctx, ws, alice)
	require.NoError(t, err)
	assert.True(t, ok)
	role, _, err = f.store.GetRole(ctx, ws, alice)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleMember, role)

	ok, err = f.store.GrantAdmin(ctx, ws, 999)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = f.store.RevokeAdmin(ctx, ws, 999)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []audit.EventType{audit.EventTypeAdminGrant, audit.EventTypeAdminRevoke}, f.audit.types())
}

func TestGrantAndRevokeAdmin_RoleTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ws := sqltest.SeedWorkspace(t, f.db, "acme")
	owner := sqltest.SeedUser(t, f.db, "owner@example.com")
	admin := sqltest.SeedUser(t, f.db, "admin@example.com")
	gina := sqltest.SeedUser(t, f.db, "gina@example.com")
	sqltest.SeedMember(t, f.db, ws, owner, int(rbac.RoleOwner))
	sqltest.SeedMember(t, f.db, ws, admin, int(rbac.RoleAdmin))
	sqltest.SeedMember(t, f.db, ws, gina, int(rbac.RoleGuest))

	tests := []struct {
		name   string
		op     func(context.Context, int64, int64) (bool, error)
		userID int64
		want   rbac.Role
	}{
		{"grant keeps the owner", f.store.GrantAdmin, owner, rbac.RoleOwner},
		{"grant to an admin is a no-op", f.store.GrantAdmin, admin, rbac.RoleAdmin},
		{"revoke leaves a guest alone", f.store.RevokeAdmin, gina, rbac.RoleGuest},
		{"revoke leaves the owner alone", f.store.RevokeAdmin, owner, rbac.RoleOwner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := tt.op(ctx, ws, tt.userID)
			require.NoError(t, err)
			assert.False(t, ok)

			role, _, err := f.store.GetRole(ctx, ws, tt.userID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, role)
		})
	}
	assert.Empty(t, f.audit.types())

	// a guest may be promoted straight to admin
	ctx = observability.WithUserID(ctx, owner)
	ok, err := f.store.GrantAdmin(ctx, ws, gina)
	require.NoError(t, err)
	assert.True(t, ok)
	role, _, err := f.store.GetRole(ctx, ws, gina)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, role)

	require.Len(t, f.audit.events, 1)
	require.NotNil(t, f.audit.events[0].ActorID)
	assert.Equal(t, owner, *f.audit.events[0].ActorID)
}

func TestRemoveWorkspace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ws := sqltest.SeedWorkspace(t, f.db, "acme")
	other := sqltest.SeedWorkspace(t, f.db, "other")
	alice := sqltest.SeedUser(t, f.db, "alice@example.com")
	gina := sqltest.SeedUser(t, f.db, "gina@example.com")
	sqltest.SeedMember(t, f.db, ws, alice, int(rbac.RoleOwner))
	sqltest.SeedMember(t, f.db, other, alice, int(rbac.RoleOwner))
	board := sqltest.SeedBoard(t, f.db, ws, "a")
	_, err := f.store.AddGuestsToBoard(ctx, board, []int64{gina})
	require.NoError(t, err)

	n, err := f.store.RemoveWorkspace(ctx, ws)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 0, f.accessCount(t, gina))
	assert.Equal(t, 1, f.memberCount(t, other, alice))
}
