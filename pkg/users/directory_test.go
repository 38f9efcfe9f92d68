package users

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/platinummonkey/taskboard/pkg/auth"
	"github.com/platinummonkey/taskboard/pkg/storage/sqltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUser(email string) *auth.User {
	return &auth.User{
		Email:        email,
		Name:         "Ada",
		PasswordHash: []byte("digest"),
		Salt:         "salt",
		CreatedAt:    sqltest.Epoch,
	}
}

func TestSQLDirectory_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	dir := NewSQLDirectory(sqltest.Open(t))

	user := newUser("  Ada@Example.com ")
	require.NoError(t, dir.Create(ctx, user))
	assert.NotZero(t, user.ID)
	assert.Equal(t, "ada@example.com", user.Email)

	found, err := dir.FindByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, user.ID, found.ID)
	assert.Equal(t, "Ada", found.Name)
	assert.Equal(t, []byte("digest"), found.PasswordHash)
	assert.Equal(t, "salt", found.Salt)
	assert.True(t, found.CreatedAt.Equal(sqltest.Epoch))

	byID, err := dir.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, user.Email, byID.Email)

	exists, err := dir.Exists(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSQLDirectory_Missing(t *testing.T) {
	ctx := context.Background()
	dir := NewSQLDirectory(sqltest.Open(t))

	found, err := dir.FindByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, found)

	byID, err := dir.FindByID(ctx, 404)
	require.NoError(t, err)
	assert.Nil(t, byID)

	exists, err := dir.Exists(ctx, 404)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLDirectory_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	dir := NewSQLDirectory(sqltest.Open(t))

	require.NoError(t, dir.Create(ctx, newUser("ada@example.com")))
	err := dir.Create(ctx, newUser("ADA@example.com"))
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestSQLDirectory_UpdatePassword(t *testing.T) {
	ctx := context.Background()
	dir := NewSQLDirectory(sqltest.Open(t))

	user := newUser("ada@example.com")
	require.NoError(t, dir.Create(ctx, user))

	later := sqltest.Epoch.Add(time.Hour)
	require.NoError(t, dir.UpdatePassword(ctx, user.ID, []byte("new-digest"), "new-salt", later))

	found, err := dir.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("new-digest"), found.PasswordHash)
	assert.Equal(t, "new-salt", found.Salt)
	assert.True(t, found.UpdatedAt.Equal(later))

	err = dir.UpdatePassword(ctx, 999, []byte("x"), "y", later)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSQLDirectory_QueryErrors(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	dir := NewSQLDirectory(db)

	mock.ExpectQuery(`SELECT (.+) FROM users WHERE email = \$1`).
		WithArgs("ada@example.com").
		WillReturnError(fmt.Errorf("database connection error"))

	_, err = dir.FindByEmail(ctx, "ada@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to find user by email")

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(1)).
		WillReturnError(fmt.Errorf("database connection error"))

	_, err = dir.Exists(ctx, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to check user")

	mock.ExpectExec(`UPDATE users SET password_hash`).
		WillReturnError(fmt.Errorf("database connection error"))

	err = dir.UpdatePassword(ctx, 1, []byte("x"), "y", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to update password")

	require.NoError(t, mock.ExpectationsWereMet())
}
