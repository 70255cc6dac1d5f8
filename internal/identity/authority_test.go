package identity

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsnName := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", dsnName)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Account{}))
	return db
}

func TestLocalAuthority_CreateAndLookup(t *testing.T) {
	db := setupTestDB(t)
	authority := NewLocalAuthority(db)

	created, err := authority.Create("a@example.com", "secret-password", "Alice", "admin")
	require.NoError(t, err)
	assert.NotEmpty(t, created.UID)

	found, err := authority.LookupByEmail("a@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.UID, found.UID)
	assert.Equal(t, "Alice", found.DisplayName)

	_, err = authority.LookupByEmail("nobody@example.com")
	assert.ErrorIs(t, err, ErrPrincipalNotFound)
}

func TestLocalAuthority_DuplicateEmail(t *testing.T) {
	db := setupTestDB(t)
	authority := NewLocalAuthority(db)

	_, err := authority.Create("a@example.com", "secret-password", "Alice", "admin")
	require.NoError(t, err)

	_, err = authority.Create("a@example.com", "other-password", "Impostor", "admin")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLocalAuthority_Verify(t *testing.T) {
	db := setupTestDB(t)
	authority := NewLocalAuthority(db)

	created, err := authority.Create("a@example.com", "secret-password", "Alice", "admin")
	require.NoError(t, err)

	principal, err := authority.Verify("a@example.com", "secret-password")
	require.NoError(t, err)
	assert.Equal(t, created.UID, principal.UID)

	_, err = authority.Verify("a@example.com", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, err = authority.Verify("nobody@example.com", "secret-password")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestLocalAuthority_SetRoleHint(t *testing.T) {
	db := setupTestDB(t)
	authority := NewLocalAuthority(db)

	created, err := authority.Create("a@example.com", "secret-password", "Alice", "engineer")
	require.NoError(t, err)

	require.NoError(t, authority.SetRoleHint(created.UID, "admin"))

	found, err := authority.LookupByEmail("a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "admin", found.RoleHint)
}
