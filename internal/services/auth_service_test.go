package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/gatehouse-sh/gatehouse/backend/internal/config"
	"github.com/gatehouse-sh/gatehouse/backend/internal/identity"
	"github.com/gatehouse-sh/gatehouse/backend/internal/models"
)

func newTestAuth(t *testing.T, db *gorm.DB) (*AuthService, *models.User) {
	t.Helper()
	authority := identity.NewLocalAuthority(db)
	principal, err := authority.Create("ops@example.com", "hunter2hunter2", "Ops", models.RoleAdmin)
	require.NoError(t, err)

	user := models.User{
		UUID:   principal.UID,
		Email:  principal.Email,
		Name:   principal.DisplayName,
		Role:   models.RoleAdmin,
		Status: models.StatusActive,
	}
	require.NoError(t, db.Create(&user).Error)

	cfg := config.Config{JWTSecret: "test-secret"}
	return NewAuthService(db, authority, cfg), &user
}

func TestAuth_LoginIssuesToken(t *testing.T) {
	db := setupTestDB(t)
	auth, user := newTestAuth(t, db)

	token, err := auth.Login("ops@example.com", "hunter2hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := auth.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.UUID, claims.Subject)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	var refreshed models.User
	require.NoError(t, db.Where("uuid = ?", user.UUID).First(&refreshed).Error)
	assert.NotNil(t, refreshed.LastLogin)
}

func TestAuth_WrongPasswordLocksAfterFiveFailures(t *testing.T) {
	db := setupTestDB(t)
	auth, user := newTestAuth(t, db)

	for i := 0; i < maxFailedLogins; i++ {
		_, err := auth.Login("ops@example.com", "wrong")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	var refreshed models.User
	require.NoError(t, db.Where("uuid = ?", user.UUID).First(&refreshed).Error)
	assert.Equal(t, maxFailedLogins, refreshed.FailedLoginAttempts)
	require.NotNil(t, refreshed.LockedUntil)

	// Even the right password is refused while locked.
	_, err := auth.Login("ops@example.com", "hunter2hunter2")
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestAuth_SuccessResetsFailureCount(t *testing.T) {
	db := setupTestDB(t)
	auth, user := newTestAuth(t, db)

	_, err := auth.Login("ops@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.Login("ops@example.com", "hunter2hunter2")
	require.NoError(t, err)

	var refreshed models.User
	require.NoError(t, db.Where("uuid = ?", user.UUID).First(&refreshed).Error)
	assert.Zero(t, refreshed.FailedLoginAttempts)
}

func TestAuth_InactiveAccountRejected(t *testing.T) {
	db := setupTestDB(t)
	auth, user := newTestAuth(t, db)
	require.NoError(t, db.Model(user).Update("status", models.StatusInactive).Error)

	_, err := auth.Login("ops@example.com", "hunter2hunter2")
	assert.ErrorIs(t, err, ErrAccountInactive)
}

func TestAuth_UnknownEmailRejected(t *testing.T) {
	db := setupTestDB(t)
	auth, _ := newTestAuth(t, db)

	_, err := auth.Login("nobody@example.com", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuth_TamperedTokenRejected(t *testing.T) {
	db := setupTestDB(t)
	auth, _ := newTestAuth(t, db)

	token, err := auth.Login("ops@example.com", "hunter2hunter2")
	require.NoError(t, err)

	_, err = auth.ParseToken(token + "x")
	assert.Error(t, err)

	other := NewAuthService(db, identity.NewLocalAuthority(db), config.Config{JWTSecret: "different-secret"})
	_, err = other.ParseToken(token)
	assert.Error(t, err)
}
