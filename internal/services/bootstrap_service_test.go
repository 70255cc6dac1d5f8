package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/gatehouse-sh/gatehouse/backend/internal/identity"
	"github.com/gatehouse-sh/gatehouse/backend/internal/models"
)

func newTestBootstrap(t *testing.T, db *gorm.DB, recoveryHash string) *BootstrapService {
	t.Helper()
	return NewBootstrapService(
		db,
		identity.NewLocalAuthority(db),
		NewAuditService(db),
		NewPolicyService(db),
		NewAlertService(nil),
		recoveryHash,
	)
}

func TestBootstrap_FirstAdmin(t *testing.T) {
	db := setupTestDB(t)
	bootstrap := newTestBootstrap(t, db, "")

	bootstrapped, initialized, err := bootstrap.Status()
	require.NoError(t, err)
	assert.False(t, bootstrapped)
	assert.False(t, initialized)

	user, err := bootstrap.Bootstrap("root@example.com", "correct horse battery", "Root", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, user.Role)
	assert.Equal(t, models.StatusActive, user.Status)
	assert.NotEmpty(t, user.UUID)

	bootstrapped, initialized, err = bootstrap.Status()
	require.NoError(t, err)
	assert.True(t, bootstrapped)
	assert.True(t, initialized)

	var lock models.BootstrapLock
	require.NoError(t, db.First(&lock, models.BootstrapLockID).Error)
	assert.True(t, lock.Bootstrapped)
	assert.Equal(t, user.UUID, lock.SuperAdminUID)

	var policyCount int64
	require.NoError(t, db.Model(&models.Policy{}).Count(&policyCount).Error)
	assert.EqualValues(t, 6, policyCount)

	var entries []models.AuditEntry
	require.NoError(t, db.Order("sequence_number asc").Find(&entries).Error)
	require.Len(t, entries, 2)
	assert.Equal(t, AuditPoliciesSeeded, entries[0].Action)
	assert.Equal(t, AuditBootstrapCompleted, entries[1].Action)
}

func TestBootstrap_SecondAttemptBlocked(t *testing.T) {
	db := setupTestDB(t)
	bootstrap := newTestBootstrap(t, db, "")

	_, err := bootstrap.Bootstrap("root@example.com", "pw-one", "Root", "")
	require.NoError(t, err)

	_, err = bootstrap.Bootstrap("usurper@example.com", "pw-two", "Usurper", "10.6.6.6")
	assert.ErrorIs(t, err, ErrAlreadyBootstrapped)

	var userCount int64
	require.NoError(t, db.Model(&models.User{}).Count(&userCount).Error)
	assert.EqualValues(t, 1, userCount)

	var blocked models.AuditEntry
	require.NoError(t, db.Where("action = ?", AuditBootstrapBlocked).First(&blocked).Error)
	assert.Equal(t, "10.6.6.6", blocked.IP)
}

func TestBootstrap_RetryAfterPartialFailureConverges(t *testing.T) {
	db := setupTestDB(t)
	authority := identity.NewLocalAuthority(db)
	bootstrap := NewBootstrapService(db, authority,
		NewAuditService(db), NewPolicyService(db), NewAlertService(nil), "")

	// Simulate a crash after the provider account was created but before the
	// local record and lock were written.
	principal, err := authority.Create("root@example.com", "pw", "Root", models.RoleAdmin)
	require.NoError(t, err)

	user, err := bootstrap.Bootstrap("root@example.com", "pw", "Root", "")
	require.NoError(t, err)
	assert.Equal(t, principal.UID, user.UUID)

	var userCount int64
	require.NoError(t, db.Model(&models.User{}).Count(&userCount).Error)
	assert.EqualValues(t, 1, userCount)

	var accountCount int64
	require.NoError(t, db.Model(&identity.Account{}).Count(&accountCount).Error)
	assert.EqualValues(t, 1, accountCount)
}

func TestRecover_MisconfiguredWithoutTokenHash(t *testing.T) {
	db := setupTestDB(t)
	bootstrap := newTestBootstrap(t, db, "")

	_, err := bootstrap.Recover("any-token", "root@example.com", "pw", "Root", "")
	assert.ErrorIs(t, err, ErrRecoveryMisconfigured)
}

func TestRecover_BadTokenDeniedAndAudited(t *testing.T) {
	db := setupTestDB(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("the-real-token"), bcrypt.MinCost)
	require.NoError(t, err)
	bootstrap := newTestBootstrap(t, db, string(hash))

	_, err = bootstrap.Recover("wrong-token", "root@example.com", "pw", "Root", "203.0.113.9")
	assert.ErrorIs(t, err, ErrRecoveryUnauthorized)

	var userCount int64
	require.NoError(t, db.Model(&models.User{}).Count(&userCount).Error)
	assert.Zero(t, userCount)

	var denied models.AuditEntry
	require.NoError(t, db.Where("action = ?", AuditRecoveryDenied).First(&denied).Error)
	assert.Equal(t, "203.0.113.9", denied.IP)
}

func TestRecover_RestoresAdminAccess(t *testing.T) {
	db := setupTestDB(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("the-real-token"), bcrypt.MinCost)
	require.NoError(t, err)
	bootstrap := newTestBootstrap(t, db, string(hash))

	// Existing account that was demoted and deactivated.
	_, err = bootstrap.Bootstrap("root@example.com", "pw", "Root", "")
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.User{}).Where("email = ?", "root@example.com").
		Updates(map[string]interface{}{
			"role":   models.RoleEngineer,
			"status": models.StatusInactive,
		}).Error)

	user, err := bootstrap.Recover("the-real-token", "root@example.com", "pw", "Root", "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, user.Role)
	assert.Equal(t, models.StatusActive, user.Status)

	var completed models.AuditEntry
	require.NoError(t, db.Where("action = ?", AuditRecoveryCompleted).First(&completed).Error)
	assert.Equal(t, "203.0.113.7", completed.IP)

	// Recovery is idempotent: running it again converges to the same state.
	again, err := bootstrap.Recover("the-real-token", "root@example.com", "pw", "Root", "")
	require.NoError(t, err)
	assert.Equal(t, user.UUID, again.UUID)

	var userCount int64
	require.NoError(t, db.Model(&models.User{}).Count(&userCount).Error)
	assert.EqualValues(t, 1, userCount)
}
