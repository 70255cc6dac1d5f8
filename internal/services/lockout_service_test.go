package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-sh/gatehouse/backend/internal/models"
)

func TestLockoutService_NonAdminTargetIsTriviallySafe(t *testing.T) {
	db := setupTestDB(t)
	service := NewLockoutService(db)
	newTestAdmin(t, db, "admin@example.com")
	engineer := newTestEngineer(t, db, "eng@example.com")

	report, err := service.CheckSafety(engineer.UUID)
	require.NoError(t, err)
	assert.True(t, report.Safe)
	assert.NoError(t, report.Require())
}

func TestLockoutService_UnknownTargetIsSafe(t *testing.T) {
	db := setupTestDB(t)
	service := NewLockoutService(db)
	newTestAdmin(t, db, "admin@example.com")

	report, err := service.CheckSafety("no-such-uid")
	require.NoError(t, err)
	assert.True(t, report.Safe)
}

func TestLockoutService_LastAdminIsProtected(t *testing.T) {
	db := setupTestDB(t)
	service := NewLockoutService(db)
	only := newTestAdmin(t, db, "only@example.com")

	report, err := service.CheckSafety(only.UUID)
	require.NoError(t, err)
	assert.False(t, report.Safe)
	assert.Equal(t, 1, report.ActiveAdminCount)
	assert.Equal(t, 0, report.ResultingCount)

	err = report.Require()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLockoutViolation)

	var lockout *LockoutError
	require.ErrorAs(t, err, &lockout)
	assert.Equal(t, 1, lockout.ActiveAdmins)
	assert.Equal(t, 0, lockout.ResultingCount)
}

func TestLockoutService_SecondAdminMakesRemovalSafe(t *testing.T) {
	db := setupTestDB(t)
	service := NewLockoutService(db)
	newTestAdmin(t, db, "first@example.com")
	second := newTestAdmin(t, db, "second@example.com")

	report, err := service.CheckSafety(second.UUID)
	require.NoError(t, err)
	assert.True(t, report.Safe)
	assert.Equal(t, 2, report.ActiveAdminCount)
	assert.Equal(t, 1, report.ResultingCount)
}

func TestLockoutService_InactiveAdminsDoNotCount(t *testing.T) {
	db := setupTestDB(t)
	service := NewLockoutService(db)
	active := newTestAdmin(t, db, "active@example.com")
	dormant := newTestAdmin(t, db, "dormant@example.com")
	require.NoError(t, db.Model(dormant).Update("status", models.StatusInactive).Error)

	report, err := service.CheckSafety(active.UUID)
	require.NoError(t, err)
	assert.False(t, report.Safe)
}

func TestLockoutService_Summary(t *testing.T) {
	db := setupTestDB(t)
	service := NewLockoutService(db)
	newTestAdmin(t, db, "first@example.com")
	newTestAdmin(t, db, "second@example.com")

	summary, err := service.Summary()
	require.NoError(t, err)
	assert.Equal(t, 2, summary["activeAdminCount"])
	assert.Equal(t, MinActiveAdmins, summary["minimumRequired"])
	assert.Equal(t, 1, summary["safetyMargin"])
	assert.Equal(t, false, summary["isAtMinimum"])
}
