package services

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/gatehouse-sh/gatehouse/backend/internal/identity"
	"github.com/gatehouse-sh/gatehouse/backend/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsnName := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", dsnName)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Policy{},
		&models.PendingAction{},
		&models.Approval{},
		&models.AuditEntry{},
		&models.BootstrapLock{},
		&models.Setting{},
		&identity.Account{},
	))
	return db
}

func newTestAdmin(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()
	user := models.User{
		UUID:   uuid.NewString(),
		Email:  email,
		Name:   strings.Split(email, "@")[0],
		Role:   models.RoleAdmin,
		Status: models.StatusActive,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func newTestEngineer(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()
	user := models.User{
		UUID:   uuid.NewString(),
		Email:  email,
		Name:   strings.Split(email, "@")[0],
		Role:   models.RoleEngineer,
		Status: models.StatusActive,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func newTestWorkflow(t *testing.T, db *gorm.DB) *WorkflowService {
	t.Helper()
	policies := NewPolicyService(db)
	require.NoError(t, policies.SeedDefaults())
	audit := NewAuditService(db)
	lockout := NewLockoutService(db)
	alerts := NewAlertService(nil)
	return NewWorkflowService(db, audit, policies, lockout, alerts)
}
