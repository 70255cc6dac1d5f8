package services

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/gatehouse-sh/gatehouse/backend/internal/identity"
	"github.com/gatehouse-sh/gatehouse/backend/internal/logger"
	"github.com/gatehouse-sh/gatehouse/backend/internal/models"
)

// BootstrapService performs idempotent creation and recovery of the first
// privileged account. The Identity Authority and the local record store fail
// independently; every sub-step is either already-done-is-a-no-op or an
// upsert by the stable subject id, so a crash anywhere converges to the same
// end state on the next attempt.
type BootstrapService struct {
	db        *gorm.DB
	authority identity.Authority
	audit     *AuditService
	policies  *PolicyService
	alerts    *AlertService

	// recoveryTokenHash is the bcrypt hash of the out-of-band emergency
	// token. Recovery bypasses policy governance deliberately: it must work
	// when every administrator is disabled.
	recoveryTokenHash string
}

// NewBootstrapService wires the bootstrap/recovery flows.
func NewBootstrapService(db *gorm.DB, authority identity.Authority, audit *AuditService, policies *PolicyService, alerts *AlertService, recoveryTokenHash string) *BootstrapService {
	return &BootstrapService{
		db:                db,
		authority:         authority,
		audit:             audit,
		policies:          policies,
		alerts:            alerts,
		recoveryTokenHash: recoveryTokenHash,
	}
}

// Status reports whether the system has been bootstrapped. The lock row, not
// the presence of any identity-provider account, is the source of truth.
func (s *BootstrapService) Status() (bootstrapped, initialized bool, err error) {
	var lock models.BootstrapLock
	if err := s.db.First(&lock, models.BootstrapLockID).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return false, false, err
		}
	}

	active, err := countActiveAdmins(s.db)
	if err != nil {
		return false, false, err
	}
	return lock.Bootstrapped, active > 0, nil
}

// Bootstrap creates the first administrator. It is guarded by the singleton
// lock: once Bootstrapped is set the flow fails permanently, and the flip
// itself is a conditional update so two concurrent bootstraps cannot both
// win.
func (s *BootstrapService) Bootstrap(email, password, name, ip string) (*models.User, error) {
	lock := models.BootstrapLock{ID: models.BootstrapLockID}
	if err := s.db.FirstOrCreate(&lock, models.BootstrapLock{ID: models.BootstrapLockID}).Error; err != nil {
		return nil, err
	}
	if lock.Bootstrapped {
		s.blocked(email, ip, "lock already set")
		return nil, ErrAlreadyBootstrapped
	}

	user, err := s.resolveAndUpsert(email, password, name)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res := s.db.Model(&models.BootstrapLock{}).
		Where("id = ? AND bootstrapped = ?", models.BootstrapLockID, false).
		Updates(map[string]interface{}{
			"bootstrapped":    true,
			"super_admin_uid": user.UUID,
			"bootstrapped_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		s.blocked(email, ip, "lost bootstrap race")
		return nil, ErrAlreadyBootstrapped
	}

	if err := s.policies.SeedDefaults(); err != nil {
		// The lock is already set; the next boot re-seeds idempotently.
		logger.WithFields(map[string]interface{}{"error": err.Error()}).Error("seeding default policies failed")
	} else {
		s.audit.Append(AuditPoliciesSeeded, "policy", "", nil, map[string]interface{}{
			"count": len(defaultPolicies()),
		}, ip)
	}

	s.audit.Append(AuditBootstrapCompleted, "user", user.UUID, &user.UUID, map[string]interface{}{
		"email": email,
	}, ip)

	return user, nil
}

// Recover restores administrator access using the out-of-band token. Every
// attempt, successful or not, is audit-logged with the source IP.
func (s *BootstrapService) Recover(token, email, password, name, ip string) (*models.User, error) {
	if s.recoveryTokenHash == "" {
		return nil, ErrRecoveryMisconfigured
	}
	if bcrypt.CompareHashAndPassword([]byte(s.recoveryTokenHash), []byte(token)) != nil {
		s.audit.Append(AuditRecoveryDenied, "user", "", nil, map[string]interface{}{
			"email": email,
		}, ip)
		s.alerts.SecurityEvent(AuditRecoveryDenied, map[string]interface{}{
			"email": email, "ip": ip,
		})
		return nil, ErrRecoveryUnauthorized
	}

	user, err := s.resolveAndUpsert(email, password, name)
	if err != nil {
		return nil, err
	}

	s.audit.Append(AuditRecoveryCompleted, "user", user.UUID, &user.UUID, map[string]interface{}{
		"email": email,
	}, ip)
	s.alerts.SecurityEvent(AuditRecoveryCompleted, map[string]interface{}{
		"email": email, "ip": ip,
	})

	return user, nil
}

// resolveAndUpsert is the shared idempotent pattern: look the principal up
// by email and only create when absent (blind creation would fail retries on
// "already exists"), then upsert the local record keyed by the stable
// subject id.
func (s *BootstrapService) resolveAndUpsert(email, password, name string) (*models.User, error) {
	principal, err := s.authority.LookupByEmail(email)
	if errors.Is(err, identity.ErrPrincipalNotFound) {
		principal, err = s.authority.Create(email, password, name, models.RoleAdmin)
	}
	if err != nil {
		return nil, err
	}

	var user models.User
	err = s.db.Where(models.User{UUID: principal.UID}).
		Assign(models.User{
			Email:  email,
			Name:   name,
			Role:   models.RoleAdmin,
			Status: models.StatusActive,
		}).
		FirstOrCreate(&user).Error
	if err != nil {
		return nil, err
	}

	// Best effort: keep the provider's descriptive hint in step. Authority
	// failures here do not fail the flow.
	if hintErr := s.authority.SetRoleHint(principal.UID, models.RoleAdmin); hintErr != nil {
		logger.WithFields(map[string]interface{}{"error": hintErr.Error()}).Warn("could not update provider role hint")
	}

	return &user, nil
}

func (s *BootstrapService) blocked(email, ip, why string) {
	s.audit.Append(AuditBootstrapBlocked, "user", "", nil, map[string]interface{}{
		"email":  email,
		"reason": why,
	}, ip)
	s.alerts.SecurityEvent(AuditBootstrapBlocked, map[string]interface{}{
		"email": email, "ip": ip,
	})
}
