package services

import (
	"errors"

	"gorm.io/gorm"

	"github.com/gatehouse-sh/gatehouse/backend/internal/models"
)

// MinActiveAdmins is the structural floor: the system must never reach a
// state with fewer active administrators.
const MinActiveAdmins = 1

// LockoutService answers one question: would removing a given account from
// the active-admin population breach the floor. The count-then-act check is
// inherently racy against concurrent account mutations, so callers re-check
// at approval time and immediately before execution; the guarantee is that
// no execution completes in violation, not that every check is fresh.
type LockoutService struct {
	db *gorm.DB
}

// SafetyReport describes the current admin population relative to the floor.
type SafetyReport struct {
	ActiveAdminCount  int  `json:"active_admin_count"`
	MinimumRequired   int  `json:"minimum_required"`
	TargetIsActiveAdm bool `json:"-"`
	ResultingCount    int  `json:"-"`
	Safe              bool `json:"-"`
}

// NewLockoutService returns a LockoutService using the provided DB.
func NewLockoutService(db *gorm.DB) *LockoutService {
	return &LockoutService{db: db}
}

// CheckSafety reports whether removing targetUID from the active-admin pool
// keeps the count at or above the minimum. A target that is not currently an
// active admin is trivially safe.
func (s *LockoutService) CheckSafety(targetUID string) (*SafetyReport, error) {
	return s.checkSafety(s.db, targetUID)
}

// CheckSafetyTx is CheckSafety evaluated inside a caller-owned transaction,
// for the final pre-execution re-check.
func (s *LockoutService) CheckSafetyTx(tx *gorm.DB, targetUID string) (*SafetyReport, error) {
	return s.checkSafety(tx, targetUID)
}

func (s *LockoutService) checkSafety(db *gorm.DB, targetUID string) (*SafetyReport, error) {
	active, err := countActiveAdmins(db)
	if err != nil {
		return nil, err
	}

	report := &SafetyReport{
		ActiveAdminCount: active,
		MinimumRequired:  MinActiveAdmins,
		ResultingCount:   active,
		Safe:             true,
	}

	var target models.User
	if err := db.Where("uuid = ?", targetUID).First(&target).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return report, nil
		}
		return nil, err
	}
	if !target.IsActiveAdmin() {
		return report, nil
	}

	report.TargetIsActiveAdm = true
	report.ResultingCount = active - 1
	report.Safe = report.ResultingCount >= MinActiveAdmins
	return report, nil
}

// Require converts an unsafe report into a LockoutError.
func (r *SafetyReport) Require() error {
	if r.Safe {
		return nil
	}
	return &LockoutError{
		ActiveAdmins:   r.ActiveAdminCount,
		ResultingCount: r.ResultingCount,
		Minimum:        r.MinimumRequired,
	}
}

// Summary returns the counts shown on the admin-safety endpoint.
func (s *LockoutService) Summary() (map[string]interface{}, error) {
	active, err := countActiveAdmins(s.db)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"activeAdminCount": active,
		"minimumRequired":  MinActiveAdmins,
		"safetyMargin":     active - MinActiveAdmins,
		"isAtMinimum":      active <= MinActiveAdmins,
	}, nil
}

func countActiveAdmins(db *gorm.DB) (int, error) {
	var count int64
	err := db.Model(&models.User{}).
		Where("role = ? AND status = ?", models.RoleAdmin, models.StatusActive).
		Count(&count).Error
	return int(count), err
}
