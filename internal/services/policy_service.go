package services

import (
	"errors"

	"gorm.io/gorm"

	"github.com/gatehouse-sh/gatehouse/backend/internal/models"
)

// PolicyService is the source of truth for how each governed action type is
// approved. It exposes no direct mutation path: policy changes flow through
// the workflow under MODIFY_POLICY like any other governed action.
type PolicyService struct {
	db *gorm.DB
}

// NewPolicyService returns a PolicyService using the provided DB.
func NewPolicyService(db *gorm.DB) *PolicyService {
	return &PolicyService{db: db}
}

// Get returns the enabled policy for an action type, or ErrPolicyNotFound
// when the type is ungoverned.
func (s *PolicyService) Get(actionType string) (*models.Policy, error) {
	var p models.Policy
	if err := s.db.Where("action_type = ? AND enabled = ?", actionType, true).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	return &p, nil
}

// List returns all policies ordered by action type.
func (s *PolicyService) List() ([]models.Policy, error) {
	var policies []models.Policy
	err := s.db.Order("action_type asc").Find(&policies).Error
	return policies, err
}

// SeedDefaults inserts any missing default policy. Existing rows are never
// overwritten, so seeding is idempotent and re-runs after a crash converge.
func (s *PolicyService) SeedDefaults() error {
	for _, def := range defaultPolicies() {
		p := def
		if err := s.db.Where(models.Policy{ActionType: def.ActionType}).FirstOrCreate(&p).Error; err != nil {
			return err
		}
	}
	return nil
}

func defaultPolicies() []models.Policy {
	return []models.Policy{
		{
			ActionType:                 models.ActionDeleteAdmin,
			Description:                "Permanently delete an administrator account",
			RequiredApprovals:          2,
			AllowedRequestors:          models.RoleAdmin,
			AllowedApprovers:           models.RoleAdmin,
			ExecutionDelaySeconds:      300,
			ReversibilityWindowSeconds: 3600,
			IsSystemDefault:            true,
			Enabled:                    true,
		},
		{
			ActionType:                 models.ActionDemoteAdmin,
			Description:                "Demote an administrator to engineer",
			RequiredApprovals:          2,
			AllowedRequestors:          models.RoleAdmin,
			AllowedApprovers:           models.RoleAdmin,
			ExecutionDelaySeconds:      300,
			ReversibilityWindowSeconds: 3600,
			IsSystemDefault:            true,
			Enabled:                    true,
		},
		{
			ActionType:                 models.ActionDeactivateAdmin,
			Description:                "Deactivate an administrator account",
			RequiredApprovals:          2,
			AllowedRequestors:          models.RoleAdmin,
			AllowedApprovers:           models.RoleAdmin,
			ExecutionDelaySeconds:      300,
			ReversibilityWindowSeconds: 3600,
			IsSystemDefault:            true,
			Enabled:                    true,
		},
		{
			ActionType:                 models.ActionModifyPolicy,
			Description:                "Change a governance policy",
			RequiredApprovals:          2,
			AllowedRequestors:          models.RoleAdmin,
			AllowedApprovers:           models.RoleAdmin,
			ExecutionDelaySeconds:      600,
			ReversibilityWindowSeconds: 7200,
			IsSystemDefault:            true,
			Enabled:                    true,
		},
		{
			ActionType:                 models.ActionSystemRecovery,
			Description:                "Restore administrator access to a locked-out account",
			RequiredApprovals:          1,
			AllowedRequestors:          models.RoleAdmin,
			AllowedApprovers:           models.RoleAdmin,
			SelfApprovalAllowed:        true,
			ExecutionDelaySeconds:      600,
			ReversibilityWindowSeconds: 3600,
			IsSystemDefault:            true,
			Enabled:                    true,
		},
		{
			ActionType:            models.ActionDisableAudit,
			Description:           "Disable the audit ledger (not reversible)",
			RequiredApprovals:     2,
			AllowedRequestors:     models.RoleAdmin,
			AllowedApprovers:      models.RoleAdmin,
			ExecutionDelaySeconds: 900,
			IsSystemDefault:       true,
			Enabled:               true,
		},
	}
}
