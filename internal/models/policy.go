package models

import (
	"strings"
	"time"
)

// Governed action types. Every type listed here has a default policy seeded
// at bootstrap; exercising a type without a policy fails as ungoverned.
const (
	ActionDeleteAdmin     = "DELETE_ADMIN"
	ActionDemoteAdmin     = "DEMOTE_ADMIN"
	ActionDeactivateAdmin = "DEACTIVATE_ADMIN"
	ActionModifyPolicy    = "MODIFY_POLICY"
	ActionSystemRecovery  = "SYSTEM_RECOVERY"
	ActionDisableAudit    = "DISABLE_AUDIT"
)

// Policy defines how one governed action type is approved. One row per
// action type. Mutation is itself a governed action (MODIFY_POLICY); there is
// no direct write path.
type Policy struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	ActionType  string `json:"action_type" gorm:"uniqueIndex"`
	Description string `json:"description"`

	RequiredApprovals int `json:"required_approvals" gorm:"default:2"`

	// Comma-separated role lists, e.g. "admin" or "admin,engineer".
	AllowedRequestors string `json:"allowed_requestors" gorm:"default:'admin'"`
	AllowedApprovers  string `json:"allowed_approvers" gorm:"default:'admin'"`

	SelfApprovalAllowed        bool `json:"self_approval_allowed" gorm:"default:false"`
	ExecutionDelaySeconds      int  `json:"execution_delay_seconds" gorm:"default:0"`
	ReversibilityWindowSeconds int  `json:"reversibility_window_seconds" gorm:"default:0"`

	// IsSystemDefault marks seeded policies that may never be hard-deleted.
	IsSystemDefault bool `json:"is_system_default" gorm:"default:false"`
	Enabled         bool `json:"enabled" gorm:"default:true"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RequestorAllowed reports whether the role may request this action type.
func (p *Policy) RequestorAllowed(role string) bool {
	return roleInList(p.AllowedRequestors, role)
}

// ApproverAllowed reports whether the role may approve this action type.
func (p *Policy) ApproverAllowed(role string) bool {
	return roleInList(p.AllowedApprovers, role)
}

func roleInList(list, role string) bool {
	for _, r := range strings.Split(list, ",") {
		if strings.TrimSpace(r) == role {
			return true
		}
	}
	return false
}
