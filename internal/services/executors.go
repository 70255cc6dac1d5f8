package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/gatehouse-sh/gatehouse/backend/internal/models"
)

// Executor applies the effect of one approved action type. Every type is
// registered the same way, including MODIFY_POLICY: the workflow engine has
// no special case for actions that govern the engine itself.
type Executor interface {
	// ValidatePayload rejects a malformed payload at create time, so the
	// execution path never probes fields defensively.
	ValidatePayload(raw json.RawMessage) error

	// TargetUID extracts the admin account the action removes from the
	// active pool, if the action type affects the admin count.
	TargetUID(raw json.RawMessage) (string, bool)

	// Execute applies the payload's effect inside the workflow transaction
	// and returns a snapshot for later compensation, or "" if none.
	Execute(tx *gorm.DB, action *models.PendingAction) (snapshot string, err error)

	// Reverse compensates an executed action inside the reversibility
	// window, or returns ErrNotReversible.
	Reverse(tx *gorm.DB, action *models.PendingAction) error
}

// AdminTargetPayload is the payload for actions aimed at one administrator.
type AdminTargetPayload struct {
	TargetUserID string `json:"target_user_id"`
}

// PolicyDeltaPayload is the MODIFY_POLICY payload: nil fields are unchanged.
type PolicyDeltaPayload struct {
	ActionType                 string  `json:"action_type"`
	Description                *string `json:"description,omitempty"`
	RequiredApprovals          *int    `json:"required_approvals,omitempty"`
	AllowedRequestors          *string `json:"allowed_requestors,omitempty"`
	AllowedApprovers           *string `json:"allowed_approvers,omitempty"`
	SelfApprovalAllowed        *bool   `json:"self_approval_allowed,omitempty"`
	ExecutionDelaySeconds      *int    `json:"execution_delay_seconds,omitempty"`
	ReversibilityWindowSeconds *int    `json:"reversibility_window_seconds,omitempty"`
	Enabled                    *bool   `json:"enabled,omitempty"`
}

// RecoveryPayload is the SYSTEM_RECOVERY payload: restore admin access to an
// existing, usually deactivated or demoted, account.
type RecoveryPayload struct {
	TargetUserID string `json:"target_user_id"`
}

// DisableAuditPayload requires an explicit acknowledgement that the ledger
// stops permanently.
type DisableAuditPayload struct {
	Acknowledged bool `json:"acknowledged"`
}

type userSnapshot struct {
	UUID   string `json:"uuid"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

// adminAccountExecutor implements DELETE_ADMIN, DEMOTE_ADMIN and
// DEACTIVATE_ADMIN; the three differ only in the effect applied.
type adminAccountExecutor struct {
	actionType string
	lockout    *LockoutService
}

func (e *adminAccountExecutor) ValidatePayload(raw json.RawMessage) error {
	var p AdminTargetPayload
	if err := strictUnmarshal(raw, &p); err != nil {
		return err
	}
	if p.TargetUserID == "" {
		return fmt.Errorf("%w: target_user_id is required", ErrInvalidPayload)
	}
	return nil
}

func (e *adminAccountExecutor) TargetUID(raw json.RawMessage) (string, bool) {
	var p AdminTargetPayload
	if json.Unmarshal(raw, &p) != nil {
		return "", false
	}
	return p.TargetUserID, true
}

func (e *adminAccountExecutor) Execute(tx *gorm.DB, action *models.PendingAction) (string, error) {
	var p AdminTargetPayload
	if err := json.Unmarshal([]byte(action.Payload), &p); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var target models.User
	if err := tx.Where("uuid = ?", p.TargetUserID).First(&target).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("target account %s no longer exists", p.TargetUserID)
		}
		return "", err
	}

	// Final floor re-check under the same transaction that applies the
	// effect; this is what closes the TOCTOU window for good.
	report, err := e.lockout.CheckSafetyTx(tx, p.TargetUserID)
	if err != nil {
		return "", err
	}
	if err := report.Require(); err != nil {
		return "", err
	}

	snapshot, err := json.Marshal(userSnapshot{
		UUID: target.UUID, Email: target.Email, Name: target.Name,
		Role: target.Role, Status: target.Status,
	})
	if err != nil {
		return "", err
	}

	switch e.actionType {
	case models.ActionDeleteAdmin:
		if err := tx.Delete(&target).Error; err != nil {
			return "", err
		}
	case models.ActionDemoteAdmin:
		if err := tx.Model(&target).Update("role", models.RoleEngineer).Error; err != nil {
			return "", err
		}
	case models.ActionDeactivateAdmin:
		if err := tx.Model(&target).Update("status", models.StatusInactive).Error; err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unhandled action type %s", e.actionType)
	}

	return string(snapshot), nil
}

func (e *adminAccountExecutor) Reverse(tx *gorm.DB, action *models.PendingAction) error {
	var snap userSnapshot
	if err := json.Unmarshal([]byte(action.ExecutionSnapshot), &snap); err != nil {
		return fmt.Errorf("unusable execution snapshot: %w", err)
	}

	var target models.User
	err := tx.Where("uuid = ?", snap.UUID).First(&target).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		// Deleted account: re-insert the snapshot.
		restored := models.User{
			UUID: snap.UUID, Email: snap.Email, Name: snap.Name,
			Role: snap.Role, Status: snap.Status,
		}
		return tx.Create(&restored).Error
	case err != nil:
		return err
	}

	return tx.Model(&target).Updates(map[string]interface{}{
		"role":   snap.Role,
		"status": snap.Status,
	}).Error
}

// policyExecutor implements MODIFY_POLICY.
type policyExecutor struct{}

func (e *policyExecutor) ValidatePayload(raw json.RawMessage) error {
	var p PolicyDeltaPayload
	if err := strictUnmarshal(raw, &p); err != nil {
		return err
	}
	if p.ActionType == "" {
		return fmt.Errorf("%w: action_type is required", ErrInvalidPayload)
	}
	if p.RequiredApprovals != nil && *p.RequiredApprovals < 1 {
		return fmt.Errorf("%w: required_approvals must be at least 1", ErrInvalidPayload)
	}
	if p.ExecutionDelaySeconds != nil && *p.ExecutionDelaySeconds < 0 {
		return fmt.Errorf("%w: execution_delay_seconds must not be negative", ErrInvalidPayload)
	}
	if p.ReversibilityWindowSeconds != nil && *p.ReversibilityWindowSeconds < 0 {
		return fmt.Errorf("%w: reversibility_window_seconds must not be negative", ErrInvalidPayload)
	}
	return nil
}

func (e *policyExecutor) TargetUID(json.RawMessage) (string, bool) { return "", false }

func (e *policyExecutor) Execute(tx *gorm.DB, action *models.PendingAction) (string, error) {
	var p PolicyDeltaPayload
	if err := json.Unmarshal([]byte(action.Payload), &p); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var policy models.Policy
	if err := tx.Where("action_type = ?", p.ActionType).First(&policy).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("no policy exists for %s", p.ActionType)
		}
		return "", err
	}

	snapshot, err := json.Marshal(policy)
	if err != nil {
		return "", err
	}

	updates := map[string]interface{}{}
	if p.Description != nil {
		updates["description"] = *p.Description
	}
	if p.RequiredApprovals != nil {
		updates["required_approvals"] = *p.RequiredApprovals
	}
	if p.AllowedRequestors != nil {
		updates["allowed_requestors"] = *p.AllowedRequestors
	}
	if p.AllowedApprovers != nil {
		updates["allowed_approvers"] = *p.AllowedApprovers
	}
	if p.SelfApprovalAllowed != nil {
		updates["self_approval_allowed"] = *p.SelfApprovalAllowed
	}
	if p.ExecutionDelaySeconds != nil {
		updates["execution_delay_seconds"] = *p.ExecutionDelaySeconds
	}
	if p.ReversibilityWindowSeconds != nil {
		updates["reversibility_window_seconds"] = *p.ReversibilityWindowSeconds
	}
	if p.Enabled != nil {
		if !*p.Enabled && policy.IsSystemDefault {
			// Disabling a system default would leave its action type ungoverned.
			return "", fmt.Errorf("system default policy %s cannot be disabled", p.ActionType)
		}
		updates["enabled"] = *p.Enabled
	}
	if len(updates) == 0 {
		return string(snapshot), nil
	}

	if err := tx.Model(&policy).Updates(updates).Error; err != nil {
		return "", err
	}
	return string(snapshot), nil
}

func (e *policyExecutor) Reverse(tx *gorm.DB, action *models.PendingAction) error {
	var prev models.Policy
	if err := json.Unmarshal([]byte(action.ExecutionSnapshot), &prev); err != nil {
		return fmt.Errorf("unusable execution snapshot: %w", err)
	}

	return tx.Model(&models.Policy{}).Where("action_type = ?", prev.ActionType).
		Updates(map[string]interface{}{
			"description":                  prev.Description,
			"required_approvals":           prev.RequiredApprovals,
			"allowed_requestors":           prev.AllowedRequestors,
			"allowed_approvers":            prev.AllowedApprovers,
			"self_approval_allowed":        prev.SelfApprovalAllowed,
			"execution_delay_seconds":      prev.ExecutionDelaySeconds,
			"reversibility_window_seconds": prev.ReversibilityWindowSeconds,
			"enabled":                      prev.Enabled,
		}).Error
}

// recoveryExecutor implements SYSTEM_RECOVERY.
type recoveryExecutor struct{}

func (e *recoveryExecutor) ValidatePayload(raw json.RawMessage) error {
	var p RecoveryPayload
	if err := strictUnmarshal(raw, &p); err != nil {
		return err
	}
	if p.TargetUserID == "" {
		return fmt.Errorf("%w: target_user_id is required", ErrInvalidPayload)
	}
	return nil
}

func (e *recoveryExecutor) TargetUID(json.RawMessage) (string, bool) { return "", false }

func (e *recoveryExecutor) Execute(tx *gorm.DB, action *models.PendingAction) (string, error) {
	var p RecoveryPayload
	if err := json.Unmarshal([]byte(action.Payload), &p); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var target models.User
	if err := tx.Where("uuid = ?", p.TargetUserID).First(&target).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("target account %s does not exist", p.TargetUserID)
		}
		return "", err
	}

	snapshot, err := json.Marshal(userSnapshot{
		UUID: target.UUID, Email: target.Email, Name: target.Name,
		Role: target.Role, Status: target.Status,
	})
	if err != nil {
		return "", err
	}

	if err := tx.Model(&target).Updates(map[string]interface{}{
		"role":   models.RoleAdmin,
		"status": models.StatusActive,
	}).Error; err != nil {
		return "", err
	}
	return string(snapshot), nil
}

func (e *recoveryExecutor) Reverse(tx *gorm.DB, action *models.PendingAction) error {
	var snap userSnapshot
	if err := json.Unmarshal([]byte(action.ExecutionSnapshot), &snap); err != nil {
		return fmt.Errorf("unusable execution snapshot: %w", err)
	}
	return tx.Model(&models.User{}).Where("uuid = ?", snap.UUID).
		Updates(map[string]interface{}{"role": snap.Role, "status": snap.Status}).Error
}

// disableAuditExecutor implements DISABLE_AUDIT.
type disableAuditExecutor struct {
	audit *AuditService
}

func (e *disableAuditExecutor) ValidatePayload(raw json.RawMessage) error {
	var p DisableAuditPayload
	if err := strictUnmarshal(raw, &p); err != nil {
		return err
	}
	if !p.Acknowledged {
		return fmt.Errorf("%w: acknowledged must be true", ErrInvalidPayload)
	}
	return nil
}

func (e *disableAuditExecutor) TargetUID(json.RawMessage) (string, bool) { return "", false }

func (e *disableAuditExecutor) Execute(tx *gorm.DB, action *models.PendingAction) (string, error) {
	return "", e.audit.Disable(tx, action.RequestedBy, action.RequestIP)
}

func (e *disableAuditExecutor) Reverse(*gorm.DB, *models.PendingAction) error {
	return ErrNotReversible
}

// strictUnmarshal decodes a payload against its schema type, rejecting
// fields the type does not declare. Typos like "target_userid" surface at
// create time instead of silently validating an empty struct.
func strictUnmarshal(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: payload is required", ErrInvalidPayload)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// defaultExecutors wires one executor per governed action type.
func defaultExecutors(audit *AuditService, lockout *LockoutService) map[string]Executor {
	return map[string]Executor{
		models.ActionDeleteAdmin:     &adminAccountExecutor{actionType: models.ActionDeleteAdmin, lockout: lockout},
		models.ActionDemoteAdmin:     &adminAccountExecutor{actionType: models.ActionDemoteAdmin, lockout: lockout},
		models.ActionDeactivateAdmin: &adminAccountExecutor{actionType: models.ActionDeactivateAdmin, lockout: lockout},
		models.ActionModifyPolicy:    &policyExecutor{},
		models.ActionSystemRecovery:  &recoveryExecutor{},
		models.ActionDisableAudit:    &disableAuditExecutor{audit: audit},
	}
}
