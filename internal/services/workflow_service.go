package services

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gatehouse-sh/gatehouse/backend/internal/logger"
	"github.com/gatehouse-sh/gatehouse/backend/internal/metrics"
	"github.com/gatehouse-sh/gatehouse/backend/internal/models"
)

// transitionRetries bounds the optimistic-concurrency retry loop. Conflicts
// only happen when two callers race the same action document.
const transitionRetries = 3

// WorkflowService is the multi-party approval state machine. Every mutation
// is a version-checked single-document transition, so two racing callers
// cannot both observe "quorum not reached" and double-count, and a veto and
// an execute can never both land on the same action.
type WorkflowService struct {
	db        *gorm.DB
	audit     *AuditService
	policies  *PolicyService
	lockout   *LockoutService
	alerts    *AlertService
	executors map[string]Executor
}

// NewWorkflowService wires the state machine with the default executor set.
func NewWorkflowService(db *gorm.DB, audit *AuditService, policies *PolicyService, lockout *LockoutService, alerts *AlertService) *WorkflowService {
	return &WorkflowService{
		db:        db,
		audit:     audit,
		policies:  policies,
		lockout:   lockout,
		alerts:    alerts,
		executors: defaultExecutors(audit, lockout),
	}
}

// Create opens a new pending action after policy, role, payload and lockout
// checks. RequiredApprovals is snapshotted from the policy so later policy
// changes never retroactively affect this action.
func (s *WorkflowService) Create(actionType string, requestor *models.User, payload json.RawMessage, reason, ip string) (*models.PendingAction, error) {
	policy, err := s.policies.Get(actionType)
	if err != nil {
		return nil, err
	}
	if !policy.RequestorAllowed(requestor.Role) {
		return nil, ErrPermissionDenied
	}

	executor, ok := s.executors[actionType]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	if err := executor.ValidatePayload(payload); err != nil {
		return nil, err
	}

	if target, affects := executor.TargetUID(payload); affects {
		report, err := s.lockout.CheckSafety(target)
		if err != nil {
			return nil, err
		}
		if err := report.Require(); err != nil {
			s.audit.Append(AuditLockoutBlocked, "pending_action", "", &requestor.UUID, map[string]interface{}{
				"action_type":     actionType,
				"target":          target,
				"active_admins":   report.ActiveAdminCount,
				"resulting_count": report.ResultingCount,
				"code":            "LAST_ADMIN_PROTECTION",
			}, ip)
			s.alerts.SecurityEvent(AuditLockoutBlocked, map[string]interface{}{
				"action_type":  actionType,
				"requested_by": requestor.Email,
			})
			return nil, err
		}
	}

	now := time.Now().UTC()
	action := models.PendingAction{
		UUID:              uuid.NewString(),
		ActionType:        actionType,
		Status:            models.ActionStatusPending,
		RequestedBy:       requestor.UUID,
		Payload:           string(payload),
		Reason:            reason,
		RequestIP:         ip,
		RequiredApprovals: policy.RequiredApprovals,
		ExpiresAt:         now.Add(models.PendingActionTTL),
	}
	if err := s.db.Create(&action).Error; err != nil {
		return nil, err
	}

	metrics.IncActionCreated()
	s.audit.Append(AuditActionCreated, "pending_action", action.UUID, &requestor.UUID, map[string]interface{}{
		"action_type":        actionType,
		"reason":             reason,
		"required_approvals": policy.RequiredApprovals,
		"expires_at":         action.ExpiresAt.Format(time.RFC3339),
	}, ip)

	return &action, nil
}

// Approve records one approver's vote and transitions the action to approved
// when the quorum snapshot is met. The duplicate and separation-of-powers
// checks are evaluated against the same read the version check protects.
func (s *WorkflowService) Approve(actionUUID string, approver *models.User, comment, ip string) (*models.PendingAction, error) {
	for attempt := 0; attempt < transitionRetries; attempt++ {
		action, err := s.load(actionUUID)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		if action.ExpiredAt(now) {
			s.expire(action, ip)
			return nil, ErrActionExpired
		}
		if action.Status != models.ActionStatusPending {
			return nil, &StateError{Current: string(action.Status)}
		}

		policy, err := s.policies.Get(action.ActionType)
		if err != nil {
			return nil, err
		}
		if !policy.ApproverAllowed(approver.Role) {
			return nil, ErrPermissionDenied
		}
		if approver.UUID == action.RequestedBy && !policy.SelfApprovalAllowed {
			s.audit.Append(AuditSeparationBlocked, "pending_action", action.UUID, &approver.UUID, map[string]interface{}{
				"action_type": action.ActionType,
			}, ip)
			s.alerts.SecurityEvent(AuditSeparationBlocked, map[string]interface{}{
				"action": action.UUID, "approver": approver.Email,
			})
			return nil, ErrSeparationOfPowers
		}
		if action.HasApprover(approver.UUID) {
			return nil, ErrDuplicateApproval
		}

		executor, ok := s.executors[action.ActionType]
		if !ok {
			return nil, ErrPolicyNotFound
		}
		if target, affects := executor.TargetUID(json.RawMessage(action.Payload)); affects {
			report, err := s.lockout.CheckSafety(target)
			if err != nil {
				return nil, err
			}
			if err := report.Require(); err != nil {
				return nil, err
			}
		}

		quorumReached := false
		err = s.db.Transaction(func(tx *gorm.DB) error {
			approval := models.Approval{
				PendingActionID: action.ID,
				ApproverUID:     approver.UUID,
				Comment:         comment,
				CreatedAt:       now,
			}
			if err := tx.Create(&approval).Error; err != nil {
				if strings.Contains(err.Error(), "UNIQUE") {
					return ErrDuplicateApproval
				}
				return err
			}

			var count int64
			if err := tx.Model(&models.Approval{}).
				Where("pending_action_id = ?", action.ID).
				Count(&count).Error; err != nil {
				return err
			}

			updates := map[string]interface{}{"version": action.Version + 1}
			if int(count) >= action.RequiredApprovals {
				quorumReached = true
				scheduled := now.Add(time.Duration(policy.ExecutionDelaySeconds) * time.Second)
				updates["status"] = models.ActionStatusApproved
				updates["approved_at"] = now
				updates["scheduled_execution_at"] = scheduled
			}

			res := tx.Model(&models.PendingAction{}).
				Where("id = ? AND status = ? AND version = ?", action.ID, models.ActionStatusPending, action.Version).
				Updates(updates)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrConflict
			}
			return nil
		})
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if quorumReached {
			metrics.IncActionApproved()
		}
		s.audit.Append(AuditActionApproved, "pending_action", action.UUID, &approver.UUID, map[string]interface{}{
			"action_type":    action.ActionType,
			"comment":        comment,
			"quorum_reached": quorumReached,
		}, ip)

		return s.load(actionUUID)
	}
	return nil, ErrConflict
}

// Veto permanently blocks a pending or approved action. Any administrator
// may veto, not only eligible approvers; that is the collusion-resistance
// property. After the execution delay has passed the safety valve is closed.
func (s *WorkflowService) Veto(actionUUID string, vetoer *models.User, reason, ip string) (*models.PendingAction, error) {
	if vetoer.Role != models.RoleAdmin {
		return nil, ErrPermissionDenied
	}

	for attempt := 0; attempt < transitionRetries; attempt++ {
		action, err := s.load(actionUUID)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		if action.ExpiredAt(now) {
			s.expire(action, ip)
			return nil, ErrActionExpired
		}

		switch action.Status {
		case models.ActionStatusPending:
		case models.ActionStatusApproved:
			if action.ScheduledExecutionAt != nil && !now.Before(*action.ScheduledExecutionAt) {
				return nil, ErrVetoWindowClosed
			}
		default:
			return nil, &StateError{Current: string(action.Status)}
		}

		res := s.db.Model(&models.PendingAction{}).
			Where("id = ? AND status = ? AND version = ?", action.ID, action.Status, action.Version).
			Updates(map[string]interface{}{
				"status":      models.ActionStatusVetoed,
				"vetoed_by":   vetoer.UUID,
				"veto_reason": reason,
				"vetoed_at":   now,
				"version":     action.Version + 1,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}

		metrics.IncActionVetoed()
		s.audit.Append(AuditActionVetoed, "pending_action", action.UUID, &vetoer.UUID, map[string]interface{}{
			"action_type": action.ActionType,
			"reason":      reason,
			"was_status":  string(action.Status),
		}, ip)

		return s.load(actionUUID)
	}
	return nil, ErrConflict
}

// Cancel withdraws a pending action. Only the original requestor may cancel.
func (s *WorkflowService) Cancel(actionUUID string, requestor *models.User, ip string) (*models.PendingAction, error) {
	for attempt := 0; attempt < transitionRetries; attempt++ {
		action, err := s.load(actionUUID)
		if err != nil {
			return nil, err
		}
		if action.RequestedBy != requestor.UUID {
			return nil, ErrNotRequestor
		}
		if action.Status != models.ActionStatusPending {
			return nil, &StateError{Current: string(action.Status)}
		}

		res := s.db.Model(&models.PendingAction{}).
			Where("id = ? AND status = ? AND version = ?", action.ID, models.ActionStatusPending, action.Version).
			Updates(map[string]interface{}{
				"status":  models.ActionStatusCancelled,
				"version": action.Version + 1,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}

		s.audit.Append(AuditActionCancelled, "pending_action", action.UUID, &requestor.UUID, map[string]interface{}{
			"action_type": action.ActionType,
		}, ip)

		return s.load(actionUUID)
	}
	return nil, ErrConflict
}

// Execute applies an approved action's effect once the delay has elapsed.
// The version-checked claim of the approved status is the sole guard against
// a veto landing at the same instant: whichever transition wins the version
// check invalidates the other.
func (s *WorkflowService) Execute(actionUUID string, operator *models.User, ip string) (*models.PendingAction, error) {
	action, err := s.load(actionUUID)
	if err != nil {
		return nil, err
	}
	if action.Status != models.ActionStatusApproved {
		return nil, &StateError{Current: string(action.Status)}
	}

	now := time.Now().UTC()
	if action.ScheduledExecutionAt == nil || now.Before(*action.ScheduledExecutionAt) {
		return nil, ErrExecutionNotDue
	}

	policy, err := s.policies.Get(action.ActionType)
	if err != nil {
		return nil, err
	}
	executor, ok := s.executors[action.ActionType]
	if !ok {
		return nil, ErrPolicyNotFound
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":      models.ActionStatusExecuted,
			"executed_at": now,
			"version":     action.Version + 1,
		}
		if policy.ReversibilityWindowSeconds > 0 {
			updates["reversible_until"] = now.Add(time.Duration(policy.ReversibilityWindowSeconds) * time.Second)
		}

		res := tx.Model(&models.PendingAction{}).
			Where("id = ? AND status = ? AND version = ?", action.ID, models.ActionStatusApproved, action.Version).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// A veto (or a concurrent execute) won the race.
			return ErrConflict
		}

		snapshot, err := executor.Execute(tx, action)
		if err != nil {
			return err
		}
		if snapshot != "" {
			if err := tx.Model(&models.PendingAction{}).Where("id = ?", action.ID).
				Update("execution_snapshot", snapshot).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			refreshed, loadErr := s.load(actionUUID)
			if loadErr == nil {
				return nil, &StateError{Current: string(refreshed.Status)}
			}
		}
		return nil, err
	}

	metrics.IncActionExecuted()
	s.audit.Append(AuditActionExecuted, "pending_action", action.UUID, &operator.UUID, map[string]interface{}{
		"action_type": action.ActionType,
	}, ip)

	return s.load(actionUUID)
}

// Reverse compensates an executed action inside its reversibility window.
// Reversal is a policy-declared capability, not a universal guarantee.
func (s *WorkflowService) Reverse(actionUUID string, operator *models.User, ip string) (*models.PendingAction, error) {
	if operator.Role != models.RoleAdmin {
		return nil, ErrPermissionDenied
	}

	action, err := s.load(actionUUID)
	if err != nil {
		return nil, err
	}
	if action.Status != models.ActionStatusExecuted {
		return nil, &StateError{Current: string(action.Status)}
	}
	if action.ReversibleUntil == nil {
		return nil, ErrNotReversible
	}
	now := time.Now().UTC()
	if !now.Before(*action.ReversibleUntil) {
		return nil, ErrReversalWindowClosed
	}

	executor, ok := s.executors[action.ActionType]
	if !ok {
		return nil, ErrNotReversible
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := executor.Reverse(tx, action); err != nil {
			return err
		}
		res := tx.Model(&models.PendingAction{}).
			Where("id = ? AND status = ? AND version = ?", action.ID, models.ActionStatusExecuted, action.Version).
			Updates(map[string]interface{}{
				"status":      models.ActionStatusReversed,
				"reversed_at": now,
				"reversed_by": operator.UUID,
				"version":     action.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Append(AuditActionReversed, "pending_action", action.UUID, &operator.UUID, map[string]interface{}{
		"action_type": action.ActionType,
	}, ip)

	return s.load(actionUUID)
}

// SweepExpired batch-transitions overdue pending actions to expired. Each
// transition is conditioned on current status, so concurrent sweeps and lazy
// per-access expiry re-apply as no-ops.
func (s *WorkflowService) SweepExpired() (int, error) {
	res := s.db.Model(&models.PendingAction{}).
		Where("status = ? AND expires_at < ?", models.ActionStatusPending, time.Now().UTC()).
		Updates(map[string]interface{}{
			"status":  models.ActionStatusExpired,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return 0, res.Error
	}

	n := int(res.RowsAffected)
	if n > 0 {
		metrics.AddActionsExpired(n)
		s.audit.Append(AuditActionExpired, "pending_action", "", nil, map[string]interface{}{
			"expired_count": n,
		}, "")
		logger.WithFields(map[string]interface{}{"count": n}).Info("expired overdue pending actions")
	}
	return n, nil
}

// ListOpen returns pending and approved actions, sweeping overdue ones first.
func (s *WorkflowService) ListOpen() ([]models.PendingAction, error) {
	if _, err := s.SweepExpired(); err != nil {
		return nil, err
	}
	var actions []models.PendingAction
	err := s.db.Preload("Approvals").
		Where("status IN ?", []models.ActionStatus{models.ActionStatusPending, models.ActionStatusApproved}).
		Order("created_at desc").
		Find(&actions).Error
	return actions, err
}

// ListHistory returns the newest terminal actions.
func (s *WorkflowService) ListHistory(limit int) ([]models.PendingAction, error) {
	if limit <= 0 {
		limit = 100
	}
	var actions []models.PendingAction
	err := s.db.Preload("Approvals").
		Where("status IN ?", []models.ActionStatus{
			models.ActionStatusExecuted, models.ActionStatusCancelled,
			models.ActionStatusVetoed, models.ActionStatusExpired,
			models.ActionStatusReversed,
		}).
		Order("created_at desc").
		Limit(limit).
		Find(&actions).Error
	return actions, err
}

// Get returns one action by UUID, applying lazy expiry.
func (s *WorkflowService) Get(actionUUID string) (*models.PendingAction, error) {
	action, err := s.load(actionUUID)
	if err != nil {
		return nil, err
	}
	if action.ExpiredAt(time.Now().UTC()) {
		s.expire(action, "")
		return s.load(actionUUID)
	}
	return action, nil
}

func (s *WorkflowService) load(actionUUID string) (*models.PendingAction, error) {
	var action models.PendingAction
	if err := s.db.Preload("Approvals").Where("uuid = ?", actionUUID).First(&action).Error; err != nil {
		return nil, err
	}
	return &action, nil
}

// expire applies lazy expiry to a single action. Losing the version race
// means someone else already transitioned it, which is fine.
func (s *WorkflowService) expire(action *models.PendingAction, ip string) {
	res := s.db.Model(&models.PendingAction{}).
		Where("id = ? AND status = ? AND version = ?", action.ID, models.ActionStatusPending, action.Version).
		Updates(map[string]interface{}{
			"status":  models.ActionStatusExpired,
			"version": action.Version + 1,
		})
	if res.Error == nil && res.RowsAffected > 0 {
		metrics.AddActionsExpired(1)
		s.audit.Append(AuditActionExpired, "pending_action", action.UUID, nil, map[string]interface{}{
			"action_type": action.ActionType,
		}, ip)
	}
}
