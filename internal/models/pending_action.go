package models

import (
	"time"
)

// ActionStatus represents the state of a pending governance action.
type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusApproved  ActionStatus = "approved"
	ActionStatusExecuted  ActionStatus = "executed"
	ActionStatusCancelled ActionStatus = "cancelled"
	ActionStatusVetoed    ActionStatus = "vetoed"
	ActionStatusExpired   ActionStatus = "expired"
	ActionStatusReversed  ActionStatus = "reversed"
)

// PendingActionTTL is how long a request may sit unapproved before expiring.
const PendingActionTTL = 24 * time.Hour

// PendingAction is one in-flight or historical multi-party approval request.
// Rows are never deleted; terminal rows are the approval history.
type PendingAction struct {
	ID         uint         `json:"id" gorm:"primaryKey"`
	UUID       string       `json:"uuid" gorm:"uniqueIndex"`
	ActionType string       `json:"action_type" gorm:"index"`
	Status     ActionStatus `json:"status" gorm:"index;default:'pending'"`

	RequestedBy string `json:"requested_by"` // subject UUID of the requestor
	Payload     string `json:"payload" gorm:"type:text"`
	Reason      string `json:"reason"`
	RequestIP   string `json:"request_ip"`

	// RequiredApprovals is snapshotted from the policy at creation time so a
	// later policy change never retroactively affects an in-flight action.
	RequiredApprovals int `json:"required_approvals"`

	Approvals []Approval `json:"approvals" gorm:"foreignKey:PendingActionID"`

	VetoedBy   string     `json:"vetoed_by,omitempty"`
	VetoReason string     `json:"veto_reason,omitempty"`
	VetoedAt   *time.Time `json:"vetoed_at,omitempty"`

	ApprovedAt           *time.Time `json:"approved_at,omitempty"`
	ScheduledExecutionAt *time.Time `json:"scheduled_execution_at,omitempty"`
	ExecutedAt           *time.Time `json:"executed_at,omitempty"`

	// ExecutionSnapshot stores the pre-execution state the executor needs to
	// compensate inside the reversibility window.
	ExecutionSnapshot string `json:"-" gorm:"type:text"`

	ReversibleUntil *time.Time `json:"reversible_until,omitempty"`
	ReversedAt      *time.Time `json:"reversed_at,omitempty"`
	ReversedBy      string     `json:"reversed_by,omitempty"`

	ExpiresAt time.Time `json:"expires_at"`

	// Version implements optimistic concurrency: every status transition and
	// approval append must match the version it read or retry.
	Version int `json:"-" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Approval is one approver's vote on a pending action. The composite unique
// index makes a duplicate approval lose the race at the database, not just in
// application code.
type Approval struct {
	ID              uint      `json:"-" gorm:"primaryKey"`
	PendingActionID uint      `json:"-" gorm:"uniqueIndex:idx_action_approver"`
	ApproverUID     string    `json:"approver" gorm:"uniqueIndex:idx_action_approver"`
	Comment         string    `json:"comment,omitempty"`
	CreatedAt       time.Time `json:"timestamp"`
}

// IsTerminal reports whether no further transition is possible.
func (a *PendingAction) IsTerminal() bool {
	switch a.Status {
	case ActionStatusExecuted, ActionStatusCancelled, ActionStatusVetoed,
		ActionStatusExpired, ActionStatusReversed:
		return true
	}
	return false
}

// ExpiredAt reports whether the action's approval window has passed at the
// given instant. Expiry is discovered lazily on access as well as by the
// periodic sweep.
func (a *PendingAction) ExpiredAt(now time.Time) bool {
	return a.Status == ActionStatusPending && now.After(a.ExpiresAt)
}

// HasApprover reports whether the principal already approved this action.
func (a *PendingAction) HasApprover(uid string) bool {
	for _, ap := range a.Approvals {
		if ap.ApproverUID == uid {
			return true
		}
	}
	return false
}
