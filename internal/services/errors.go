package services

import (
	"errors"
	"fmt"
)

// Governance failures are all recoverable by the caller; handlers map them to
// HTTP statuses and machine-readable codes with errors.Is.
var (
	ErrPolicyNotFound         = errors.New("ungoverned action: no enabled policy for this action type")
	ErrPermissionDenied       = errors.New("role is not permitted to perform this operation")
	ErrSeparationOfPowers     = errors.New("separation of powers: requestor cannot approve their own request")
	ErrDuplicateApproval      = errors.New("approver has already approved this action")
	ErrInvalidStateTransition = errors.New("action is not in an applicable status")
	ErrActionExpired          = errors.New("action has expired")
	ErrLockoutViolation       = errors.New("action would breach the minimum active administrator count")
	ErrNotRequestor           = errors.New("only the original requestor may cancel")
	ErrVetoWindowClosed       = errors.New("execution delay has passed")
	ErrExecutionNotDue        = errors.New("execution delay has not elapsed")
	ErrNotReversible          = errors.New("action is not reversible")
	ErrReversalWindowClosed   = errors.New("reversibility window has closed")
	ErrInvalidPayload         = errors.New("invalid action payload")
	ErrConflict               = errors.New("concurrent update conflict, retry")

	ErrAlreadyBootstrapped   = errors.New("system already initialized")
	ErrRecoveryMisconfigured = errors.New("recovery is not configured")
	ErrRecoveryUnauthorized  = errors.New("recovery token rejected")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountInactive    = errors.New("account inactive")
)

// LockoutError carries the admin counts behind a lockout refusal so the
// caller can see how close the system is to the floor.
type LockoutError struct {
	ActiveAdmins   int
	ResultingCount int
	Minimum        int
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("%v: %d active, %d would remain, minimum %d",
		ErrLockoutViolation, e.ActiveAdmins, e.ResultingCount, e.Minimum)
}

func (e *LockoutError) Unwrap() error { return ErrLockoutViolation }

// StateError reports an operation attempted against a non-applicable status.
type StateError struct {
	Current string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%v: current status is %s", ErrInvalidStateTransition, e.Current)
}

func (e *StateError) Unwrap() error { return ErrInvalidStateTransition }
