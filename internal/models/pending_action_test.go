package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPendingAction_IsTerminal(t *testing.T) {
	terminal := []ActionStatus{
		ActionStatusExecuted, ActionStatusCancelled, ActionStatusVetoed,
		ActionStatusExpired, ActionStatusReversed,
	}
	for _, s := range terminal {
		a := &PendingAction{Status: s}
		assert.True(t, a.IsTerminal(), "status %s should be terminal", s)
	}

	assert.False(t, (&PendingAction{Status: ActionStatusPending}).IsTerminal())
	assert.False(t, (&PendingAction{Status: ActionStatusApproved}).IsTerminal())
}

func TestPendingAction_ExpiredAt(t *testing.T) {
	now := time.Now().UTC()
	a := &PendingAction{Status: ActionStatusPending, ExpiresAt: now.Add(time.Hour)}
	assert.False(t, a.ExpiredAt(now))
	assert.True(t, a.ExpiredAt(now.Add(2*time.Hour)))

	// Only pending actions expire; approved ones are bounded by the veto
	// window instead.
	approved := &PendingAction{Status: ActionStatusApproved, ExpiresAt: now.Add(-time.Hour)}
	assert.False(t, approved.ExpiredAt(now))
}

func TestPendingAction_HasApprover(t *testing.T) {
	a := &PendingAction{Approvals: []Approval{
		{ApproverUID: "uid-1"},
		{ApproverUID: "uid-2"},
	}}
	assert.True(t, a.HasApprover("uid-1"))
	assert.False(t, a.HasApprover("uid-3"))
}
