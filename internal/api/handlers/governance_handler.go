package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gatehouse-sh/gatehouse/backend/internal/models"
	"github.com/gatehouse-sh/gatehouse/backend/internal/services"
)

// GovernanceHandler exposes the multi-party approval surface: bootstrap and
// recovery, policies, pending actions, the audit ledger, and the lockout
// safety report.
type GovernanceHandler struct {
	bootstrap *services.BootstrapService
	policies  *services.PolicyService
	workflow  *services.WorkflowService
	lockout   *services.LockoutService
	audit     *services.AuditService
}

func NewGovernanceHandler(bootstrap *services.BootstrapService, policies *services.PolicyService, workflow *services.WorkflowService, lockout *services.LockoutService, audit *services.AuditService) *GovernanceHandler {
	return &GovernanceHandler{
		bootstrap: bootstrap,
		policies:  policies,
		workflow:  workflow,
		lockout:   lockout,
		audit:     audit,
	}
}

// Status is public: installers poll it to decide whether to show the
// first-run screen.
func (h *GovernanceHandler) Status(c *gin.Context) {
	bootstrapped, initialized, err := h.bootstrap.Status()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read bootstrap state"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bootstrapped": bootstrapped, "initialized": initialized})
}

type BootstrapRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

func (h *GovernanceHandler) BootstrapAdmin(c *gin.Context) {
	var req BootstrapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.bootstrap.Bootstrap(req.Email, req.Password, req.Name, c.ClientIP())
	if err != nil {
		h.govError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

type RecoveryRequest struct {
	RecoveryToken string `json:"recoveryToken" binding:"required"`
	Email         string `json:"email" binding:"required,email"`
	Password      string `json:"password" binding:"required,min=8"`
	Name          string `json:"name" binding:"required"`
}

func (h *GovernanceHandler) AdminRecovery(c *gin.Context) {
	var req RecoveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.bootstrap.Recover(req.RecoveryToken, req.Email, req.Password, req.Name, c.ClientIP())
	if err != nil {
		h.govError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *GovernanceHandler) ListPolicies(c *gin.Context) {
	policies, err := h.policies.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list policies"})
		return
	}
	c.JSON(http.StatusOK, policies)
}

func (h *GovernanceHandler) ListPendingActions(c *gin.Context) {
	actions, err := h.workflow.ListOpen()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pending actions"})
		return
	}
	c.JSON(http.StatusOK, actions)
}

func (h *GovernanceHandler) ListActionHistory(c *gin.Context) {
	actions, err := h.workflow.ListHistory(100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list action history"})
		return
	}
	c.JSON(http.StatusOK, actions)
}

type CreateActionRequest struct {
	ActionType string          `json:"actionType" binding:"required"`
	Payload    json.RawMessage `json:"payload" binding:"required"`
	Reason     string          `json:"reason" binding:"required"`
}

func (h *GovernanceHandler) CreateAction(c *gin.Context) {
	var req CreateActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := c.MustGet("user").(*models.User)
	action, err := h.workflow.Create(req.ActionType, user, req.Payload, req.Reason, c.ClientIP())
	if err != nil {
		h.govError(c, err)
		return
	}
	c.JSON(http.StatusCreated, action)
}

type ApproveRequest struct {
	Comment string `json:"comment"`
}

func (h *GovernanceHandler) ApproveAction(c *gin.Context) {
	var req ApproveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	user := c.MustGet("user").(*models.User)
	action, err := h.workflow.Approve(c.Param("id"), user, req.Comment, c.ClientIP())
	if err != nil {
		h.govError(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

type VetoRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *GovernanceHandler) VetoAction(c *gin.Context) {
	var req VetoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "veto reason is required"})
		return
	}

	user := c.MustGet("user").(*models.User)
	action, err := h.workflow.Veto(c.Param("id"), user, req.Reason, c.ClientIP())
	if err != nil {
		h.govError(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

func (h *GovernanceHandler) CancelAction(c *gin.Context) {
	user := c.MustGet("user").(*models.User)
	action, err := h.workflow.Cancel(c.Param("id"), user, c.ClientIP())
	if err != nil {
		h.govError(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

func (h *GovernanceHandler) ExecuteAction(c *gin.Context) {
	user := c.MustGet("user").(*models.User)
	action, err := h.workflow.Execute(c.Param("id"), user, c.ClientIP())
	if err != nil {
		h.govError(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

func (h *GovernanceHandler) ReverseAction(c *gin.Context) {
	user := c.MustGet("user").(*models.User)
	action, err := h.workflow.Reverse(c.Param("id"), user, c.ClientIP())
	if err != nil {
		h.govError(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

func (h *GovernanceHandler) VerifyAudit(c *gin.Context) {
	limit := 1000
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	result, err := h.audit.Verify(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *GovernanceHandler) ListAudit(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	entries, err := h.audit.List(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audit entries"})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *GovernanceHandler) AdminSafety(c *gin.Context) {
	summary, err := h.lockout.Summary()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute safety report"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// govError maps governance failures to HTTP statuses and machine-readable
// codes so callers can decide whether to retry, escalate, or abandon.
func (h *GovernanceHandler) govError(c *gin.Context, err error) {
	var lockout *services.LockoutError
	if errors.As(err, &lockout) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":           err.Error(),
			"code":            "LAST_ADMIN_PROTECTION",
			"active_admins":   lockout.ActiveAdmins,
			"resulting_count": lockout.ResultingCount,
			"minimum":         lockout.Minimum,
		})
		return
	}

	var state *services.StateError
	if errors.As(err, &state) {
		code := "INVALID_STATUS"
		if state.Current == string(models.ActionStatusPending) {
			code = "PENDING_APPROVAL"
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": code, "status": state.Current})
		return
	}

	switch {
	case errors.Is(err, services.ErrPolicyNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "UNGOVERNED_ACTION"})
	case errors.Is(err, services.ErrPermissionDenied):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "PERMISSION_DENIED"})
	case errors.Is(err, services.ErrSeparationOfPowers):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "SEPARATION_OF_POWERS"})
	case errors.Is(err, services.ErrDuplicateApproval):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "DUPLICATE_APPROVAL"})
	case errors.Is(err, services.ErrActionExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "EXPIRED"})
	case errors.Is(err, services.ErrNotRequestor):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "NOT_REQUESTOR"})
	case errors.Is(err, services.ErrVetoWindowClosed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VETO_WINDOW_CLOSED"})
	case errors.Is(err, services.ErrExecutionNotDue):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "EXECUTION_NOT_DUE"})
	case errors.Is(err, services.ErrNotReversible):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "NOT_REVERSIBLE"})
	case errors.Is(err, services.ErrReversalWindowClosed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "REVERSAL_WINDOW_CLOSED"})
	case errors.Is(err, services.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_PAYLOAD"})
	case errors.Is(err, services.ErrAlreadyBootstrapped):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "ALREADY_BOOTSTRAPPED"})
	case errors.Is(err, services.ErrRecoveryMisconfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "code": "RECOVERY_NOT_CONFIGURED"})
	case errors.Is(err, services.ErrRecoveryUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "code": "RECOVERY_UNAUTHORIZED"})
	case errors.Is(err, services.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "CONFLICT"})
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "action not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
