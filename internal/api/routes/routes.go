package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/gatehouse-sh/gatehouse/backend/internal/api/handlers"
	"github.com/gatehouse-sh/gatehouse/backend/internal/api/middleware"
	"github.com/gatehouse-sh/gatehouse/backend/internal/config"
	"github.com/gatehouse-sh/gatehouse/backend/internal/identity"
	"github.com/gatehouse-sh/gatehouse/backend/internal/metrics"
	"github.com/gatehouse-sh/gatehouse/backend/internal/models"
	"github.com/gatehouse-sh/gatehouse/backend/internal/services"
)

// Deps holds the wired services so the server can also hand them to the
// expiry sweep and CLI verbs.
type Deps struct {
	Audit    *services.AuditService
	Workflow *services.WorkflowService
}

// Register wires up API routes and performs automatic migrations.
func Register(router *gin.Engine, db *gorm.DB, cfg config.Config) (*Deps, error) {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Policy{},
		&models.PendingAction{},
		&models.Approval{},
		&models.AuditEntry{},
		&models.BootstrapLock{},
		&models.Setting{},
		&identity.Account{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	authority := identity.NewLocalAuthority(db)
	alertService := services.NewAlertService(cfg.AlertURLs)
	auditService := services.NewAuditService(db)
	policyService := services.NewPolicyService(db)
	lockoutService := services.NewLockoutService(db)
	workflowService := services.NewWorkflowService(db, auditService, policyService, lockoutService, alertService)
	bootstrapService := services.NewBootstrapService(db, authority, auditService, policyService, alertService, cfg.RecoveryTokenHash)
	authService := services.NewAuthService(db, authority, cfg)

	authHandler := handlers.NewAuthHandler(authService, cfg.IsProduction())
	govHandler := handlers.NewGovernanceHandler(bootstrapService, policyService, workflowService, lockoutService, auditService)
	userHandler := handlers.NewUserHandler(db)
	authMiddleware := middleware.AuthMiddleware(authService)

	router.GET("/api/v1/health", handlers.HealthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")

	api.POST("/auth/login", authHandler.Login)

	gov := api.Group("/governance")
	gov.GET("/status", govHandler.Status)
	gov.POST("/bootstrap-admin", govHandler.BootstrapAdmin)
	gov.POST("/admin-recovery", govHandler.AdminRecovery)

	protected := api.Group("/")
	protected.Use(authMiddleware)
	{
		protected.POST("/auth/logout", authHandler.Logout)
		protected.GET("/auth/me", authHandler.Me)
	}

	admin := api.Group("/")
	admin.Use(authMiddleware, middleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/users", userHandler.ListUsers)
		admin.GET("/users/:id", userHandler.GetUser)

		admin.GET("/governance/policies", govHandler.ListPolicies)
		admin.GET("/governance/pending-actions", govHandler.ListPendingActions)
		admin.GET("/governance/pending-actions/history", govHandler.ListActionHistory)
		admin.POST("/governance/pending-actions", govHandler.CreateAction)
		admin.POST("/governance/pending-actions/:id/approve", govHandler.ApproveAction)
		admin.POST("/governance/pending-actions/:id/veto", govHandler.VetoAction)
		admin.POST("/governance/pending-actions/:id/cancel", govHandler.CancelAction)
		admin.POST("/governance/pending-actions/:id/execute", govHandler.ExecuteAction)
		admin.POST("/governance/pending-actions/:id/reverse", govHandler.ReverseAction)
		admin.GET("/governance/audit", govHandler.ListAudit)
		admin.GET("/governance/audit/verify", govHandler.VerifyAudit)
		admin.GET("/governance/admin-safety", govHandler.AdminSafety)
	}

	return &Deps{Audit: auditService, Workflow: workflowService}, nil
}
