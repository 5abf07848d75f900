package main

import (
	"context"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/po-assignment-api/internal/handler"
	"github.com/noah-isme/po-assignment-api/internal/middleware"
	"github.com/noah-isme/po-assignment-api/internal/models"
	"github.com/noah-isme/po-assignment-api/internal/service"
	"github.com/noah-isme/po-assignment-api/pkg/config"
	"github.com/noah-isme/po-assignment-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/po-assignment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/po-assignment-api/pkg/middleware/requestid"
)

type tokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

type userFinder interface {
	FindByID(ctx context.Context, id string) (*models.InternalUser, error)
}

type routerDeps struct {
	auth        tokenValidator
	users       userFinder
	metrics     *service.MetricsService
	authH       *handler.AuthHandler
	userH       *handler.UserHandler
	assignmentH *handler.AssignmentHandler
	metricsH    *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	if deps.metrics != nil {
		r.Use(middleware.Metrics(deps.metrics))
		r.GET("/metrics", deps.metricsH.Prometheus)
	}

	r.GET("/health", deps.metricsH.Health)
	r.GET("/ready", deps.metricsH.Ready)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta())

	auth := api.Group("/auth")
	auth.POST("/login", deps.authH.Login)
	auth.POST("/refresh", deps.authH.Refresh)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.auth))
	secured.POST("/auth/logout", deps.authH.Logout)
	secured.GET("/auth/me", deps.authH.Me)
	secured.POST("/auth/change-password", deps.authH.ChangePassword)

	pm := middleware.RequireCapability(deps.users, middleware.CapCreateAssignments)
	approver := middleware.RequireCapability(deps.users, middleware.CapApprove)
	admin := middleware.RequireCapability(deps.users, middleware.CapAdmin)

	users := secured.Group("/users")
	users.POST("", deps.userH.Create)
	users.GET("", admin, deps.userH.List)
	users.POST("/sbc", admin, deps.userH.CreateSBC)
	users.GET("/stats/overview", admin, deps.userH.Stats)
	users.GET("/:id", deps.userH.Get)
	users.PUT("/:id", deps.userH.Update)
	users.DELETE("/:id", admin, deps.userH.Deactivate)
	users.POST("/:id/activate", admin, deps.userH.Activate)
	users.POST("/:id/grant-approval", admin, deps.userH.GrantApproval)
	users.POST("/:id/revoke-approval", admin, deps.userH.RevokeApproval)

	assignments := secured.Group("/assignments")
	assignments.POST("/bulk", pm, deps.assignmentH.BulkCreate)
	assignments.POST("", pm, deps.assignmentH.Create)
	assignments.PUT("/:id", deps.assignmentH.Update)
	assignments.POST("/:id/submit", deps.assignmentH.Submit)
	assignments.POST("/:id/approve", approver, deps.assignmentH.Approve)
	assignments.POST("/:id/reject", approver, deps.assignmentH.Reject)
	assignments.POST("/:id/cancel", deps.assignmentH.Cancel)

	assignments.GET("/my", deps.assignmentH.ListMine)
	assignments.GET("/pending", approver, deps.assignmentH.ListPending)
	assignments.GET("/my-work", middleware.RequireRoles(models.RoleSBC), deps.assignmentH.ListMyWork)
	assignments.GET("/stats", admin, deps.assignmentH.Stats)
	assignments.GET("/export", admin, deps.assignmentH.Export)
	assignments.GET("", admin, deps.assignmentH.ListAll)
	assignments.GET("/:id", deps.assignmentH.Get)

	return r
}
