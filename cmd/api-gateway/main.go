package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	_ "github.com/noah-isme/po-assignment-api/api/swagger"
	"github.com/noah-isme/po-assignment-api/internal/handler"
	"github.com/noah-isme/po-assignment-api/internal/models"
	"github.com/noah-isme/po-assignment-api/internal/repository"
	"github.com/noah-isme/po-assignment-api/internal/service"
	"github.com/noah-isme/po-assignment-api/pkg/cache"
	"github.com/noah-isme/po-assignment-api/pkg/config"
	"github.com/noah-isme/po-assignment-api/pkg/database"
	"github.com/noah-isme/po-assignment-api/pkg/export"
	"github.com/noah-isme/po-assignment-api/pkg/jobs"
	"github.com/noah-isme/po-assignment-api/pkg/logger"
)

// @title Internal PO Assignment API
// @version 1.0.0
// @description Assigns external purchase order lines to subcontractors through a configurable approval workflow.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect redis", zap.Error(err))
	}

	var metrics *service.MetricsService
	if cfg.Metrics.Enabled {
		metrics = service.NewMetricsService()
	}

	validate := validator.New()
	userRepo := repository.NewUserRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, "po", logr)
	defer cacheRepo.Close() //nolint:errcheck

	audit := service.NewAuditDispatcher(userRepo, jobs.QueueConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
		MaxRetries: cfg.Audit.MaxRetries,
		RetryDelay: cfg.Audit.RetryDelay,
		Logger:     logr,
	})
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Assignments.StatsCacheTTL, logr, redisClient != nil)

	machine := service.NewStateMachine(models.ApprovalTopology(cfg.Assignments.ApprovalTopology))
	assignmentSvc := service.NewAssignmentService(assignmentRepo, userRepo, db, machine, logr,
		service.WithAssignmentAudit(audit),
		service.WithAssignmentCache(cacheSvc, cfg.Assignments.StatsCacheTTL),
		service.WithAssignmentMetrics(metrics),
		service.WithMaxBatchSize(cfg.Assignments.MaxBatchSize),
		service.WithAssignmentValidator(validate),
	)
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	}, service.WithAuthAudit(audit))
	userSvc := service.NewUserService(userRepo, validate, logr)
	exportSvc := service.NewExportService(assignmentSvc, service.ExportConfig{MaxRows: cfg.Assignments.ExportMaxRows}, logr,
		export.NewCSVExporter(export.WithDelimiter(cfg.Assignments.ExportDelimiter)), nil)

	var metricsHTTP http.Handler
	if metrics != nil {
		metricsHTTP = metrics.Handler()
	}
	dependents := map[string]handler.Pinger{"database": db}
	if redisClient != nil {
		dependents["redis"] = handler.PingFunc(cacheRepo.Ping)
	}

	router := newRouter(cfg, logr, routerDeps{
		auth:        authSvc,
		users:       userRepo,
		metrics:     metrics,
		authH:       handler.NewAuthHandler(authSvc),
		userH:       handler.NewUserHandler(userSvc),
		assignmentH: handler.NewAssignmentHandler(assignmentSvc, exportSvc),
		metricsH:    handler.NewMetricsHandler(metricsHTTP, dependents),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	audit.Start(ctx)
	defer audit.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Env),
			zap.String("approval_topology", cfg.Assignments.ApprovalTopology))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
