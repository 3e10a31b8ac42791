package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	_ "github.com/noah-isme/civreg-api/api/swagger"
	"github.com/noah-isme/civreg-api/internal/handler"
	"github.com/noah-isme/civreg-api/internal/middleware"
	"github.com/noah-isme/civreg-api/internal/models"
	"github.com/noah-isme/civreg-api/internal/repository"
	"github.com/noah-isme/civreg-api/internal/service"
	"github.com/noah-isme/civreg-api/pkg/cache"
	"github.com/noah-isme/civreg-api/pkg/config"
	"github.com/noah-isme/civreg-api/pkg/database"
	"github.com/noah-isme/civreg-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/civreg-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/civreg-api/pkg/middleware/requestid"
	"github.com/noah-isme/civreg-api/pkg/storage"
)

// @title Civil Registry API
// @version 1.0.0
// @description Person registry with PSN issuance and citizen change-request workflow
// @BasePath /api/v1
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	personRepo := repository.NewPersonRepository(db)
	changeRequestRepo := repository.NewChangeRequestRepository(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	if err := seedAdmin(context.Background(), userRepo, cfg.Bootstrap, logr); err != nil {
		logr.Sugar().Fatalw("failed to seed admin account", "error", err)
	}

	var cacheRepo *repository.CacheRepository
	if cfg.Registry.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		} else {
			cacheRepo = repository.NewCacheRepository(redisClient, logr)
			defer cacheRepo.Close() //nolint:errcheck
		}
	}

	metricsSvc := service.NewMetricsService()

	allocator := service.NewSerialAllocator(personRepo)
	personOpts := []service.PersonServiceOption{service.WithRegistrationMetrics(metricsSvc)}
	if cacheRepo != nil {
		personOpts = append(personOpts, service.WithRegistryCache(cacheRepo, cfg.Registry.StatisticsCacheTTL))
	}
	personSvc := service.NewPersonService(personRepo, allocator, auditRepo, logr,
		cfg.Registry.MaxRegisterAttempts, personOpts...)

	changeRequestSvc := service.NewChangeRequestService(changeRequestRepo, personRepo, auditRepo, logr)
	if cacheRepo != nil {
		changeRequestSvc = changeRequestSvc.WithCache(cacheRepo)
	}

	authSvc := service.NewAuthService(userRepo, auditRepo, logr, service.AuthConfig{
		Secret:        cfg.JWT.Secret,
		AccessExpiry:  cfg.JWT.Expiration,
		RefreshExpiry: cfg.JWT.RefreshExpiration,
		Issuer:        cfg.JWT.Issuer,
	})

	authHandler := handler.NewAuthHandler(authSvc)
	personHandler := handler.NewPersonHandler(personSvc)
	changeRequestHandler := handler.NewChangeRequestHandler(changeRequestSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
	}

	persons := api.Group("/persons", middleware.JWT(authSvc))
	{
		persons.POST("",
			middleware.RequireRoles(models.RoleAdmin, models.RoleAgencyOperator),
			personHandler.Register)
		persons.GET("",
			middleware.RequireRoles(models.RoleAdmin, models.RoleAgencyOperator),
			personHandler.List)
		persons.GET("/search",
			middleware.RequireRoles(models.RoleAdmin, models.RoleAgencyOperator),
			personHandler.Search)
		persons.GET("/statistics/summary",
			middleware.RequireRoles(models.RoleAdmin, models.RoleAgencyOperator),
			personHandler.Statistics)
		persons.GET("/:psn",
			middleware.RBAC(string(models.RoleAdmin), string(models.RoleAgencyOperator), "SELF"),
			personHandler.Get)
		persons.DELETE("/:psn",
			middleware.RequireRoles(models.RoleAdmin),
			personHandler.Deactivate)
	}

	requests := api.Group("/change-requests", middleware.JWT(authSvc))
	{
		requests.POST("",
			middleware.RequireRoles(models.RoleCitizen),
			changeRequestHandler.Submit)
		requests.GET("", changeRequestHandler.List)
		requests.GET("/:id", changeRequestHandler.Get)
		requests.POST("/:id/claim",
			middleware.RequireRoles(models.RoleAdmin, models.RoleAgencyOperator),
			changeRequestHandler.Claim)
		requests.POST("/:id/decide",
			middleware.RequireRoles(models.RoleAdmin, models.RoleAgencyOperator),
			changeRequestHandler.Decide)
		requests.POST("/:id/cancel",
			middleware.RequireRoles(models.RoleCitizen),
			changeRequestHandler.Cancel)
	}

	if cfg.Documents.Enabled {
		documentRepo := repository.NewDocumentRepository(db)
		blobs, err := storage.NewDocumentStore(cfg.Documents.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init document storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Documents.SignedURLSecret, cfg.Documents.SignedURLTTL)
		documentSvc := service.NewDocumentService(documentRepo, changeRequestRepo, blobs, signer, auditRepo, logr,
			service.DocumentConfig{
				MaxFileSizeBytes: cfg.Documents.MaxFileSizeBytes,
				AllowedMIMEs:     cfg.Documents.AllowedMIMEs,
			})
		documentHandler := handler.NewDocumentHandler(documentSvc, blobs)

		requests.POST("/:id/documents", documentHandler.Upload)
		requests.GET("/:id/documents", documentHandler.List)
		documents := api.Group("/documents")
		documents.GET("/:id/url", middleware.JWT(authSvc), documentHandler.DownloadURL)
		documents.GET("/download", documentHandler.Download)
	}

	if cfg.Exports.Enabled {
		exportSvc := service.NewExportService(personRepo, logr)
		exportHandler := handler.NewExportHandler(exportSvc)
		exports := api.Group("/exports", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleAdmin))
		{
			exports.GET("/persons.csv", exportHandler.PersonsCSV)
			exports.GET("/statistics.pdf", exportHandler.StatisticsPDF)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}

// seedAdmin creates the initial admin account when bootstrap credentials are
// configured and no account with that email exists yet.
func seedAdmin(ctx context.Context, users *repository.UserRepository, cfg config.BootstrapConfig, logr *zap.Logger) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	if _, err := users.FindByEmail(ctx, cfg.AdminEmail); err == nil {
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	user := &models.User{
		Email:        cfg.AdminEmail,
		PasswordHash: string(hash),
		FullName:     cfg.AdminName,
		Role:         models.RoleAdmin,
		Active:       true,
	}
	if err := users.Create(ctx, user); err != nil {
		return err
	}

	logr.Sugar().Infow("seeded admin account", "email", cfg.AdminEmail)
	return nil
}
