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

	"github.com/rofex/intervention-api/internal/handler"
	"github.com/rofex/intervention-api/internal/middleware"
	"github.com/rofex/intervention-api/internal/models"
	"github.com/rofex/intervention-api/internal/repository"
	"github.com/rofex/intervention-api/internal/service"
	"github.com/rofex/intervention-api/pkg/cache"
	"github.com/rofex/intervention-api/pkg/config"
	"github.com/rofex/intervention-api/pkg/database"
	"github.com/rofex/intervention-api/pkg/delivery"
	"github.com/rofex/intervention-api/pkg/jobs"
	"github.com/rofex/intervention-api/pkg/logger"
	corsmiddleware "github.com/rofex/intervention-api/pkg/middleware/cors"
	reqidmiddleware "github.com/rofex/intervention-api/pkg/middleware/requestid"
)

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
	defer db.Close()

	if err := database.Migrate(db, cfg.Database.MigrationsDir); err != nil {
		logr.Sugar().Fatalw("failed to apply migrations", "error", err)
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, rating cache disabled", "error", err)
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories.
	interventionRepo := repository.NewInterventionRepository(db)
	availabilityRepo := repository.NewAvailabilityRepository(db)
	evaluationRepo := repository.NewEvaluationRepository(db)
	technicianRepo := repository.NewTechnicianRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	// Services.
	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(cfg.JWT.Secret, logr)

	var channel delivery.Channel
	if cfg.Notifications.WebhookURL != "" {
		channel = delivery.NewWebhookChannel(cfg.Notifications.WebhookURL)
	} else {
		channel = delivery.NewLogChannel(logr)
	}
	notificationSvc := service.NewNotificationService(notificationRepo, channel, metricsSvc, logr, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
	})
	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	availabilitySvc := service.NewAvailabilityService(availabilityRepo, validate, logr)
	ratingSvc := service.NewRatingService(evaluationRepo, interventionRepo, cacheRepo, validate, logr, cfg.Rating.CacheTTL)
	lifecycleSvc := service.NewLifecycleService(interventionRepo, notificationSvc, validate, logr)
	arbiterSvc := service.NewArbiterService(interventionRepo, notificationSvc, metricsSvc, logr, cfg.Matching.GracePeriod, cfg.Matching.SweepInterval)
	arbiterSvc.StartSweeper(ctx)
	matchingSvc := service.NewMatchingService(interventionRepo, technicianRepo, evaluationRepo, availabilitySvc, notificationSvc, metricsSvc, logr, cfg.Matching.MaxCandidates)
	paymentSvc := service.NewPaymentService(paymentRepo, interventionRepo, validate, logr)

	// Handlers.
	interventionHandler := handler.NewInterventionHandler(lifecycleSvc, arbiterSvc, matchingSvc)
	availabilityHandler := handler.NewAvailabilityHandler(availabilitySvc)
	evaluationHandler := handler.NewEvaluationHandler(ratingSvc)
	technicianHandler := handler.NewTechnicianHandler(matchingSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	paymentHandler := handler.NewPaymentHandler(paymentSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(authSvc))
	{
		interventions := api.Group("/interventions")
		{
			interventions.POST("", middleware.RequireRoles(models.RoleClient, models.RoleAdmin), interventionHandler.Create)
			interventions.GET("", interventionHandler.List)
			interventions.GET("/:id", interventionHandler.Get)
			interventions.GET("/:id/candidates", middleware.RequireRoles(models.RoleClient, models.RoleAdmin), interventionHandler.Candidates)
			interventions.POST("/:id/respond", middleware.RequireRoles(models.RoleTechnician), interventionHandler.Respond)
			interventions.POST("/:id/start", middleware.RequireRoles(models.RoleTechnician), interventionHandler.Start)
			interventions.POST("/:id/complete", middleware.RequireRoles(models.RoleTechnician), interventionHandler.Complete)
			interventions.POST("/:id/cancel", middleware.RequireRoles(models.RoleClient, models.RoleAdmin), interventionHandler.Cancel)
			interventions.GET("/:id/payment", paymentHandler.Get)
			interventions.PUT("/:id/payment", middleware.RequireRoles(models.RoleClient, models.RoleAdmin), paymentHandler.Record)
		}

		availability := api.Group("/availability")
		availability.Use(middleware.RequireRoles(models.RoleTechnician))
		{
			availability.GET("", availabilityHandler.ListMine)
			availability.PUT("", availabilityHandler.Upsert)
			availability.DELETE("/:id", availabilityHandler.Delete)
		}

		technicians := api.Group("/technicians")
		{
			technicians.GET("", technicianHandler.List)
			technicians.GET("/:id", technicianHandler.Get)
			technicians.GET("/:id/availability", availabilityHandler.ListForTechnician)
			technicians.GET("/:id/evaluations", evaluationHandler.ListForTechnician)
			technicians.GET("/:id/rating", evaluationHandler.Rating)
			technicians.POST("/:id/rating/recompute", middleware.RequireRoles(models.RoleAdmin), evaluationHandler.Recompute)
		}

		api.POST("/evaluations", middleware.RequireRoles(models.RoleClient), evaluationHandler.Create)

		notifications := api.Group("/notifications")
		{
			notifications.GET("", notificationHandler.List)
			notifications.POST("/:id/read", notificationHandler.MarkRead)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
