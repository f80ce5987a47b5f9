package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"readiness/internal/api"
	"readiness/internal/api/handlers"
	"readiness/internal/api/middleware"
	"readiness/internal/engine/webhooks"
	"readiness/internal/pkg/logger"
	"readiness/internal/pkg/metrics"
	"readiness/internal/pkg/secrets"
	"readiness/internal/platform/audit"
	"readiness/internal/platform/auth"
	"readiness/internal/platform/cache"
	"readiness/internal/platform/config"
	"readiness/internal/platform/database"
	"readiness/internal/platform/ratelimit"
	"readiness/internal/platform/repositories"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging)
	metrics.Init()

	// Database
	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, database.Up, 0); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate database")
		}
	}

	box, err := secrets.NewBox(cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid encryption key")
	}
	if !box.Enabled() {
		log.Warn().Msg("security.encryption_key is not set; webhook credentials are stored unsealed")
	}

	// Rate limiter: shared Redis window when configured, in-process buckets otherwise.
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	var limiter ratelimit.Limiter
	if redisClient != nil {
		defer redisClient.Close()
		limiter = ratelimit.NewRedisLimiter(redisClient)
	} else {
		mem := ratelimit.NewMemoryLimiter()
		defer mem.Close()
		limiter = mem
	}

	// Repositories
	orgRepo := repositories.NewOrganizationRepository(db)
	webhookRepo := repositories.NewWebhookRepository(db, box)
	webhookLogRepo := repositories.NewWebhookLogRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)

	// Services
	tokenSvc := auth.NewTokenService(cfg.JWT)
	auditLogger := audit.NewLogger(db)

	validator, err := webhooks.NewValidator(cfg.App.IsProduction(), cfg.Webhooks.MaxBulkIDs)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to compile webhook schemas")
	}
	webhookSvc := webhooks.NewService(
		webhookRepo,
		webhookLogRepo,
		webhooks.NewDispatcher(),
		webhooks.NewHTTPProber(cfg.Webhooks.ProbeTimeout),
		webhooks.Options{
			MaxBulkIDs:   cfg.Webhooks.MaxBulkIDs,
			StatsWindow:  cfg.Webhooks.StatsWindow,
			ProbeTimeout: cfg.Webhooks.ProbeTimeout,
		},
	)

	// Middleware
	apiKeyMiddleware := middleware.NewAPIKeyMiddleware(apiKeyRepo)

	deps := &api.Dependencies{
		WebhookHandler:         handlers.NewWebhookHandler(webhookSvc, validator, auditLogger),
		APIKeyHandler:          handlers.NewAPIKeyHandler(apiKeyRepo, auditLogger),
		AuditHandler:           handlers.NewAuditHandler(auditLogger),
		HealthHandler:          handlers.NewHealthHandler(db, redisClient),
		MetricsHandler:         handlers.NewMetricsHandler(),
		AuthMiddleware:         middleware.NewAuthMiddleware(tokenSvc),
		APIKeyMiddleware:       apiKeyMiddleware,
		OrganizationMiddleware: middleware.NewOrganizationMiddleware(orgRepo),
		RateLimitMiddleware:    middleware.NewRateLimitMiddleware(limiter, cfg.RateLimit),
	}
	router := api.NewRouter(deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.App.Env).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	// Drain background work before the database closes.
	webhookSvc.Wait()
	apiKeyMiddleware.Wait()
	auditLogger.Wait()
}
