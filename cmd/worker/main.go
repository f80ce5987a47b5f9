package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"readiness/internal/pkg/logger"
	"readiness/internal/platform/config"
	"readiness/internal/platform/database"
	"readiness/internal/platform/repositories"
	"readiness/internal/workers"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	once := flag.Bool("once", false, "Prune once and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging)

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	pruner := workers.NewPruner(repositories.NewWebhookLogRepository(db), cfg.Webhooks.LogRetention)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		if _, err := pruner.PruneDeliveryLogs(ctx); err != nil {
			log.Fatal().Err(err).Msg("Pruning failed")
		}
		return
	}

	log.Info().
		Dur("retention", cfg.Webhooks.LogRetention).
		Dur("interval", cfg.Webhooks.PruneInterval).
		Msg("Starting background workers")
	pruner.Run(ctx, cfg.Webhooks.PruneInterval)
	log.Info().Msg("Workers stopped")
}
