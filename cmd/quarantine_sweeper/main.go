package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"

	"courseguard/internal/config"
	"courseguard/internal/database"
	"courseguard/internal/domain/quarantine"
	"courseguard/internal/pkg/logger"
	"courseguard/internal/pkg/metrics"
)

// One-shot deadline sweep for cron-driven deployments. The api binary
// runs the same sweep on a ticker; running both is harmless because
// every transition is compare-and-set.
func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadRuntimeConfig()
	if err != nil {
		log.Fatal(err)
	}
	policy, err := config.LoadPolicy()
	if err != nil {
		log.Fatal(err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	spool, err := quarantine.NewSpool(cfg.SpoolRoot)
	if err != nil {
		log.Fatalf("spool init failed: %v", err)
	}

	appLog := logger.New(cfg.LogLevel, cfg.LogFormat)
	service := quarantine.NewService(
		quarantine.NewRepository(db),
		spool,
		nil, // sweep never releases, only purges
		nil,
		appLog,
		metrics.Noop{},
		policy.ReviewDeadline,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := service.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		log.Fatalf("sweep failed: %v", err)
	}
	log.Printf("quarantine sweep completed: closed=%d", n)
}
