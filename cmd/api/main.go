package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"courseguard/internal/config"
	"courseguard/internal/database"
	"courseguard/internal/domain/admission"
	"courseguard/internal/domain/quarantine"
	"courseguard/internal/domain/storage"
	"courseguard/internal/middleware"
	jwtsvc "courseguard/internal/pkg/jwt"
	"courseguard/internal/pkg/logger"
	"courseguard/internal/pkg/metrics"
)

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

	appLog := logger.New(cfg.LogLevel, cfg.LogFormat)
	appLog.Info("starting courseguard api",
		"env", cfg.AppEnv,
		"listen", cfg.ListenAddr,
		"policy_version", policy.Version,
	)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	if err := db.AutoMigrate(
		&admission.VerdictRecord{},
		&storage.StoredObject{},
		&quarantine.Record{},
		&quarantine.AuditEntry{},
	); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}

	gateway, err := storage.NewGateway(cfg.StorageRoot, storage.NewRepository(db))
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	spool, err := quarantine.NewSpool(cfg.SpoolRoot)
	if err != nil {
		log.Fatalf("spool init failed: %v", err)
	}

	m := metrics.NewProm("courseguard")
	hub := quarantine.NewHub()

	quarantineService := quarantine.NewService(
		quarantine.NewRepository(db),
		spool,
		gateway,
		hub,
		appLog,
		m,
		policy.ReviewDeadline,
	)
	pipeline := admission.NewPipeline(
		policy,
		gateway,
		quarantineService,
		admission.NewRepository(db),
		appLog,
		m,
	)

	jwtTTL, err := time.ParseDuration(cfg.JWTTTL)
	if err != nil {
		log.Fatalf("invalid JWT_TTL: %v", err)
	}
	jwt := jwtsvc.New(cfg.JWTSecret, jwtTTL)

	if cfg.AppEnv == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.RequestLogger(appLog))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "policy_version": policy.Version})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		protected := v1.Group("/")
		protected.Use(middleware.Auth(jwt))
		{
			admission.RegisterRoutes(protected, admission.NewHandler(pipeline))
			storage.RegisterRoutes(protected, storage.NewHandler(gateway))

			reviewers := protected.Group("/")
			reviewers.Use(middleware.RequireRole(middleware.RoleReviewer))
			{
				quarantine.RegisterRoutes(reviewers, quarantine.NewHandler(quarantineService, hub))
			}
		}
	}

	go sweepLoop(quarantineService, appLog)

	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatal(err)
	}
}

// sweepLoop auto-rejects records whose review deadline lapsed. The
// standalone sweeper binary covers deployments that prefer cron.
func sweepLoop(service *quarantine.Service, log *logger.Logger) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		n, err := service.SweepExpired(ctx, time.Now().UTC())
		cancel()
		if err != nil {
			log.Error("deadline sweep failed", "error", err)
			continue
		}
		if n > 0 {
			log.Info("deadline sweep closed records", "count", n)
		}
	}
}
