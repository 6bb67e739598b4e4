package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZeusMX2125/topstep-engine/internal/bot"
	"github.com/ZeusMX2125/topstep-engine/internal/config"
	"github.com/ZeusMX2125/topstep-engine/internal/pkg/logger"
	"github.com/ZeusMX2125/topstep-engine/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Initialize Logger
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	// 3. Metrics listener
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics listener failed", "error", err)
			}
		}()
		logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
	}

	// 4. Risk snapshot persistence (Redis > Memory)
	var snapshots store.SnapshotRepo
	if cfg.Redis.Addr != "" {
		redisRepo, err := store.NewRedisSnapshotRepo(cfg.Redis)
		if err == nil {
			logger.Info("connected to Redis for risk snapshots")
			snapshots = redisRepo
			defer redisRepo.Close()
		} else {
			logger.Error("failed to connect to Redis, falling back to memory", "error", err)
		}
	}
	if snapshots == nil {
		snapshots = store.NewMemorySnapshotRepo()
	}

	// 5. One bot per configured account
	supervisor, err := bot.NewSupervisor(cfg, snapshots)
	if err != nil {
		log.Fatalf("Failed to build supervisor: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	if err := supervisor.Start(startCtx); err != nil {
		cancel()
		log.Fatalf("Failed to start accounts: %v", err)
	}
	cancel()

	<-ctx.Done()
	logger.Info("shutdown requested")
	supervisor.Stop()
}
