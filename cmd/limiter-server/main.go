package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/flowforge/startlimit/pkg/apiserver"
	"github.com/flowforge/startlimit/pkg/config"
	"github.com/flowforge/startlimit/pkg/eventbus"
	"github.com/flowforge/startlimit/pkg/limiter"
	"github.com/flowforge/startlimit/pkg/logging"
	"github.com/flowforge/startlimit/pkg/store"
	"github.com/flowforge/startlimit/pkg/store/postgres"
	redisclient "github.com/flowforge/startlimit/pkg/store/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, level, err := logging.New(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	registry := limiter.NewRegistry(limiter.RegistryConfig{
		MaxExpires: cfg.Limiter.MaxExpires,
		BanWindow:  cfg.Limiter.BanWindow,
		EraHistory: cfg.Limiter.EraHistory,
	}, logger.Named("registry"))
	controller := limiter.NewController(registry, cfg.Limiter.Lookahead, logger.Named("controller"))
	sweeper := limiter.NewSweeper(registry, cfg.Limiter.SweepInterval, logger.Named("sweeper"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	var redis *redisclient.Client
	if cfg.Persistence.Driver == config.DriverRedis || cfg.Redis.Events {
		redis, err = redisclient.NewClient(&cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redis.Close()
	}

	var defs store.DefinitionStore
	switch cfg.Persistence.Driver {
	case config.DriverRedis:
		defs = redis.Limits()
	case config.DriverPostgres:
		db, err := postgres.NewStore(&cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		if err := db.AutoMigrate(); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		defs = postgres.NewLimitRepository(db.DB())
	}

	if defs != nil {
		persister := store.NewPersister(defs, logger.Named("persistence"))
		restoreCtx, restoreCancel := context.WithTimeout(ctx, 30*time.Second)
		if _, err := persister.Restore(restoreCtx, registry); err != nil {
			logger.Error("Failed to restore persisted limits", zap.Error(err))
		}
		restoreCancel()

		registry.OnChange(persister.Hook)
		wg.Add(1)
		go func() {
			defer wg.Done()
			persister.Run(ctx)
		}()
	}

	if cfg.Redis.Events {
		bus := eventbus.NewBus(redis.Client(), logger.Named("eventbus"))
		registry.OnChange(bus.Hook)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	server := apiserver.NewServer(registry, controller, cfg, logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.ReadTimeout * 2,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	go func() {
		logger.Info("Starting limiter server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("Starting metrics server", zap.Int("port", cfg.Server.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range signals {
		if sig != syscall.SIGHUP {
			break
		}
		reload(logger, level, registry, controller)
	}

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server forced to shutdown", zap.Error(err))
	}

	cancel()
	wg.Wait()
}

// reload applies the settings that can change without a restart.
func reload(logger *zap.Logger, level zap.AtomicLevel, registry *limiter.Registry, controller *limiter.Controller) {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Config reload failed, keeping current settings", zap.Error(err))
		return
	}

	registry.SetLimits(cfg.Limiter.MaxExpires, cfg.Limiter.BanWindow)
	controller.SetLookahead(cfg.Limiter.Lookahead)
	if l, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		level.SetLevel(l)
	}

	logger.Info("Configuration reloaded",
		zap.Duration("max_expires", cfg.Limiter.MaxExpires),
		zap.Duration("ban_window", cfg.Limiter.BanWindow),
		zap.Int("lookahead", cfg.Limiter.Lookahead),
	)
}
