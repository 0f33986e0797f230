package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vanguard-ops/console/internal/api/middleware"
	"github.com/vanguard-ops/console/internal/api/routes"
	"github.com/vanguard-ops/console/internal/cache"
	"github.com/vanguard-ops/console/internal/config"
	"github.com/vanguard-ops/console/internal/database"
	"github.com/vanguard-ops/console/internal/logger"
	"github.com/vanguard-ops/console/internal/metrics"
	"github.com/vanguard-ops/console/internal/server"
	"github.com/vanguard-ops/console/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logging with rotation
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create log dir: %v\n", err)
		os.Exit(1)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "vanguard.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	defer rotator.Close()
	logger.Init(cfg.Debug, io.MultiWriter(os.Stdout, rotator))
	log := logger.For("main")

	db, err := database.Open(database.Options{
		Driver: cfg.DBDriver,
		Path:   cfg.DatabasePath,
		DSN:    cfg.DatabaseDSN,
		Debug:  cfg.Debug,
	})
	if err != nil {
		log.WithError(err).Fatal("connect database")
	}

	// Handle CLI commands
	if len(os.Args) > 1 && os.Args[1] == "verify-audit" {
		os.Exit(verifyAudit(db, os.Args[2:]))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)
	deps := routes.Deps{Cache: cache.NewMemory(), Gatherer: registry}

	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("connect redis")
		}
		defer redisCache.Close()
		deps.Cache = redisCache
		if cfg.RateLimitPerMinute > 0 {
			deps.Limiter = middleware.NewRedisRateLimiter(redisCache.Client(), cfg.RateLimitPerMinute)
		}
	} else if cfg.RateLimitPerMinute > 0 {
		log.Warn("rate limiting disabled: VG_REDIS_URL is not set")
	}

	srv, err := server.New(db, cfg, deps)
	if err != nil {
		log.WithError(err).Fatal("build server")
	}

	log.WithField("port", cfg.HTTPPort).Infof("starting %s", version.Full())
	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Fatal("server error")
	}
	log.Info("server stopped")
}
