package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/taskboard/pkg/config"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/service"
	"github.com/platinummonkey/taskboard/pkg/storage/postgres"
)

var version = "dev"

var (
	configFile = flag.String("config", os.Getenv("TASKBOARD_CONFIG"), "Path to a YAML config file (optional)")
	migrate    = flag.Bool("migrate", false, "Apply the database schema and exit")
	sweepOnce  = flag.Bool("sweep-once", false, "Run one maintenance sweep and exit")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := setupLogger(cfg.Observability.LogLevel)
	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conns, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxOpenConns,
		MinConns:    cfg.Database.MaxIdleConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.ConnMaxLifetime,
		MaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conns.Close()

	if *migrate || cfg.Database.ApplySchema {
		if err := postgres.ApplySchema(ctx, conns.Primary()); err != nil {
			log.Fatalf("Failed to apply schema: %v", err)
		}
		log.Info("Database schema applied")
		if *migrate {
			return
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.NewRedisClient(ctx, postgres.RedisConfig{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
			PoolSize:   cfg.Redis.PoolSize,
		})
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		log.Info("Redis connected")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := service.New(cfg, service.Deps{
		DB:       conns.Primary(),
		Redis:    redisClient,
		Logger:   logger,
		Registry: registry,
		Version:  version,
	})
	if err != nil {
		log.Fatalf("Failed to build service: %v", err)
	}

	if *sweepOnce {
		report, err := svc.Sweeper.RunOnce(ctx)
		if err != nil {
			log.Fatalf("Sweep failed: %v", err)
		}
		log.WithFields(logrus.Fields{
			"boards":         report.Boards,
			"refresh_tokens": report.RefreshTokens,
			"reset_tokens":   report.ResetTokens,
		}).Info("Sweep completed")
		return
	}

	tp, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	if svc.Metrics != nil {
		conns.StartStatsRoutine(ctx, 30*time.Second, svc.Metrics)
	}

	if cfg.Sweeper.Enabled {
		if err := svc.Start(ctx); err != nil {
			log.Fatalf("Failed to start sweeper: %v", err)
		}
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      svc.AdminRouter(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("tracing", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, tp, logger)
	})
	shutdown.Register("sweeper", svc.Stop)

	go func() {
		log.Infof("Admin server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Admin server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("Received shutdown signal, shutting down gracefully...")

	if err := shutdown.Shutdown(); err != nil {
		log.Errorf("Shutdown completed with errors: %v", err)
	}
	cancel()
	log.Info("Shutdown complete")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.LoadConfig()
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
