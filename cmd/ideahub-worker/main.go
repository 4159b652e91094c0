package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"

	"github.com/platinummonkey/ideahub/pkg/capture"
	"github.com/platinummonkey/ideahub/pkg/config"
	"github.com/platinummonkey/ideahub/pkg/observability"
	"github.com/platinummonkey/ideahub/pkg/storage"
	"github.com/platinummonkey/ideahub/pkg/storage/postgres"
)

func main() {
	concurrency := flag.Int("concurrency", 0, "Number of captures processed concurrently (default: IDEAHUB_CAPTURE_CONCURRENCY)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *concurrency > 0 {
		cfg.Capture.Concurrency = *concurrency
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "ideahub-worker")

	if cfg.Capture.Queue != "redis" {
		logger.Error("the worker requires IDEAHUB_CAPTURE_QUEUE=redis")
		os.Exit(1)
	}
	if cfg.Storage.Type != "postgres" {
		// The in-memory store lives inside the API process; a separate
		// worker would write captures nobody can read.
		logger.Error("the worker requires IDEAHUB_STORAGE_TYPE=postgres")
		os.Exit(1)
	}

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.WithError(err).Error("worker exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	opts, err := redis.ParseURL(cfg.Storage.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Storage.RedisPassword != "" {
		opts.Password = cfg.Storage.RedisPassword
	}
	if cfg.Storage.RedisDB >= 0 {
		opts.DB = cfg.Storage.RedisDB
	}

	srv := asynq.NewServer(asynq.RedisClientOpt{
		Network:   opts.Network,
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}, asynq.Config{
		Concurrency:     cfg.Capture.Concurrency,
		Queues:          map[string]int{capture.QueueName: 1},
		Logger:          capture.ServerLogger{Logger: logger},
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	mux := asynq.NewServeMux()
	capture.NewWorker(store, logger).Register(mux)

	logger.WithField("concurrency", cfg.Capture.Concurrency).Info("capture worker starting")
	// Run blocks until SIGTERM or SIGINT and then drains in-flight tasks.
	return srv.Run(mux)
}

func openStore(ctx context.Context, cfg storage.Config, logger *observability.Logger) (*postgres.Store, error) {
	conns, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL: cfg.PostgresURL,
		MaxConns:   cfg.PostgresMaxConns,
		MinConns:   cfg.PostgresMinConns,
		Timeout:    cfg.PostgresTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	store, err := postgres.Open(ctx, cfg, conns)
	if err != nil {
		conns.Close()
		return nil, err
	}
	return store, nil
}
