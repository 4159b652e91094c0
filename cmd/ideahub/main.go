package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/ideahub/pkg/api"
	"github.com/platinummonkey/ideahub/pkg/apikeys"
	"github.com/platinummonkey/ideahub/pkg/async"
	"github.com/platinummonkey/ideahub/pkg/audit"
	"github.com/platinummonkey/ideahub/pkg/auth"
	"github.com/platinummonkey/ideahub/pkg/capture"
	"github.com/platinummonkey/ideahub/pkg/config"
	"github.com/platinummonkey/ideahub/pkg/middleware"
	"github.com/platinummonkey/ideahub/pkg/observability"
	"github.com/platinummonkey/ideahub/pkg/rbac"
	"github.com/platinummonkey/ideahub/pkg/storage"
	"github.com/platinummonkey/ideahub/pkg/storage/cache"
	"github.com/platinummonkey/ideahub/pkg/storage/memory"
	"github.com/platinummonkey/ideahub/pkg/storage/postgres"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "ideahub")
	async.SetLogger(logger)

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.WithError(err).Error("ideahub exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var closers []closer

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	closers = append(closers, closer{"otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	}})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	store, pg, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	closers = append(closers, closer{"storage", func(context.Context) error { return store.Close() }})

	var rdb *redis.Client
	if cfg.Capture.Queue == "redis" {
		rdb, err = newRedisClient(cfg.Storage)
		if err != nil {
			return err
		}
		closers = append(closers, closer{"redis", func(context.Context) error { return rdb.Close() }})
	}

	// Audit
	auditLoggers := []audit.Logger{audit.NewStructuredLogger(logger)}
	if pg != nil && cfg.Observability.AuditToDatabase {
		dbLogger, err := audit.NewDBLogger(pg.DB())
		if err != nil {
			return fmt.Errorf("failed to create audit database logger: %w", err)
		}
		auditLoggers = append(auditLoggers, dbLogger)
	}
	auditLogger := audit.NewMultiLogger(auditLoggers...)
	auditLogger.SetAsync(true)
	closers = append(closers, closer{"audit", func(context.Context) error { return auditLogger.Close() }})

	// Scopes and rate limits
	catalog := auth.NewScopeCatalog()
	rateCfg := cfg.RateLimit
	if cfg.PolicyFile != "" {
		policy, err := config.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return err
		}
		policy.Apply(&rateCfg)
		catalog.SetExtra(policy.ExtraScopes())
		go func() {
			defer observability.RecoverPanic(logger, "policy watcher")
			if err := config.WatchPolicy(ctx, cfg.PolicyFile, catalog, logger); err != nil {
				logger.WithError(err).Warn("policy watcher stopped")
			}
		}()
	}

	// Authorization core
	var users storage.UserRepository = store
	if cfg.Storage.UserCacheSize > 0 {
		users = cache.NewCachedUserRepository(store, cfg.Storage.UserCacheSize, cfg.Storage.UserCacheTTL, metrics)
	}

	guard := rbac.NewGuard(store, store,
		rbac.WithMetrics(metrics),
		rbac.WithAuditLogger(auditLogger))
	issuer := apikeys.NewIssuer(guard, store,
		apikeys.WithScopeCatalog(catalog),
		apikeys.WithIssuerMetrics(metrics),
		apikeys.WithIssuerAuditLogger(auditLogger))

	var toucher apikeys.Toucher
	switch cfg.Touch.Mode {
	case config.TouchModeBatch:
		batch, err := apikeys.NewBatchToucher(store, cfg.Touch.Schedule, metrics, logger)
		if err != nil {
			return err
		}
		batch.Start()
		// Registered after storage so it flushes before the store closes.
		closers = append(closers, closer{"last-used flush", batch.Stop})
		toucher = batch
	default:
		toucher = apikeys.NewAsyncToucher(store, cfg.Touch.Timeout, metrics)
	}

	authenticator := apikeys.NewAuthenticator(store, users, store, store,
		apikeys.WithToucher(toucher),
		apikeys.WithAuthenticatorMetrics(metrics),
		apikeys.WithAuthenticatorAuditLogger(auditLogger))

	// Captures
	var captures capture.Service
	switch cfg.Capture.Queue {
	case "redis":
		connOpt := asynqConnOpt(rdb.Options())
		client := asynq.NewClient(connOpt)
		inspector := asynq.NewInspector(connOpt)
		closers = append(closers,
			closer{"capture client", func(context.Context) error { return client.Close() }},
			closer{"capture inspector", func(context.Context) error { return inspector.Close() }})
		captures = capture.NewQueueService(client, inspector, metrics)
	default:
		logger.Warn("captures are stored inline; use the redis queue in production")
		captures = capture.NewMemoryService(store, metrics, logger)
	}

	// Rate limiting
	var rateLimit *middleware.RateLimitMiddleware
	if rateCfg.Enabled {
		perKey := &middleware.RateLimitConfig{RequestsPerWindow: rateCfg.PerKeyRequests, WindowDuration: rateCfg.Window, BurstSize: rateCfg.PerKeyRequests}
		anonymous := &middleware.RateLimitConfig{RequestsPerWindow: rateCfg.AnonymousRequests, WindowDuration: rateCfg.Window, BurstSize: rateCfg.AnonymousRequests}
		if rdb != nil {
			rateLimit = middleware.NewDistributedRateLimitMiddleware(rdb, perKey, anonymous, metrics, logger)
		} else {
			keyLimiter, anonLimiter := middleware.NewRateLimiter(perKey), middleware.NewRateLimiter(anonymous)
			keyLimiter.StartCleanup(ctx)
			anonLimiter.StartCleanup(ctx)
			rateLimit = middleware.NewRateLimitMiddleware(keyLimiter, anonLimiter, logger)
		}
		if err := rateLimit.SetTrustedProxies(rateCfg.TrustedProxies); err != nil {
			return err
		}
	}

	server := api.NewServer(api.Dependencies{
		Authenticator:  authenticator,
		Issuer:         issuer,
		Guard:          guard,
		Captures:       captures,
		Sessions:       middleware.NewSessionMiddleware([]byte(cfg.Session.Secret), cfg.Session.Issuer, logger),
		RateLimit:      rateLimit,
		Audit:          auditLogger,
		Metrics:        metrics,
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics
	healthOpts := []observability.HealthOption{observability.WithVersion(version)}
	if cfg.Capture.Queue == "redis" {
		healthOpts = append(healthOpts, observability.WithRedisRequired())
	}
	db := pgDB(pg)
	checker := observability.NewHealthChecker(db, rdb, healthOpts...)
	opsServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           api.NewOperationsRouter(checker, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	closers = append(closers, closer{"operations server", opsServer.Shutdown})

	if db != nil && metrics != nil {
		go reportDBStats(ctx, pg, metrics)
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	for _, c := range closers {
		shutdown.RegisterShutdownFunc(c.name, c.fn)
	}

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{httpServer, opsServer} {
		go func() {
			logger.WithField("addr", srv.Addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("%s: %w", srv.Addr, err)
			}
		}()
	}

	waitCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case err := <-serveErr:
			logger.WithError(err).Error("server failed")
			stop()
		case <-waitCtx.Done():
		}
	}()

	return shutdown.WaitForShutdown(waitCtx)
}

type closer struct {
	name string
	fn   observability.ShutdownFunc
}

func openStore(ctx context.Context, cfg storage.Config, logger *observability.Logger) (storage.Store, *postgres.Store, error) {
	if cfg.Type != "postgres" {
		logger.Warn("using in-memory storage; data is lost on restart")
		return memory.New(), nil, nil
	}
	conns, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.PostgresURL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.PostgresReplicaURLs),
		MaxConns:    cfg.PostgresMaxConns,
		MinConns:    cfg.PostgresMinConns,
		Timeout:     cfg.PostgresTimeout,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	pg, err := postgres.Open(ctx, cfg, conns)
	if err != nil {
		conns.Close()
		return nil, nil, err
	}
	conns.StartHealthCheckRoutine(ctx, 30*time.Second)
	return pg, pg, nil
}

func pgDB(pg *postgres.Store) *sql.DB {
	if pg == nil {
		return nil
	}
	return pg.DB()
}

func newRedisClient(cfg storage.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB >= 0 {
		opts.DB = cfg.RedisDB
	}
	opts.MaxRetries = cfg.RedisMaxRetries
	opts.PoolSize = cfg.RedisPoolSize
	return redis.NewClient(opts), nil
}

func asynqConnOpt(opts *redis.Options) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Network:   opts.Network,
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		PoolSize:  opts.PoolSize,
		TLSConfig: opts.TLSConfig,
	}
}

func reportDBStats(ctx context.Context, pg *postgres.Store, metrics *observability.Metrics) {
	defer observability.RecoverPanic(nil, "db stats reporter")
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBStats(pg.DB().Stats())
		}
	}
}
