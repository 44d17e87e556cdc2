package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gallery/pkg/api"
	"github.com/platinummonkey/gallery/pkg/async"
	"github.com/platinummonkey/gallery/pkg/auth"
	"github.com/platinummonkey/gallery/pkg/collab"
	"github.com/platinummonkey/gallery/pkg/config"
	"github.com/platinummonkey/gallery/pkg/middleware"
	"github.com/platinummonkey/gallery/pkg/observability"
	"github.com/platinummonkey/gallery/pkg/pictures"
	"github.com/platinummonkey/gallery/pkg/quota"
	"github.com/platinummonkey/gallery/pkg/rbac"
	"github.com/platinummonkey/gallery/pkg/spaces"
	"github.com/platinummonkey/gallery/pkg/storage"
	"github.com/platinummonkey/gallery/pkg/storage/postgres"
)

var version = "dev"

func main() {
	envFile := flag.String("env-file", ".env", "Optional .env file loaded before reading the environment")
	migrate := flag.Bool("migrate", true, "Apply schema migrations at startup")
	flag.Parse()

	if _, err := config.LoadDotEnv(*envFile); err != nil {
		logrus.WithError(err).Fatal("Failed to load env file")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	if err := run(cfg, *migrate); err != nil {
		logrus.WithError(err).Fatal("Gallery server exited with error")
	}
}

func run(cfg *config.Config, migrate bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("Starting gallery server")

	tp, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
		ExportInterval: cfg.Observability.OTelExportInterval,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	var otelMetrics *observability.OTelMetrics
	if tp != nil {
		if otelMetrics, err = observability.NewOTelMetrics(); err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	conns, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfigFrom(cfg.Storage), logger)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db := conns.Primary()
	if migrate {
		if err := postgres.RunMigrations(ctx, db, logger); err != nil {
			conns.Close()
			return err
		}
	}

	redisClient, err := postgres.NewRedisClient(ctx, cfg.Storage)
	if err != nil {
		conns.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	objects, err := newObjectStore(ctx, cfg.Storage)
	if err != nil {
		conns.Close()
		redisClient.Close()
		return err
	}
	if otelMetrics != nil {
		objects = storage.Instrument(objects, cfg.Storage.ObjectStore, otelMetrics)
	}

	roles, err := rbac.LoadRoleConfig(cfg.RoleConfigPath)
	if err != nil {
		conns.Close()
		redisClient.Close()
		return err
	}

	// identity
	users := auth.NewUserStore(db)
	sessionStore := auth.NewSessionStore(redisClient, cfg.Auth.SessionTTL)
	sessionAuth := auth.NewSessionAuthenticator(sessionStore, users, cfg.Auth.IdentityCacheMax, cfg.Auth.IdentityCacheTTL)
	chain := auth.ChainAuthenticator{sessionAuth}
	if cfg.Auth.OIDCIssuerURL != "" {
		oidcAuth, err := auth.NewOIDCAuthenticator(ctx, cfg.Auth.OIDCIssuerURL, cfg.Auth.OIDCClientID, users)
		if err != nil {
			conns.Close()
			redisClient.Close()
			return fmt.Errorf("failed to initialize OIDC: %w", err)
		}
		chain = append(chain, oidcAuth)
	}
	authn := middleware.NewAuthMiddleware(chain, cfg.Auth.SessionCookie, logger.WithField("component", "auth"))

	// authorization and accounting
	spaceStore := spaces.NewStore()
	memberStore := spaces.NewMemberStore(db)
	gate := rbac.NewGate(rbac.NewResolver(roles, memberStore), logger.WithField("component", "rbac"), metrics)
	ledger := quota.NewLedger(logger.WithField("component", "quota"), metrics)

	pictureStore := pictures.NewStore()
	pool := async.NewWorkerPool(logger, cfg.Pictures.CleanupWorkers, cfg.Pictures.CleanupQueueSize, "storage-cleanup", cfg.Pictures.CleanupTimeout)
	cleaner := pictures.NewCleaner(db, pictureStore, objects, pool, cfg.Pictures.CleanupTimeout, logger.WithField("component", "cleaner"), metrics)

	txRunner := postgres.DBRunner{DB: db}
	arbiter := spaces.NewArbiter(txRunner, spaceStore, memberStore, logger.WithField("component", "arbiter"), metrics)
	spaceService := spaces.NewService(spaces.ServiceDeps{
		DB:       db,
		Store:    spaceStore,
		Members:  memberStore,
		Arbiter:  arbiter,
		Gate:     gate,
		Pictures: pictureStore,
		Cleaner:  cleaner,
		Usage:    ledger,
		Logger:   logger.WithField("component", "spaces"),
	})
	pictureService := pictures.NewService(pictures.ServiceDeps{
		DB:             db,
		Reads:          conns,
		Store:          pictureStore,
		Spaces:         spaceStore,
		Gate:           gate,
		Ledger:         ledger,
		Objects:        objects,
		Cleaner:        cleaner,
		ContentLocks:   cleaner.Locks(),
		MaxUploadBytes: cfg.Pictures.MaxUploadBytes,
		Logger:         logger.WithField("component", "pictures"),
	})

	reconciler := quota.NewReconciler(db, ledger, quota.ReconcilerConfig{
		Schedule: cfg.Quota.ReconcileSchedule,
		Repair:   cfg.Quota.ReconcileRepair,
	}, logger.WithField("component", "reconciler"), metrics)
	if cfg.Quota.ReconcileSchedule != "off" {
		if err := reconciler.Start(ctx); err != nil {
			conns.Close()
			redisClient.Close()
			return err
		}
	}

	// HTTP
	limiter := middleware.NewRedisRateLimiter(redisClient, middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Pictures.UploadRateLimit,
		WindowDuration:    cfg.Pictures.UploadRateWindow,
	}, "gallery:ratelimit:upload")

	server := api.NewServer(api.ServerConfig{
		Logger:       logger,
		Metrics:      metrics,
		Authenticate: authn.Handler,
		Auth: api.NewAuthHandlers(api.AuthHandlersConfig{
			Sessions:   sessionStore,
			Closer:     sessionAuth,
			Users:      users,
			Token:      authn.BearerToken,
			CookieName: cfg.Auth.SessionCookie,
			SessionTTL: cfg.Auth.SessionTTL,
			Logger:     logger.WithField("component", "sessions"),
		}),
		Spaces:   api.NewSpaceHandlers(spaceService),
		Pictures: api.NewPictureHandlers(pictureService, cfg.Pictures.MaxUploadBytes, middleware.Throttle(limiter, logger, metrics)),
		Collab: collab.NewHandshake(pictureService, spaceService, gate, nil,
			collab.AllowOrigins(cfg.Server.AllowedOrigins), logger.WithField("component", "collab")).WithMetrics(otelMetrics),
		Tracing: cfg.Observability.OTelEnabled,
	})

	serverErrors := logger.WithField("component", "http").Writer(observability.WarnLevel)
	defer serverErrors.Close()

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     log.New(serverErrors, "", 0),
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(version,
		observability.DatabaseProbe(db),
		observability.ReplicaProbe(conns),
		observability.SessionProbe(redisClient),
		observability.ObjectStoreProbe(objects),
	))
	observability.RegisterMetricsEndpoint(healthMux, registry)
	healthServer := &http.Server{
		Addr:     net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:  healthMux,
		ErrorLog: log.New(serverErrors, "", 0),
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.Stage("workers").
		Add("reconciler", reconciler.Stop).
		Add("object cleanup", func(ctx context.Context) error {
			return drainCleanup(ctx, pool)
		})
	shutdown.Stage("stores").
		Add("redis", func(context.Context) error { return redisClient.Close() }).
		Add("postgres", func(context.Context) error { return conns.Close() })
	shutdown.Stage("telemetry").Add("otel", tp.Shutdown)

	g, gctx := errgroup.WithContext(ctx)
	conns.StartHealthCheckRoutine(gctx, 0)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("API server listening")
		return listen(apiServer)
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		return listen(healthServer)
	})
	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Gallery server stopped")
	return nil
}

func newObjectStore(ctx context.Context, cfg storage.Config) (storage.ObjectStore, error) {
	switch cfg.ObjectStore {
	case "s3":
		store, err := storage.NewS3Store(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 store: %w", err)
		}
		return store, nil
	default:
		store, err := storage.NewFileSystemStore(cfg.FilesystemRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize filesystem store: %w", err)
		}
		return store, nil
	}
}

// listen treats a graceful shutdown as success
func listen(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server %s: %w", server.Addr, err)
	}
	return nil
}

func drainCleanup(ctx context.Context, pool *async.WorkerPool) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		return pool.Shutdown(0)
	}
	return pool.Shutdown(time.Until(deadline))
}
