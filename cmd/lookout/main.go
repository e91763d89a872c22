package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lookout-vision/lookout/pkg/api"
	"github.com/lookout-vision/lookout/pkg/archive"
	"github.com/lookout-vision/lookout/pkg/auth"
	"github.com/lookout-vision/lookout/pkg/config"
	"github.com/lookout-vision/lookout/pkg/history"
	"github.com/lookout-vision/lookout/pkg/inference"
	"github.com/lookout-vision/lookout/pkg/middleware"
	"github.com/lookout-vision/lookout/pkg/observability"
	"github.com/lookout-vision/lookout/pkg/storage/postgres"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("lookout exited with error")
	}
}

// stores are the persistence backends picked by configuration
type stores struct {
	users   auth.UserStore
	history history.Store
	conns   *postgres.ConnectionManager
}

func openStores(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*stores, error) {
	if cfg.Store.Type == config.StoreMemory {
		logger.Warn("Using in-memory stores; users and history are lost on restart")
		return &stores{
			users:   auth.NewMemoryUserStore(),
			history: history.NewMemoryStore(),
		}, nil
	}

	conns, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
		PrimaryURL:  cfg.Store.PostgresURL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.Store.PostgresReplicaURLs),
		MaxConns:    cfg.Store.PostgresMaxConns,
		MinConns:    cfg.Store.PostgresMinConns,
		Timeout:     cfg.Store.PostgresTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := postgres.RunMigrations(ctx, conns.Primary()); err != nil {
		conns.Close()
		return nil, err
	}

	entries, err := history.NewDBStore(conns.Primary(), history.WithReader(conns.Replica))
	if err != nil {
		conns.Close()
		return nil, err
	}
	return &stores{
		users:   auth.NewDBUserStore(conns.Primary()),
		history: entries,
		conns:   conns,
	}, nil
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = observability.NewRegistry()
		metrics = observability.NewMetrics(registry)
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	var limiter middleware.Limiter
	limits := middleware.AuthEndpointRateLimitConfig(cfg.Auth.RateLimitPerMinute)
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		limiter = middleware.NewDistributedRateLimiter(redisClient, limits, "")
		logger.Info("Using Redis rate limiter")
	} else {
		local := middleware.NewRateLimiter(limits)
		local.StartCleanup(ctx, logger)
		limiter = local
	}

	var store archive.Archive = archive.Noop{}
	var s3Archive *archive.S3Archive
	if cfg.Archive.Enabled {
		s3Archive, err = archive.NewS3Archive(ctx, archive.Config{
			Endpoint:     cfg.Archive.Endpoint,
			Region:       cfg.Archive.Region,
			Bucket:       cfg.Archive.Bucket,
			AccessKey:    cfg.Archive.AccessKey,
			SecretKey:    cfg.Archive.SecretKey,
			UsePathStyle: cfg.Archive.UsePathStyle,
		})
		if err != nil {
			return err
		}
		store = s3Archive
		logger.WithField("bucket", s3Archive.Bucket()).Info("Archiving training images")
	}

	clientOpts := []inference.Option{
		inference.WithLogger(logger),
		inference.WithTimeout(cfg.Inference.Timeout),
	}
	recorder := history.NewRecorder(st.history, logger)
	if metrics != nil {
		clientOpts = append(clientOpts, inference.WithObserver(metrics.ObserveInference))
		recorder.WithObserver(func(t history.Type, s history.Status) {
			metrics.ObserveHistoryStatus(string(t), string(s))
		})
	}
	client := inference.NewClient(cfg.Inference.URL, clientOpts...)

	codec := auth.NewTokenCodec(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if !codec.Configured() {
		logger.Warn("JWT_SECRET is not set; login and authenticated routes will answer 500")
	}

	server := api.NewServer(api.Options{
		Auth:             auth.NewService(st.users, codec, logger),
		Recorder:         recorder,
		Inference:        client,
		Archive:          store,
		AuthLimiter:      limiter,
		Metrics:          metrics,
		Logger:           logger,
		CookieSecure:     cfg.Auth.CookieSecure,
		MaxUploadBytes:   cfg.Server.MaxUploadBytes,
		StoreFrameImages: cfg.Store.StoreFrameImages,
		CORSOrigins:      cfg.Server.CORSOrigins,
	})
	apiServer := server.NewHTTPServer(cfg.Server.Addr(), cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	if cfg.Server.IdleTimeout > 0 {
		apiServer.IdleTimeout = cfg.Server.IdleTimeout
	}

	checker := observability.NewHealthChecker(primaryOrNil(st.conns), redisClient)
	checker.SetVersion(version)
	checker.AddCheck("inference", false, client.Ping)
	if s3Archive != nil {
		checker.AddCheck("archive", false, s3Archive.HealthCheck)
	}
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, checker)
	if registry != nil {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              cfg.Server.HealthAddr(),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})
	if st.conns != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return st.conns.Close() })
	}
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}

	g, gctx := errgroup.WithContext(ctx)

	if st.conns != nil {
		st.conns.StartHealthCheckRoutine(gctx, time.Minute)
		if metrics != nil {
			go reportPoolStats(gctx, st.conns, metrics)
		}
	} else {
		// entries in memory die with the process; nothing outlives a request to sweep
		logger.Info("Memory store in use; stale entry sweeping runs only with lookout-sweeper against postgres")
	}

	g.Go(func() error {
		return serve(apiServer, logger.WithField("server", "api"))
	})
	g.Go(func() error {
		return serve(healthServer, logger.WithField("server", "health"))
	})
	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	logger.WithFields(logrus.Fields{
		"addr":      apiServer.Addr,
		"health":    healthServer.Addr,
		"store":     cfg.Store.Type,
		"inference": client.BaseURL(),
		"version":   version,
	}).Info("lookout started")

	return g.Wait()
}

// serve runs srv until it is shut down. A failure to listen ends the group
// and so triggers shutdown of everything else.
func serve(srv *http.Server, logger logrus.FieldLogger) error {
	defer observability.RecoverPanic(logger, "http server")

	logger.WithField("addr", srv.Addr).Info("Listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func primaryOrNil(conns *postgres.ConnectionManager) *sql.DB {
	if conns == nil {
		return nil
	}
	return conns.Primary()
}

func reportPoolStats(ctx context.Context, conns *postgres.ConnectionManager, metrics *observability.Metrics) {
	defer observability.RecoverPanic(logrus.StandardLogger(), "pool stats")

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		stats := conns.Primary().Stats()
		metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))
		metrics.DBConnectionsInUse.Set(float64(stats.InUse))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
