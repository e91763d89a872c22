// Command lookout-sweeper fails history entries that were left pending or
// processing, for example by a crashed API process. It needs the postgres
// store; in-memory entries do not outlive the API process.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lookout-vision/lookout/pkg/config"
	"github.com/lookout-vision/lookout/pkg/history"
	"github.com/lookout-vision/lookout/pkg/observability"
	"github.com/lookout-vision/lookout/pkg/storage/postgres"
)

var runOnce = flag.Bool("run-once", false, "Sweep once and exit")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)

	if cfg.Store.Type != config.StorePostgres {
		logger.WithField("store", cfg.Store.Type).Fatal("lookout-sweeper requires LOOKOUT_STORE_TYPE=postgres")
	}

	ctx := context.Background()
	conns, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
		PrimaryURL: cfg.Store.PostgresURL,
		MaxConns:   2,
		Timeout:    cfg.Store.PostgresTimeout,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer conns.Close()

	if err := postgres.RunMigrations(ctx, conns.Primary()); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}

	store, err := history.NewDBStore(conns.Primary())
	if err != nil {
		logger.WithError(err).Fatal("Failed to create history store")
	}

	var metrics *observability.Metrics
	var onSwept func(int64)
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(observability.NewRegistry())
		onSwept = metrics.ObserveSwept
	}

	sweeper, err := history.NewSweeper(history.NewRecorder(store, logger), cfg.Sweeper.Schedule, cfg.Sweeper.StaleAfter, logger, onSwept)
	if err != nil {
		logger.WithError(err).Fatal("Failed to schedule sweeper")
	}

	if *runOnce {
		moved, err := sweeper.RunOnce(ctx)
		if err != nil {
			logger.WithError(err).Fatal("Sweep failed")
		}
		logger.WithField("moved", moved).Info("Sweep completed")
		return
	}

	sweeper.Start()
	logger.WithFields(logrus.Fields{
		"schedule":    cfg.Sweeper.Schedule,
		"stale_after": cfg.Sweeper.StaleAfter,
	}).Info("lookout-sweeper started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down gracefully...")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sweeper.Stop(stopCtx); err != nil {
		logger.WithError(err).Warn("Sweep still running at shutdown")
	}
	logger.Info("Sweeper stopped")
}
