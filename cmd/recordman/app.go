package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/openlibhub/recordman/internal/config"
	"github.com/openlibhub/recordman/internal/controller"
	"github.com/openlibhub/recordman/internal/database"
	"github.com/openlibhub/recordman/internal/dedup"
	"github.com/openlibhub/recordman/internal/events"
	"github.com/openlibhub/recordman/internal/index"
	"github.com/openlibhub/recordman/internal/metadata"
	"github.com/openlibhub/recordman/internal/observability"
	"github.com/openlibhub/recordman/internal/runlock"
	"github.com/openlibhub/recordman/internal/server"
	"github.com/openlibhub/recordman/internal/store"
)

// app bundles everything a command needs at runtime.
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	db         *database.DB
	controller *controller.Controller
	publisher  events.Publisher
	metricsSrv *server.Server
}

// withApp bootstraps configuration, logging, the run lock and all
// collaborators, runs fn, and tears everything down on every exit path.
// lockfileFlag overrides the configured lock file path when set.
func withApp(lockfileFlag string, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})

	lockfile := cfg.Lockfile
	if lockfileFlag != "" {
		lockfile = lockfileFlag
	}
	lock, err := runlock.Acquire(ctx, lockfile)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Error().Err(err).Msg("releasing run lock failed")
		}
	}()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	var metrics *observability.Metrics
	var metricsSrv *server.Server
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics("recordman")
		metricsSrv = server.NewServer(server.Config{
			Address:      cfg.Server.MetricsAddress(),
			MetricsPath:  cfg.Metrics.Path,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}, db, logger)
		go func() {
			if err := metricsSrv.Start(); err != nil {
				logger.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled {
		kp := events.NewKafkaPublisher(events.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}, logger)
		defer func() {
			if err := kp.Close(); err != nil {
				logger.Error().Err(err).Msg("closing event publisher failed")
			}
		}()
		publisher = kp
	}

	recordStore := store.NewPgRecordStore(db, db)
	engine := dedup.NewEngine(recordStore, dedup.Config{
		TitleWeight:    cfg.Dedup.TitleWeight,
		AuthorWeight:   cfg.Dedup.AuthorWeight,
		FuzzyThreshold: cfg.Dedup.FuzzyThreshold,
		YearTolerance:  cfg.Dedup.YearTolerance,
	}, logger)
	solr := index.NewSolrClient(index.SolrClientConfig{
		URL:          cfg.Solr.URL,
		Timeout:      cfg.Solr.Timeout,
		RateLimit:    cfg.Solr.RateLimit,
		BatchSize:    cfg.Solr.BatchSize,
		CommitWithin: cfg.Solr.CommitWithin,
	}, metrics, logger)

	a := &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		controller: controller.New(controller.Params{
			Store:     recordStore,
			Registry:  metadata.DefaultRegistry(),
			Engine:    engine,
			Indexer:   solr,
			Publisher: publisher,
			Metrics:   metrics,
			Logger:    logger,
			Sources:   cfg.Sources,
		}),
		publisher:  publisher,
		metricsSrv: metricsSrv,
	}

	start := time.Now()
	err = fn(ctx, a)
	logger.Info().Dur("elapsed", time.Since(start)).Msg("operation finished")
	return err
}
