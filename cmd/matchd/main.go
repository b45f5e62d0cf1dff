package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/matchd/internal/config"
	"github.com/kailas-cloud/matchd/internal/db"
	dbRedis "github.com/kailas-cloud/matchd/internal/db/redis"
	dbValkey "github.com/kailas-cloud/matchd/internal/db/valkey"
	logpkg "github.com/kailas-cloud/matchd/internal/logger"
	"github.com/kailas-cloud/matchd/internal/media"
	"github.com/kailas-cloud/matchd/internal/metrics"
	leaserepo "github.com/kailas-cloud/matchd/internal/repository/lease"
	pendingrepo "github.com/kailas-cloud/matchd/internal/repository/pending"
	reportrepo "github.com/kailas-cloud/matchd/internal/repository/report"
	chiTransport "github.com/kailas-cloud/matchd/internal/transport/chi"
	"github.com/kailas-cloud/matchd/internal/transport/scoring"
	"github.com/kailas-cloud/matchd/internal/usecase/coordinator"
	healthuc "github.com/kailas-cloud/matchd/internal/usecase/health"
	matchuc "github.com/kailas-cloud/matchd/internal/usecase/match"
	"github.com/kailas-cloud/matchd/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting matchd",
		zap.String("version", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.Int("sources", len(cfg.Scoring.Sources)),
		zap.String("media", cfg.Media.Driver),
	)

	// Register coordinator metrics explicitly (no init())
	metrics.RegisterCoordinatorMetrics()

	store, err := newStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Repositories
	reports := reportrepo.New(store, cfg.Database.KeyPrefix, cfg.Database.PageSize)
	pending := pendingrepo.New(store, cfg.Database.KeyPrefix)

	// Scoring sources, one client and one normalizer each, in config order
	sources := make([]coordinator.Source, 0, len(cfg.Scoring.Sources))
	probers := make([]healthuc.SourceProber, 0, len(cfg.Scoring.Sources))
	normalizers := make([]matchuc.Normalizer, 0, len(cfg.Scoring.Sources))
	for _, sc := range cfg.Scoring.Sources {
		client := scoring.New(&scoring.Config{
			Name:          sc.Name,
			URL:           sc.URL,
			Timeout:       time.Duration(sc.TimeoutSec) * time.Second,
			HealthTimeout: time.Duration(cfg.Scoring.HealthTimeoutSec) * time.Second,
			Retries:       sc.Retries,
			RequiresMedia: sc.RequiresMedia,
			Logger:        logger,
		})
		sources = append(sources, client)
		probers = append(probers, client)
		normalizers = append(normalizers, matchuc.Linear(sc.ScoreMin, sc.ScoreMax))
		logger.Info("Scoring source configured",
			zap.String("source", sc.Name),
			zap.String("url", sc.URL),
			zap.Bool("requires_media", sc.RequiresMedia),
		)
	}

	resolver, closeMedia, err := buildMedia(ctx, cfg.Media, logger)
	if err != nil {
		logger.Fatal("Failed to create media resolver", zap.Error(err))
	}
	defer func() {
		if err := closeMedia(); err != nil {
			logger.Warn("Error closing media resolver", zap.Error(err))
		}
	}()

	interval := time.Duration(cfg.Coordinator.IntervalSec) * time.Second
	opts := []coordinator.Option{
		coordinator.WithLogger(logger),
		coordinator.WithReadiness(store, time.Duration(cfg.Database.ReadinessTimeout)*time.Second),
		coordinator.WithMedia(resolver),
		coordinator.WithMerger(matchuc.NewMerger(normalizers...)),
		coordinator.WithPending(pending),
	}
	if cfg.Coordinator.LeaseEnabled {
		validity := time.Duration(cfg.Coordinator.LeaseTTLSec) * time.Second
		locker, err := leaserepo.NewLocker(leaserepo.Config{
			Addrs:     cfg.Database.Addrs,
			Password:  cfg.Database.Password,
			KeyPrefix: cfg.Database.KeyPrefix,
			Validity:  validity,
		})
		if err != nil {
			logger.Fatal("Failed to create cycle lease", zap.Error(err))
		}
		lease := leaserepo.New(locker)
		defer lease.Close()
		opts = append(opts, coordinator.WithLease(lease))
		logger.Info("Cycle lease enabled", zap.Duration("validity", validity))
	}

	coord := coordinator.New(reports, sources, coordinator.Config{
		Interval:         interval,
		Workers:          cfg.Coordinator.Workers,
		MaxStoreFailures: cfg.Coordinator.MaxStoreFailures,
	}, opts...)

	// Ops HTTP server
	healthSvc := healthuc.New(store, probers...)
	server := chiTransport.NewServer(healthSvc, coord, cfg.Auth.APIKeys, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// Blocks until a signal arrives or the coordinator terminates.
	runErr := coord.Start(ctx)
	if runErr == nil {
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	if runErr != nil {
		logger.Fatal("Coordinator terminated", zap.Error(runErr))
	}
	logger.Info("Server stopped gracefully")
}

// newStore creates the database store for the configured driver.
func newStore(cfg config.DatabaseConfig) (db.Store, error) {
	switch cfg.Driver {
	case config.DriverValkey:
		return dbValkey.NewStore(dbValkey.Config{Addrs: cfg.Addrs, Password: cfg.Password})
	default:
		return dbRedis.NewStore(dbRedis.Config{Addrs: cfg.Addrs, Password: cfg.Password})
	}
}

// buildMedia selects the media resolver for the configured driver.
// The returned close func is never nil.
func buildMedia(ctx context.Context, cfg config.MediaConfig, logger *zap.Logger) (*media.Resolver, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case config.MediaDir:
		return media.NewDir(cfg.Dir.BasePath, logger), noop, nil
	case config.MediaGCS:
		r, closeFn, err := media.NewGCS(ctx, media.GCSConfig{
			Bucket:          cfg.GCS.Bucket,
			Prefix:          cfg.GCS.Prefix,
			URLTTL:          time.Duration(cfg.GCS.URLTTLSec) * time.Second,
			CredentialsFile: cfg.GCS.CredentialsFile,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs media: %w", err)
		}
		return r, closeFn, nil
	default:
		return media.Nop(), noop, nil
	}
}
