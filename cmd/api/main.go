// Package main provides the entrypoint for the camfinder API server.
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

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/camfinder/camfinder/internal/api"
	"github.com/camfinder/camfinder/internal/api/handler"
	"github.com/camfinder/camfinder/internal/api/middleware"
	"github.com/camfinder/camfinder/internal/auth"
	"github.com/camfinder/camfinder/internal/config"
	"github.com/camfinder/camfinder/internal/database"
	"github.com/camfinder/camfinder/internal/entitlement"
	"github.com/camfinder/camfinder/internal/resilience"
	"github.com/camfinder/camfinder/internal/telemetry"
	"github.com/camfinder/camfinder/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "camfinder-api"

func main() {
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("api server failed")
	}
	log.Info().Msg("server stopped")
}

func run(log zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log = log.Level(cfg.Level())

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Env).
		Str("store", cfg.StoreBackend).
		Msg("starting camfinder API")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.OTelEnabled,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	metrics, err := middleware.NewMetrics()
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}

	repo, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	catalog, err := config.NewCatalogSource(cfg.CatalogPath, log)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	catalog.Watch()

	service := entitlement.NewService(entitlement.ServiceConfig{
		Repo:         repo,
		Catalog:      catalog,
		Logger:       log,
		InitialFree:  cfg.InitialFreeUses,
		UnlockCode:   cfg.DeveloperUnlockCode,
		StoreTimeout: cfg.StoreTimeout,
		Retry:        resilience.RetryConfig{MaxRetries: cfg.RetryMax},
	})
	if cfg.DeveloperUnlockCode != "" {
		log.Warn().Msg("promo unlock code is set, claims carrying it enable developer mode")
	}

	var authService *auth.Service
	if cfg.OperatorEnabled() {
		authService, err = auth.NewService(auth.ServiceConfig{
			JWTService: auth.NewJWTService(auth.JWTConfig{
				SigningKey: cfg.OperatorSigningKey,
				TTL:        cfg.OperatorTokenTTL,
			}),
			PasswordHash: cfg.OperatorPasswordHash,
			Password:     cfg.OperatorPassword,
			Logger:       log,
		})
		if err != nil {
			return fmt.Errorf("initialize operator auth: %w", err)
		}
	} else {
		log.Warn().Msg("operator login not configured, admin endpoints will reject every request")
	}

	// A nil *SweepJob must not become a non-nil handler.Sweeper.
	var sweeper handler.Sweeper
	var sweepJob *worker.SweepJob
	if cfg.SweepEnabled {
		sweepJob = worker.NewSweepJob(worker.SweepJobConfig{
			Config: worker.SweepConfig{
				Interval:    cfg.SweepInterval,
				Concurrency: cfg.SweepConcurrency,
			},
			Logger:  log,
			Expirer: service,
		})
		sweeper = sweepJob
	}

	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     metrics,
		Service:     service,
		AuthService: authService,
		Idempotency: middleware.NewIdempotency(middleware.IdempotencyConfig{
			CacheBytes: cfg.IdempotencyCacheMB << 20,
			Metrics:    metrics,
			Logger:     log,
		}),
		Sweeper:    sweeper,
		RequireTLS: cfg.RequireTLS,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if sweepJob != nil {
		g.Go(func() error {
			return sweepJob.Start(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// openStore builds the configured repository. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (entitlement.Repository, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		log.Warn().Msg("using in-memory store, state is lost on restart")
		return entitlement.NewInMemoryRepository(), func() {}, nil

	case config.BackendFile:
		repo, err := entitlement.NewFileRepository(cfg.SnapshotPath, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open snapshot %s: %w", cfg.SnapshotPath, err)
		}
		return repo, repo.Close, nil

	case config.BackendPostgres:
		dbConfig, err := database.ConfigFromEnv()
		if err != nil {
			return nil, nil, err
		}
		pool, err := database.Connect(ctx, dbConfig, log)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		repo := entitlement.NewPostgresRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return repo, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
