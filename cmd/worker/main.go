// Package main provides the entrypoint for the camfinder worker. It runs the
// expiry sweep against the shared Postgres store and, when configured, serves
// sweep requests arriving over Pub/Sub.
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

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/camfinder/camfinder/internal/api/handler"
	"github.com/camfinder/camfinder/internal/api/middleware"
	"github.com/camfinder/camfinder/internal/config"
	"github.com/camfinder/camfinder/internal/database"
	"github.com/camfinder/camfinder/internal/entitlement"
	"github.com/camfinder/camfinder/internal/resilience"
	"github.com/camfinder/camfinder/internal/telemetry"
	"github.com/camfinder/camfinder/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "camfinder-worker"

func main() {
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("worker failed")
	}
	log.Info().Msg("worker stopped")
}

func run(log zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log = log.Level(cfg.Level())

	// The sweep must see the API's writes, so only the shared store works here.
	if cfg.StoreBackend != config.BackendPostgres {
		return fmt.Errorf("worker requires STORE_BACKEND=%s, got %q", config.BackendPostgres, cfg.StoreBackend)
	}

	log.Info().Str("build_time", BuildTime).Msg("starting camfinder worker")

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

	dbConfig, err := database.ConfigFromEnv()
	if err != nil {
		return err
	}
	pool, err := database.Connect(ctx, dbConfig, log)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	repo := entitlement.NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	service := entitlement.NewService(entitlement.ServiceConfig{
		Repo:         repo,
		Logger:       log,
		InitialFree:  cfg.InitialFreeUses,
		StoreTimeout: cfg.StoreTimeout,
		Retry:        resilience.RetryConfig{MaxRetries: cfg.RetryMax},
	})

	sweepJob := worker.NewSweepJob(worker.SweepJobConfig{
		Config: worker.SweepConfig{
			Interval:    cfg.SweepInterval,
			Concurrency: cfg.SweepConcurrency,
		},
		Logger:  log,
		Expirer: service,
	})

	// Health endpoints for the platform's probes.
	ops := handler.NewOpsHandler(Version, BuildTime, service, sweepJob)
	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recovery(log))
	mux.Get("/health", ops.HealthCheck)
	mux.Get("/ready", ops.ReadinessCheck)
	mux.Get("/status", ops.SystemStatus)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("health check server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return sweepJob.Start(gctx)
	})

	if cfg.PubSubEnabled() {
		pubsubHandler, err := worker.NewPubSubHandler(gctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSubProjectID,
			SubscriptionName: cfg.PubSubSubscription,
			SweepJob:         sweepJob,
			Store:            service,
			Logger:           log,
		})
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("create pubsub handler: %w", err)
		}
		defer func() {
			if err := pubsubHandler.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close pubsub client")
			}
		}()

		g.Go(func() error {
			return pubsubHandler.Start(gctx)
		})
	} else {
		log.Info().Msg("pubsub not configured, running the scheduled sweep only")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down worker")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
