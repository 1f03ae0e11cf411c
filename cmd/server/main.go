package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baechuer/fcfs-booking/internal/claimengine"
	"github.com/baechuer/fcfs-booking/internal/config"
	"github.com/baechuer/fcfs-booking/internal/dispatcher"
	"github.com/baechuer/fcfs-booking/internal/logging"
	"github.com/baechuer/fcfs-booking/internal/postgres"
	"github.com/baechuer/fcfs-booking/internal/redis"
	"github.com/baechuer/fcfs-booking/internal/security"
	"github.com/baechuer/fcfs-booking/internal/transport/rest"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(os.Stdout, logging.Options{
		Service: "fcfs-booking",
		Env:     cfg.AppEnv,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})

	// Root ctx with signal cancellation
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Migrations ----
	if cfg.AutoMigrate {
		if err := postgres.RunMigrations(cfg.DBDSN, log); err != nil {
			log.Fatal().Err(err).Msg("migrations failed")
		}
	}

	// ---- Postgres ----
	dbPool, err := pgxpool.New(rootCtx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool create failed")
	}
	defer dbPool.Close()

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()

		if err := dbPool.Ping(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")
	}

	if cfg.SeedDemo {
		if err := postgres.ApplySeed(rootCtx, dbPool); err != nil {
			log.Fatal().Err(err).Msg("seed failed")
		}
		log.Info().Msg("demo seed applied")
	}

	// ---- Redis (rate limiting) ----
	cache := redis.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		defer cancel()

		// Best-effort ping; the limiter fails open without redis
		if err := cache.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Msg("redis ping failed (continuing)")
		} else {
			log.Info().Msg("redis connected")
		}
	}

	// ---- Claim engine ----
	txm := postgres.NewTxManager(dbPool, log)
	engine := claimengine.New(txm)
	outboxStore := postgres.NewOutboxStore(dbPool)
	h := rest.NewHandler(engine, outboxStore)

	// ---- JWT verifier ----
	verifier := security.NewHS256Verifier(cfg.JWTSecret, cfg.JWTIssuer)

	// ---- Router ----
	httpHandler := rest.NewRouter(rest.RouterDeps{
		Handler:   h,
		Verifier:  verifier,
		Log:       log,
		DB:        dbPool,
		Cache:     cache,
		RLEnabled: cfg.RLEnabled,
		RLLimit:   cfg.RLLimit,
		RLWindow:  cfg.RLWindow,
	})

	// ---- Outbox dispatcher (outbound claim.* events) ----
	if cfg.OutboxEnabled {
		d := dispatcher.New(outboxStore, dispatcher.Config{
			BatchSize:    cfg.OutboxBatchSize,
			PollInterval: cfg.OutboxPollInterval,
			MaxRetries:   cfg.OutboxMaxRetries,
			TargetURL:    cfg.WebhookTargetURL,
			Secret:       cfg.WebhookSecret,
			HTTPTimeout:  cfg.WebhookHTTPTimeout,
		}, log)
		go d.Run(rootCtx)
		log.Info().Msg("outbox dispatcher started")
	}

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server crash
	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
