package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/safar/game-store/internal/auth"
	"github.com/safar/game-store/internal/cache"
	"github.com/safar/game-store/internal/checkout"
	"github.com/safar/game-store/internal/config"
	"github.com/safar/game-store/internal/database"
	"github.com/safar/game-store/internal/httpapi"
	"github.com/safar/game-store/internal/logger"
	"github.com/safar/game-store/internal/metrics"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "game-store"})

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: cfg.App.ServiceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})

	db, err := database.NewConnection(context.Background(), &cfg.Database)
	if err != nil {
		logg.Error(context.Background(), "failed to connect to database", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := database.MigrateUp(db); err != nil {
		logg.Error(context.Background(), "failed to run migrations", err)
		os.Exit(1)
	}

	var (
		revoker auth.Revoker
		idem    httpapi.IdempotencyStore
	)
	if cfg.Redis.Enabled() {
		redisClient, err := cache.New(context.Background(), cfg.Redis.URL)
		if err != nil {
			logg.Error(context.Background(), "failed to connect to redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		revoker = redisClient
		idem = redisClient
	} else {
		logg.Warn(context.Background(), "REDIS_URL not set, idempotent checkout and token revocation disabled", nil)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	coordinator := checkout.New(db, logg, metrics.NewCheckoutMetrics(registry), checkout.Options{
		Timeout:       cfg.Checkout.Timeout,
		LockTimeout:   cfg.Checkout.LockTimeout,
		PaymentMethod: cfg.Checkout.PaymentMethod,
	})

	router := httpapi.NewRouter(httpapi.Deps{
		DB:             db,
		Logger:         logg,
		Auth:           auth.NewService(db, cfg.Auth, revoker, cfg.App.IsDev()),
		Checkout:       coordinator,
		Idempotency:    idem,
		IdempotencyTTL: cfg.Redis.IdempotencyTTL,
		HTTPMetrics:    metrics.NewHTTPMetrics(registry),
		Gatherer:       registry,
		CORSOrigins:    cfg.Server.CORSAllowedOrigins,
	})

	addr := ":" + cfg.Server.Port
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-shutdownCtx.Done():
		logg.Info(ctx, "shutting down api server")
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		logg.Error(ctx, "graceful shutdown failed", err)
	}
}
