package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openmusic/openmusic/internal/auth"
	"github.com/openmusic/openmusic/internal/config"
	"github.com/openmusic/openmusic/internal/db"
	"github.com/openmusic/openmusic/internal/exports"
	httpx "github.com/openmusic/openmusic/internal/http"
	"github.com/openmusic/openmusic/internal/http/handlers"
	"github.com/openmusic/openmusic/internal/observability"
	"github.com/openmusic/openmusic/internal/playlists"
	"github.com/openmusic/openmusic/internal/queue/connect"
	"github.com/openmusic/openmusic/internal/repo/postgres"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env, "openmusic-api")
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "err", err)
		os.Exit(1)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	shutdownTracer, err := observability.InitTracer(startCtx, "openmusic-api", cfg.OTelEndpoint)
	if err != nil {
		log.Error("tracer init failed", "err", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(startCtx, cfg.DBURL, cfg.DBMaxConns)
	if err != nil {
		log.Error("db connect failed", "err", err, "url", config.Redact(cfg.DBURL))
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.SeedSampleData {
		if err := db.EnsureSchema(startCtx, pool); err != nil {
			log.Error("schema setup failed", "err", err)
			os.Exit(1)
		}
		if err := db.SeedSampleData(startCtx, pool, "secret"); err != nil {
			log.Error("seeding sample data failed", "err", err)
			os.Exit(1)
		}
		log.Info("sample data seeded", "playlist_id", db.SamplePlaylistID, "owner", db.SampleOwnerID)
	}

	broker, err := connect.Open(startCtx, cfg, log)
	if err != nil {
		log.Error("broker connect failed", "err", err, "driver", cfg.BrokerDriver, "url", cfg.BrokerURL())
		os.Exit(1)
	}
	defer broker.Close()

	prom := observability.NewProm(observability.NewRegistry())

	repo := postgres.NewPlaylistsRepo(pool, prom)
	gate := playlists.NewAccessGate(repo)
	enqueuer := exports.NewEnqueuer(gate, broker,
		exports.WithLogger(log),
		exports.WithMetrics(prom),
	)

	router := httpx.NewRouter(cfg, httpx.Deps{
		Log:     log,
		Tokens:  auth.NewManager(cfg.AccessTokenKey, cfg.AccessTokenTTL),
		Exports: enqueuer,
		Prom:    prom,
		Checks: map[string]handlers.Check{
			"database": pool.Ping,
			"broker":   broker.Ping,
		},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env, "broker", cfg.BrokerDriver, "broker_url", cfg.BrokerURL())
		err := srv.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("server shutting down")

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctx, cancel := config.WithTimeout(10 * time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "err", err)
			return
		}

		if err := shutdownTracer(ctx); err != nil {
			log.Warn("tracer shutdown failed", "err", err)
		}
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}
}
