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

	"github.com/openmusic/openmusic/internal/config"
	"github.com/openmusic/openmusic/internal/db"
	"github.com/openmusic/openmusic/internal/mail"
	"github.com/openmusic/openmusic/internal/observability"
	"github.com/openmusic/openmusic/internal/playlists"
	"github.com/openmusic/openmusic/internal/queue/connect"
	"github.com/openmusic/openmusic/internal/queue/worker"
	"github.com/openmusic/openmusic/internal/repo/postgres"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker stopped with error", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env, "openmusic-worker")
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ackPolicy, err := worker.ParseAckPolicy(cfg.ExportAckPolicy)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "openmusic-worker", cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		tctx, cancel := config.WithTimeout(5 * time.Second)
		defer cancel()
		_ = shutdownTracer(tctx)
	}()

	// NewPool pings, so an unreachable database fails start
	pool, err := db.NewPool(ctx, cfg.DBURL, cfg.DBMaxConns)
	if err != nil {
		return fmt.Errorf("db connect (%s): %w", config.Redact(cfg.DBURL), err)
	}
	defer pool.Close()

	broker, err := connect.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("broker connect (%s %s): %w", cfg.BrokerDriver, cfg.BrokerURL(), err)
	}
	defer broker.Close()

	dispatcher, err := newDispatcher(cfg, log)
	if err != nil {
		return err
	}
	mailer := mail.NewProtectedDispatcher(dispatcher, mail.ProtectedConfig{
		Timeout: cfg.MailSendTimeout,
	})

	prom := observability.NewProm(observability.NewRegistry())
	repo := postgres.NewPlaylistsRepo(pool, prom)
	builder := playlists.NewSnapshotBuilder(repo,
		playlists.WithPointInTimeReads(cfg.ExportSnapshotIsolation),
	)

	w := worker.New(worker.Config{
		AckPolicy:      ackPolicy,
		MaxAttempts:    cfg.ExportMaxAttempts,
		RetryBaseDelay: cfg.ExportRetryBaseDelay,
	}, broker, builder, mailer, log, prom, observability.NewExportStats())

	healthSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.WorkerHealthPort),
		Handler: w.HealthHandler(map[string]worker.ReadinessDeps{
			"database": pool,
			"broker":   broker,
		}, prom.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("worker health server starting", "port", cfg.WorkerHealthPort)
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("worker health server failed", "err", err)
		}
	}()

	log.Info("worker has started",
		"broker", cfg.BrokerDriver,
		"broker_url", cfg.BrokerURL(),
		"mail", cfg.MailDriver,
		"ack_policy", ackPolicy,
		"max_attempts", cfg.ExportMaxAttempts,
	)

	runErr := w.Run(ctx)

	shutdownCtx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	if runErr != nil {
		return runErr
	}

	log.Info("worker shutdown complete")
	return nil
}

func newDispatcher(cfg config.Config, log *slog.Logger) (mail.Dispatcher, error) {
	if cfg.MailDriver == config.MailLog {
		return mail.NewLogDispatcher(log), nil
	}

	d, err := mail.NewSMTPDispatcher(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return d, nil
}
