// Package worker consumes export jobs: one message at a time it rebuilds
// the playlist snapshot, mails it, and settles the message according to
// the configured acknowledgment policy.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openmusic/openmusic/internal/domain/playlist"
	"github.com/openmusic/openmusic/internal/jobs"
	"github.com/openmusic/openmusic/internal/mail"
	"github.com/openmusic/openmusic/internal/observability"
	"github.com/openmusic/openmusic/internal/queue"
)

type AckPolicy string

const (
	// AckRetry requeues retryable failures until MaxAttempts, then
	// dead-letters them. Non-retryable failures are dead-lettered at once.
	AckRetry AckPolicy = "retry"
	// AckAlways acknowledges every message whatever the outcome.
	AckAlways AckPolicy = "always"
)

func ParseAckPolicy(s string) (AckPolicy, error) {
	switch AckPolicy(s) {
	case AckRetry, AckAlways:
		return AckPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown ack policy %q", s)
	}
}

type SnapshotBuilder interface {
	Build(ctx context.Context, playlistID string) (playlist.Snapshot, error)
}

type Config struct {
	Queue          string
	AckPolicy      AckPolicy
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

type Worker struct {
	cfg     Config
	sub     queue.Subscriber
	builder SnapshotBuilder
	mailer  mail.Dispatcher
	log     *slog.Logger
	prom    *observability.Prom
	stats   *observability.ExportStats

	readyMu sync.RWMutex
	ready   bool
}

// New fills zero Config fields with defaults. prom and stats may be nil.
func New(cfg Config, sub queue.Subscriber, builder SnapshotBuilder, mailer mail.Dispatcher, log *slog.Logger, prom *observability.Prom, stats *observability.ExportStats) *Worker {
	if cfg.Queue == "" {
		cfg.Queue = jobs.QueueExportPlaylist
	}
	if cfg.AckPolicy == "" {
		cfg.AckPolicy = AckRetry
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if log == nil {
		log = slog.Default()
	}
	if prom == nil {
		prom = observability.NewProm(observability.NewRegistry())
	}
	if stats == nil {
		stats = observability.NewExportStats()
	}

	return &Worker{
		cfg:     cfg,
		sub:     sub,
		builder: builder,
		mailer:  mailer,
		log:     log.With("component", "export_worker", "queue", cfg.Queue),
		prom:    prom,
		stats:   stats,
	}
}

// Run blocks until ctx is cancelled or the broker is lost. After
// cancellation the in-flight message is finished and settled before Run
// returns.
func (w *Worker) Run(ctx context.Context) error {
	w.setReady(true)
	defer w.setReady(false)

	stopWatch := context.AfterFunc(ctx, func() {
		w.setReady(false)
		w.log.Info("worker.draining")
	})
	defer stopWatch()

	w.log.Info("worker.started",
		"ack_policy", string(w.cfg.AckPolicy),
		"max_attempts", w.cfg.MaxAttempts,
	)

	err := w.sub.Consume(ctx, w.cfg.Queue, func(ctx context.Context, d queue.Delivery) {
		w.ProcessDelivery(ctx, d)
	})

	if err != nil {
		w.log.Error("worker.consume_failed", "err", err)
		return err
	}

	w.log.Info("worker.stopped")
	return nil
}

func (w *Worker) Ready() bool {
	w.readyMu.RLock()
	defer w.readyMu.RUnlock()
	return w.ready
}

func (w *Worker) setReady(v bool) {
	w.readyMu.Lock()
	w.ready = v
	w.readyMu.Unlock()
}

func (w *Worker) Stats() observability.ExportStatsSnapshot {
	return w.stats.Snapshot()
}
