package worker

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openmusic/openmusic/internal/exports"
	"github.com/openmusic/openmusic/internal/jobs"
	"github.com/openmusic/openmusic/internal/mail"
	"github.com/openmusic/openmusic/internal/queue"
)

type Outcome string

const (
	Delivered    Outcome = "delivered"
	Retried      Outcome = "retried"
	DeadLettered Outcome = "dead_lettered"
	Dropped      Outcome = "dropped"
)

const settleTimeout = 10 * time.Second

// ProcessDelivery runs one export attempt and settles the message. It never
// panics on bad input and always settles, so a poison message cannot stall
// the queue.
func (w *Worker) ProcessDelivery(ctx context.Context, d queue.Delivery) Outcome {
	msg := d.Message()
	attempt := msg.Attempt()

	// the attempt runs to completion even when shutdown starts mid-way
	runCtx := queue.ExtractTrace(context.WithoutCancel(ctx), msg.Headers)
	runCtx, span := otel.Tracer("openmusic/worker").Start(runCtx, "exports.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", w.cfg.Queue),
			attribute.Int("export.attempt", attempt),
		),
	)
	defer span.End()

	w.stats.IncReceived()
	w.prom.ExportsInFlight.Inc()
	defer w.prom.ExportsInFlight.Dec()

	start := time.Now()

	payload, err := w.handle(runCtx, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, exports.KindOf(err))
	}

	outcome := w.settle(ctx, runCtx, d, attempt, payload, err)

	elapsed := time.Since(start)
	w.stats.ObserveDuration(elapsed)
	w.prom.ExportDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
	w.prom.ExportResults.WithLabelValues(string(outcome), exports.KindOf(err)).Inc()

	span.SetAttributes(attribute.String("export.outcome", string(outcome)))
	return outcome
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) (jobs.ExportPlaylistPayload, error) {
	if err := jobs.CheckSchemaVersion(msg.Headers[queue.HeaderSchemaVersion]); err != nil {
		return jobs.ExportPlaylistPayload{}, err
	}

	p, err := jobs.DecodeExportPayload(msg.Body)
	if err != nil {
		return p, err
	}

	snap, err := w.builder.Build(ctx, p.PlaylistID)
	if err != nil {
		return p, fmt.Errorf("build snapshot %s: %w", p.PlaylistID, err)
	}

	if err := w.mailer.Send(ctx, p.TargetEmail, snap); err != nil {
		return p, fmt.Errorf("send export %s: %w", p.PlaylistID, err)
	}

	return p, nil
}

func (w *Worker) settle(ctx, runCtx context.Context, d queue.Delivery, attempt int, p jobs.ExportPlaylistPayload, cause error) Outcome {
	log := w.log.With(
		"playlist_id", p.PlaylistID,
		"to", mail.MaskAddress(p.TargetEmail),
		"attempt", attempt,
	)

	settleCtx, cancel := context.WithTimeout(runCtx, settleTimeout)
	defer cancel()

	var (
		outcome Outcome
		err     error
	)

	kind := exports.KindOf(cause)

	switch {
	case cause == nil:
		outcome = Delivered
		err = d.Ack(settleCtx)
		w.stats.IncDelivered()
		log.InfoContext(runCtx, "export.delivered")

	case w.cfg.AckPolicy == AckAlways:
		outcome = Dropped
		err = d.Ack(settleCtx)
		w.stats.IncDropped()
		log.ErrorContext(runCtx, "export.dropped", "kind", kind, "err", cause)

	case !exports.Retryable(cause) || attempt >= w.cfg.MaxAttempts:
		reason := kind
		if exports.Retryable(cause) {
			reason = "max_attempts:" + kind
		}

		outcome = DeadLettered
		err = d.DeadLetter(settleCtx, reason)
		w.stats.IncDeadLettered()
		log.ErrorContext(runCtx, "export.dead_lettered", "kind", kind, "reason", reason, "err", cause)

	default:
		delay := RetryDelay(w.cfg.RetryBaseDelay, attempt)

		// skip the pause once shutdown has begun; the copy waits in the queue
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}

		outcome = Retried
		err = d.Requeue(settleCtx)
		w.stats.IncRetried()
		log.WarnContext(runCtx, "export.retry", "kind", kind, "delay_ms", delay.Milliseconds(), "err", cause)
	}

	if err != nil {
		// left unacknowledged: the broker will hand it out again
		log.ErrorContext(runCtx, "export.settle_failed", "outcome", string(outcome), "err", err)
	}

	return outcome
}
