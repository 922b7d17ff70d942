// Package exports accepts playlist export requests and hands them to the
// broker as ExportJob messages.
package exports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/openmusic/openmusic/internal/domain/playlist"
	"github.com/openmusic/openmusic/internal/jobs"
	"github.com/openmusic/openmusic/internal/mail"
	"github.com/openmusic/openmusic/internal/observability"
	"github.com/openmusic/openmusic/internal/queue"
)

type AccessVerifier interface {
	Verify(ctx context.Context, playlistID, userID string) (playlist.Decision, error)
}

type Enqueuer struct {
	gate  AccessVerifier
	pub   queue.Publisher
	queue string
	log   *slog.Logger
	prom  *observability.Prom
}

type Option func(*Enqueuer)

// WithQueue overrides the destination queue, mostly for tests.
func WithQueue(name string) Option {
	return func(e *Enqueuer) { e.queue = name }
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Enqueuer) { e.log = log }
}

func WithMetrics(prom *observability.Prom) Option {
	return func(e *Enqueuer) { e.prom = prom }
}

func NewEnqueuer(gate AccessVerifier, pub queue.Publisher, opts ...Option) *Enqueuer {
	e := &Enqueuer{
		gate:  gate,
		pub:   pub,
		queue: jobs.QueueExportPlaylist,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SubmitExport checks access and publishes one export job. It returns only
// after the broker confirmed the message, so a nil error means the job is
// durable. Nothing is published when any check fails.
func (e *Enqueuer) SubmitExport(ctx context.Context, playlistID, targetEmail, userID string) (err error) {
	ctx, span := otel.Tracer("openmusic/exports").Start(ctx, "exports.submit")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, KindOf(err))
			if e.prom != nil {
				e.prom.ExportsRejected.WithLabelValues(KindOf(err)).Inc()
			}
		}
		span.End()
	}()

	playlistID = strings.TrimSpace(playlistID)
	targetEmail = strings.TrimSpace(targetEmail)
	userID = strings.TrimSpace(userID)

	if playlistID == "" || userID == "" || targetEmail == "" {
		return fmt.Errorf("%w: playlistId, targetEmail and user are required", ErrInvalidInput)
	}

	payload := jobs.ExportPlaylistPayload{PlaylistID: playlistID, TargetEmail: targetEmail}
	if err := jobs.ValidateExportPayload(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	span.SetAttributes(attribute.String("playlist.id", playlistID))

	decision, err := e.gate.Verify(ctx, playlistID, userID)
	if err != nil {
		return err
	}

	body, err := jobs.EncodeExportPayload(payload)
	if err != nil {
		return err
	}

	headers := map[string]string{
		queue.HeaderSchemaVersion: jobs.SchemaVersionString(),
		queue.HeaderAttempt:       "1",
	}
	queue.InjectTrace(ctx, headers)

	start := time.Now()

	if err := e.pub.Publish(ctx, e.queue, queue.Message{Body: body, Headers: headers}); err != nil {
		if !errors.Is(err, queue.ErrBrokerUnavailable) {
			err = fmt.Errorf("%w: %v", queue.ErrBrokerUnavailable, err)
		}
		e.log.ErrorContext(ctx, "export.publish_failed",
			"playlist_id", playlistID,
			"user_id", userID,
			"queue", e.queue,
			"err", err,
		)
		return err
	}

	if e.prom != nil {
		e.prom.PublishDuration.Observe(time.Since(start).Seconds())
		e.prom.ExportsEnqueued.WithLabelValues(string(decision)).Inc()
	}

	e.log.InfoContext(ctx, "export.enqueued",
		"playlist_id", playlistID,
		"user_id", userID,
		"decision", string(decision),
		"to", mail.MaskAddress(targetEmail),
		"queue", e.queue,
	)

	return nil
}
