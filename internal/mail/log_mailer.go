package mail

import (
	"context"
	"log/slog"

	"github.com/openmusic/openmusic/internal/domain/playlist"
)

// LogDispatcher renders the message and logs it instead of sending.
// MAIL_DRIVER=log selects it for local runs.
type LogDispatcher struct {
	log *slog.Logger
}

func NewLogDispatcher(log *slog.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Send(ctx context.Context, to string, s playlist.Snapshot) error {
	attachment, err := RenderAttachment(s)
	if err != nil {
		return err
	}

	d.log.InfoContext(ctx, "mail.logged",
		"to", MaskAddress(to),
		"subject", Subject,
		"playlist_id", s.ID,
		"songs", len(s.Songs),
		"attachment_bytes", len(attachment),
	)
	return nil
}
