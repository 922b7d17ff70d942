package exports

import (
	"errors"

	"github.com/openmusic/openmusic/internal/domain/playlist"
	"github.com/openmusic/openmusic/internal/jobs"
	"github.com/openmusic/openmusic/internal/mail"
	"github.com/openmusic/openmusic/internal/queue"
)

var ErrInvalidInput = errors.New("invalid input")

// Error kinds shared by the HTTP layer, worker logs and metrics labels.
const (
	KindNotFound      = "not_found"
	KindForbidden     = "forbidden"
	KindInvalidInput  = "invalid_input"
	KindTransport     = "transport"
	KindMisconfigured = "misconfigured" // retrying the job cannot help
	KindUnexpected    = "unexpected"
)

// KindOf classifies err. nil has no kind.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, playlist.ErrNotFound):
		return KindNotFound
	case errors.Is(err, playlist.ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, jobs.ErrInvalidJobPayload),
		errors.Is(err, jobs.ErrUnsupportedSchema),
		errors.Is(err, mail.ErrInvalidRecipient):
		return KindInvalidInput
	case errors.Is(err, mail.ErrInvalidSender):
		return KindMisconfigured
	case errors.Is(err, queue.ErrBrokerUnavailable),
		errors.Is(err, mail.ErrTransport):
		return KindTransport
	default:
		return KindUnexpected
	}
}

// Retryable reports whether another attempt could succeed without anyone
// changing the job.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindUnexpected:
		return true
	default:
		return false
	}
}
