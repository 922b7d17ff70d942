// Package mail delivers playlist snapshots to the requesting user.
package mail

import (
	"context"
	"errors"

	"github.com/openmusic/openmusic/internal/domain/playlist"
)

var (
	// ErrTransport covers every failure to hand the message to the mail server.
	ErrTransport        = errors.New("mail transport failed")
	ErrInvalidRecipient = errors.New("invalid recipient address")

	// ErrInvalidSender means SMTP_FROM (or SMTP_USER) is not a usable address.
	ErrInvalidSender = errors.New("invalid sender address")
)

// Dispatcher sends one export email. Implementations never retry; that is
// the worker's decision.
type Dispatcher interface {
	Send(ctx context.Context, to string, s playlist.Snapshot) error
}
