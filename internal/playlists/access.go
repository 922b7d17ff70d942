package playlists

import (
	"context"
	"fmt"

	"github.com/openmusic/openmusic/internal/domain/playlist"
)

type AccessStore interface {
	// GetOwner returns playlist.ErrNotFound when the playlist does not exist.
	GetOwner(ctx context.Context, playlistID string) (string, error)
	IsCollaborator(ctx context.Context, playlistID, userID string) (bool, error)
}

// AccessGate decides whether a user may act on a playlist: owners and
// collaborators may, everyone else may not.
type AccessGate struct {
	store AccessStore
}

func NewAccessGate(store AccessStore) *AccessGate {
	return &AccessGate{store: store}
}

// Verify checks existence first so a missing playlist is reported as
// playlist.ErrNotFound and never as a permission failure.
func (g *AccessGate) Verify(ctx context.Context, playlistID, userID string) (playlist.Decision, error) {
	owner, err := g.store.GetOwner(ctx, playlistID)
	if err != nil {
		return playlist.Denied, err
	}

	if owner == userID {
		return playlist.Owner, nil
	}

	ok, err := g.store.IsCollaborator(ctx, playlistID, userID)
	if err != nil {
		return playlist.Denied, fmt.Errorf("collaboration lookup: %w", err)
	}

	if ok {
		return playlist.Collaborator, nil
	}

	return playlist.Denied, playlist.ErrForbidden
}
