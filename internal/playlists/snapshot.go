package playlists

import (
	"context"
	"fmt"

	"github.com/openmusic/openmusic/internal/domain/playlist"
)

type SnapshotStore interface {
	// GetPlaylist returns playlist.ErrNotFound when the playlist does not exist.
	GetPlaylist(ctx context.Context, playlistID string) (playlist.Playlist, error)
	ListSongs(ctx context.Context, playlistID string) ([]playlist.Song, error)
}

// ConsistentSnapshotStore is implemented by stores able to perform both
// reads inside one point-in-time transaction.
type ConsistentSnapshotStore interface {
	ReadSnapshot(ctx context.Context, playlistID string) (playlist.Playlist, []playlist.Song, error)
}

type SnapshotBuilder struct {
	store      SnapshotStore
	consistent bool
}

type SnapshotOption func(*SnapshotBuilder)

// WithPointInTimeReads makes Build use a single transactional read when the
// store supports it. Without it the two reads are independent and a
// concurrent membership change may show up half applied.
func WithPointInTimeReads(enabled bool) SnapshotOption {
	return func(b *SnapshotBuilder) {
		b.consistent = enabled
	}
}

func NewSnapshotBuilder(store SnapshotStore, opts ...SnapshotOption) *SnapshotBuilder {
	b := &SnapshotBuilder{store: store}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build reads the playlist as it is right now, at consumption time.
func (b *SnapshotBuilder) Build(ctx context.Context, playlistID string) (playlist.Snapshot, error) {
	if b.consistent {
		if cs, ok := b.store.(ConsistentSnapshotStore); ok {
			p, songs, err := cs.ReadSnapshot(ctx, playlistID)
			if err != nil {
				return playlist.Snapshot{}, err
			}
			return playlist.NewSnapshot(p, songs), nil
		}
	}

	p, err := b.store.GetPlaylist(ctx, playlistID)
	if err != nil {
		return playlist.Snapshot{}, err
	}

	songs, err := b.store.ListSongs(ctx, playlistID)
	if err != nil {
		return playlist.Snapshot{}, fmt.Errorf("list songs: %w", err)
	}

	return playlist.NewSnapshot(p, songs), nil
}
