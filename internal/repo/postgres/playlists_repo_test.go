package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmusic/openmusic/internal/db"
	"github.com/openmusic/openmusic/internal/domain/playlist"
	"github.com/openmusic/openmusic/internal/observability"
)

// Runs only against a real database: TEST_DB_DSN=postgres://...
func setupRepo(t *testing.T) *PlaylistsRepo {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, dsn, 2)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.EnsureSchema(ctx, pool))
	require.NoError(t, db.SeedSampleData(ctx, pool, "secret"))

	_, err = pool.Exec(ctx, `DELETE FROM collaborations WHERE playlist_id = $1`, db.SamplePlaylistID)
	require.NoError(t, err)

	return NewPlaylistsRepo(pool, observability.NewProm(observability.NewRegistry()))
}

func TestPlaylistsRepoAccess(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	owner, err := repo.GetOwner(ctx, db.SamplePlaylistID)
	require.NoError(t, err)
	assert.Equal(t, db.SampleOwnerID, owner)

	_, err = repo.GetOwner(ctx, "playlist-does-not-exist")
	assert.ErrorIs(t, err, playlist.ErrNotFound)

	ok, err := repo.IsCollaborator(ctx, db.SamplePlaylistID, db.SampleOutsiderID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.pool.Exec(ctx, `INSERT INTO collaborations (playlist_id, user_id) VALUES ($1, $2)`,
		db.SamplePlaylistID, db.SampleOutsiderID)
	require.NoError(t, err)

	ok, err = repo.IsCollaborator(ctx, db.SamplePlaylistID, db.SampleOutsiderID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPlaylistsRepoSnapshotReads(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	p, err := repo.GetPlaylist(ctx, db.SamplePlaylistID)
	require.NoError(t, err)
	assert.Equal(t, db.SamplePlaylistID, p.ID)

	songs, err := repo.ListSongs(ctx, db.SamplePlaylistID)
	require.NoError(t, err)
	require.Len(t, songs, 2)
	assert.Equal(t, "song-s1", songs[0].ID)
	assert.Equal(t, "song-s2", songs[1].ID)

	tp, tsongs, err := repo.ReadSnapshot(ctx, db.SamplePlaylistID)
	require.NoError(t, err)
	assert.Equal(t, p, tp)
	assert.Equal(t, songs, tsongs)

	_, _, err = repo.ReadSnapshot(ctx, "playlist-does-not-exist")
	assert.ErrorIs(t, err, playlist.ErrNotFound)
}
