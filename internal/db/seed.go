package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openmusic/openmusic/internal/security"
)

// Fixture ids of the sample data set.
const (
	SampleOwnerID    = "user-u1"
	SampleOutsiderID = "user-u2"
	SamplePlaylistID = "playlist-p1"
)

type sampleSong struct {
	id, title, performer, genre string
	year, duration              int
}

var sampleSongs = []sampleSong{
	{"song-s1", "Life in Technicolor", "Coldplay", "Alternative Rock", 2008, 120},
	{"song-s2", "Cemeteries of London", "Coldplay", "Alternative Rock", 2008, 180},
	{"song-s3", "Lost!", "Coldplay", "Alternative Rock", 2008, 200},
}

// SeedSampleData inserts two users, a few songs and one playlist owned by the
// first user. Reruns are no-ops.
func SeedSampleData(ctx context.Context, pool *pgxpool.Pool, password string) error {
	hash, err := security.HashPassword(password)

	if err != nil {
		return err
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, u := range []struct{ id, username, fullname string }{
		{SampleOwnerID, "owner", "Playlist Owner"},
		{SampleOutsiderID, "outsider", "Someone Else"},
	} {
		_, err = tx.Exec(ctx, `
			INSERT INTO users (id, username, password, fullname)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, u.id, u.username, hash, u.fullname)
		if err != nil {
			return err
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)

	for _, s := range sampleSongs {
		_, err = tx.Exec(ctx, `
			INSERT INTO songs (id, title, year, performer, genre, duration, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (id) DO NOTHING
		`, s.id, s.title, s.year, s.performer, s.genre, s.duration, now)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO playlists (id, name, owner)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, SamplePlaylistID, "Viva la Vida picks", SampleOwnerID)
	if err != nil {
		return err
	}

	for _, s := range sampleSongs[:2] {
		_, err = tx.Exec(ctx, `
			INSERT INTO playlist_songs (playlist_id, song_id)
			VALUES ($1, $2)
			ON CONFLICT ON CONSTRAINT unique_playlist_song DO NOTHING
		`, SamplePlaylistID, s.id)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
