package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openmusic/openmusic/internal/domain/playlist"
	"github.com/openmusic/openmusic/internal/observability"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PlaylistsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewPlaylistsRepo(pool *pgxpool.Pool, prom *observability.Prom) *PlaylistsRepo {
	return &PlaylistsRepo{pool: pool, prom: prom}
}

func (repo *PlaylistsRepo) observe(op string, fn func() error) error {
	if repo.prom != nil {
		return repo.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (repo *PlaylistsRepo) GetOwner(ctx context.Context, playlistID string) (owner string, err error) {
	err = repo.observe("playlists.get_owner", func() error {
		return repo.pool.QueryRow(ctx, `SELECT owner FROM playlists WHERE id = $1`, playlistID).Scan(&owner)
	})

	if errors.Is(err, pgx.ErrNoRows) {
		err = playlist.ErrNotFound
	}
	return
}

func (repo *PlaylistsRepo) IsCollaborator(ctx context.Context, playlistID, userID string) (exists bool, err error) {
	err = repo.observe("collaborations.exists", func() error {
		return repo.pool.QueryRow(ctx, `SELECT EXISTS(
			SELECT 1 FROM collaborations
			WHERE playlist_id = $1 AND user_id = $2
		)`, playlistID, userID).Scan(&exists)
	})
	return
}

func (repo *PlaylistsRepo) GetPlaylist(ctx context.Context, playlistID string) (playlist.Playlist, error) {
	var p playlist.Playlist
	err := repo.observe("playlists.get_by_id", func() error {
		var e error
		p, e = getPlaylist(ctx, repo.pool, playlistID)
		return e
	})
	return p, err
}

func (repo *PlaylistsRepo) ListSongs(ctx context.Context, playlistID string) ([]playlist.Song, error) {
	var songs []playlist.Song
	err := repo.observe("playlists.list_songs", func() error {
		var e error
		songs, e = listSongs(ctx, repo.pool, playlistID)
		return e
	})
	return songs, err
}

// ReadSnapshot runs both reads in one REPEATABLE READ, READ ONLY transaction
// so the playlist row and its membership come from the same point in time.
func (repo *PlaylistsRepo) ReadSnapshot(ctx context.Context, playlistID string) (p playlist.Playlist, songs []playlist.Song, err error) {
	err = repo.observe("playlists.read_snapshot", func() error {
		tx, e := repo.pool.BeginTx(ctx, pgx.TxOptions{
			IsoLevel:   pgx.RepeatableRead,
			AccessMode: pgx.ReadOnly,
		})
		if e != nil {
			return e
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if p, e = getPlaylist(ctx, tx, playlistID); e != nil {
			return e
		}
		if songs, e = listSongs(ctx, tx, playlistID); e != nil {
			return e
		}
		return tx.Commit(ctx)
	})
	return
}

func getPlaylist(ctx context.Context, q querier, playlistID string) (playlist.Playlist, error) {
	var p playlist.Playlist
	err := q.QueryRow(ctx, `SELECT id, name, owner FROM playlists WHERE id = $1`, playlistID).
		Scan(&p.ID, &p.Name, &p.Owner)

	if err != nil {
		// keep ErrNoRows in the chain so ObserveDB records not_found
		if errors.Is(err, pgx.ErrNoRows) {
			return playlist.Playlist{}, fmt.Errorf("%w: %w", playlist.ErrNotFound, err)
		}
		return playlist.Playlist{}, err
	}
	return p, nil
}

// songs come back in the order they were added to the playlist
func listSongs(ctx context.Context, q querier, playlistID string) ([]playlist.Song, error) {
	rows, err := q.Query(ctx, `
		SELECT s.id, s.title, s.performer
		FROM songs s
		INNER JOIN playlist_songs ps ON s.id = ps.song_id
		WHERE ps.playlist_id = $1
		ORDER BY ps.id ASC
	`, playlistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	songs := make([]playlist.Song, 0)
	for rows.Next() {
		var s playlist.Song
		if err := rows.Scan(&s.ID, &s.Title, &s.Performer); err != nil {
			return nil, fmt.Errorf("scan song: %w", err)
		}
		songs = append(songs, s)
	}

	return songs, rows.Err()
}
