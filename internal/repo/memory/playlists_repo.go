package memory

import (
	"context"
	"sync"

	"github.com/openmusic/openmusic/internal/domain/playlist"
)

// PlaylistsRepo is an in-process playlist store used by tests and local runs
// without Postgres. Songs keep the order in which they were added.
type PlaylistsRepo struct {
	mu            sync.RWMutex
	playlists     map[string]playlist.Playlist
	songs         map[string]playlist.Song
	members       map[string][]string // playlist id -> song ids
	collaborators map[string]map[string]struct{}
}

func NewPlaylistsRepo() *PlaylistsRepo {
	return &PlaylistsRepo{
		playlists:     make(map[string]playlist.Playlist),
		songs:         make(map[string]playlist.Song),
		members:       make(map[string][]string),
		collaborators: make(map[string]map[string]struct{}),
	}
}

func (r *PlaylistsRepo) AddPlaylist(p playlist.Playlist) {
	r.mu.Lock()
	r.playlists[p.ID] = p
	r.mu.Unlock()
}

func (r *PlaylistsRepo) DeletePlaylist(id string) {
	r.mu.Lock()
	delete(r.playlists, id)
	delete(r.members, id)
	delete(r.collaborators, id)
	r.mu.Unlock()
}

func (r *PlaylistsRepo) AddSong(s playlist.Song) {
	r.mu.Lock()
	r.songs[s.ID] = s
	r.mu.Unlock()
}

func (r *PlaylistsRepo) AddSongToPlaylist(playlistID, songID string) {
	r.mu.Lock()
	r.members[playlistID] = append(r.members[playlistID], songID)
	r.mu.Unlock()
}

func (r *PlaylistsRepo) AddCollaborator(playlistID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.collaborators[playlistID]
	if !ok {
		set = make(map[string]struct{})
		r.collaborators[playlistID] = set
	}
	set[userID] = struct{}{}
}

func (r *PlaylistsRepo) GetOwner(_ context.Context, playlistID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.playlists[playlistID]
	if !ok {
		return "", playlist.ErrNotFound
	}
	return p.Owner, nil
}

func (r *PlaylistsRepo) IsCollaborator(_ context.Context, playlistID, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.collaborators[playlistID][userID]
	return ok, nil
}

func (r *PlaylistsRepo) GetPlaylist(_ context.Context, playlistID string) (playlist.Playlist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.playlists[playlistID]
	if !ok {
		return playlist.Playlist{}, playlist.ErrNotFound
	}
	return p, nil
}

func (r *PlaylistsRepo) ListSongs(_ context.Context, playlistID string) ([]playlist.Song, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]playlist.Song, 0, len(r.members[playlistID]))
	for _, id := range r.members[playlistID] {
		// inner join semantics: dangling memberships are skipped
		if s, ok := r.songs[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// ReadSnapshot holds the read lock across both reads, the in-memory
// equivalent of a repeatable-read transaction.
func (r *PlaylistsRepo) ReadSnapshot(_ context.Context, playlistID string) (playlist.Playlist, []playlist.Song, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.playlists[playlistID]
	if !ok {
		return playlist.Playlist{}, nil, playlist.ErrNotFound
	}

	songs := make([]playlist.Song, 0, len(r.members[playlistID]))
	for _, id := range r.members[playlistID] {
		if s, ok := r.songs[id]; ok {
			songs = append(songs, s)
		}
	}
	return p, songs, nil
}
