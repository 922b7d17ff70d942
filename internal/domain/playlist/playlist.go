package playlist

import "errors"

var (
	ErrNotFound  = errors.New("playlist not found")
	ErrForbidden = errors.New("not allowed to access this playlist")
)

// Decision is the outcome of an access check. It is computed per request and never stored.
type Decision string

const (
	Owner        Decision = "owner"
	Collaborator Decision = "collaborator"
	Denied       Decision = "denied"
)

func (d Decision) Allowed() bool {
	return d == Owner || d == Collaborator
}

type Playlist struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Owner string `json:"-"`
}

type Song struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Performer string `json:"performer"`
}

// Snapshot is a playlist as read at the moment a job is consumed.
// It is rebuilt for every job and never cached.
type Snapshot struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Songs []Song `json:"songs"`
}

// NewSnapshot copies songs so the snapshot does not alias store memory.
func NewSnapshot(p Playlist, songs []Song) Snapshot {
	out := make([]Song, len(songs))
	copy(out, songs)

	return Snapshot{
		ID:    p.ID,
		Name:  p.Name,
		Songs: out,
	}
}
