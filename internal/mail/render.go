package mail

import (
	"encoding/json"
	"fmt"

	"github.com/openmusic/openmusic/internal/domain/playlist"
)

const (
	AttachmentName = "playlist.json"
	Subject        = "Ekspor Playlist - OpenMusic API"
	BodyText       = "Terlampir hasil ekspor playlist Anda"
)

type attachmentDoc struct {
	Playlist playlist.Snapshot `json:"playlist"`
}

// RenderAttachment returns the playlist.json content:
// {"playlist":{"id","name","songs":[...]}} indented with two spaces.
func RenderAttachment(s playlist.Snapshot) ([]byte, error) {
	if s.Songs == nil {
		s.Songs = []playlist.Song{}
	}

	b, err := json.MarshalIndent(attachmentDoc{Playlist: s}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render attachment: %w", err)
	}
	return b, nil
}
