package jobs

// ExportPlaylistPayload is the complete wire contract between the API and
// the worker: a JSON object with exactly these two fields.
type ExportPlaylistPayload struct {
	PlaylistID  string `json:"playlistId" validate:"required"`
	TargetEmail string `json:"targetEmail" validate:"required,email"`
}
