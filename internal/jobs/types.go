package jobs

import "strconv"

// The pipeline carries exactly one job type.
const (
	QueueExportPlaylist = "export:playlist"

	// SchemaVersion travels as message metadata, never inside the body.
	SchemaVersion = 1
)

func SchemaVersionString() string {
	return strconv.Itoa(SchemaVersion)
}
