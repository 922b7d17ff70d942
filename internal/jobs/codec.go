package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

func EncodeExportPayload(p ExportPlaylistPayload) ([]byte, error) {
	if err := ValidateExportPayload(p); err != nil {
		return nil, err
	}

	b, err := json.Marshal(p)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}

	return b, nil
}

// DecodeExportPayload parses a message body. Unknown fields are tolerated so
// a newer producer does not break an older worker; missing or empty
// required fields are not.
func DecodeExportPayload(body []byte) (ExportPlaylistPayload, error) {
	var p ExportPlaylistPayload

	if len(bytes.TrimSpace(body)) == 0 {
		return p, fmt.Errorf("%w: empty body", ErrInvalidJobPayload)
	}

	if err := json.Unmarshal(body, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}

	if err := ValidateExportPayload(p); err != nil {
		return p, err
	}

	return p, nil
}

// CheckSchemaVersion accepts messages stamped with the current version or
// with none at all (producers that predate versioning).
func CheckSchemaVersion(v string) error {
	if v == "" {
		return nil
	}

	n, err := strconv.Atoi(v)
	if err != nil || n != SchemaVersion {
		return fmt.Errorf("%w: %q", ErrUnsupportedSchema, v)
	}
	return nil
}
