package jobs

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateExportPayload checks both fields are present and the address is
// syntactically valid. Whether it is deliverable is the mail server's call.
func ValidateExportPayload(p ExportPlaylistPayload) error {
	if strings.TrimSpace(p.PlaylistID) == "" {
		return fmt.Errorf("%w: playlistId is required", ErrInvalidJobPayload)
	}

	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}
	return nil
}
