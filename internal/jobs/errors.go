package jobs

import "errors"

var (
	ErrInvalidJobPayload = errors.New("invalid job payload")
	ErrUnsupportedSchema = errors.New("unsupported job schema version")
)
