package audit

import "errors"

// ErrInvalidRecord is returned when a record is missing required fields.
var ErrInvalidRecord = errors.New("audit: invalid record")
