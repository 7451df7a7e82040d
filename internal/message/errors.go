package message

import "errors"

// Parse errors. Use errors.Is() to check for these in calling code.
var (
	// ErrInvalidMessage is returned when the payload is not a JSON object.
	ErrInvalidMessage = errors.New("message: invalid payload")

	// ErrUnknownCategory is returned for categories other than
	// CONNECTED, DISCONNECTED and DATA.
	ErrUnknownCategory = errors.New("message: unknown category")

	// ErrMissingField is returned when a required field is absent or empty.
	ErrMissingField = errors.New("message: missing field")

	// ErrInvalidTimestamp is returned when the timestamp cannot be parsed.
	ErrInvalidTimestamp = errors.New("message: invalid timestamp")
)
