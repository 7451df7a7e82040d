package sdf

import "errors"

// Schema resolution errors.
var (
	// ErrUnknownClass is returned when no description file exists for a class.
	ErrUnknownClass = errors.New("sdf: unknown class")

	// ErrMalformedSchema is returned when a description file cannot be
	// parsed, fails validation, or does not describe its own class.
	ErrMalformedSchema = errors.New("sdf: malformed schema")

	// ErrUnresolvedRef is returned when an sdfRef points nowhere.
	ErrUnresolvedRef = errors.New("sdf: unresolved sdfRef")
)
