package kg

import "errors"

// Domain errors for the consistency engine.
var (
	// ErrSchemaMismatch is returned when a message reports a module or
	// attribute its class description does not declare, or a value that
	// cannot be converted to the declared type.
	ErrSchemaMismatch = errors.New("kg: message does not match class schema")

	// ErrClassChanged is returned when a known device reports a different class.
	ErrClassChanged = errors.New("kg: device class changed")

	// ErrMissingDependency is returned by NewEngine when a required
	// collaborator is nil.
	ErrMissingDependency = errors.New("kg: missing dependency")

	// ErrAgentStopped is returned when a message is submitted after the
	// agent has shut down.
	ErrAgentStopped = errors.New("kg: agent stopped")
)
