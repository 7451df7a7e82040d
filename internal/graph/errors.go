package graph

import (
	"context"
	"errors"
	"fmt"
)

// Domain-specific errors for graph store operations.
var (
	// ErrTypeConflict is returned when an attribute type is re-declared
	// with a different value type.
	ErrTypeConflict = errors.New("graph: attribute type conflict")

	// ErrTransaction is returned when a store call fails to commit.
	ErrTransaction = errors.New("graph: transaction failed")

	// ErrTimeout is returned when a store call exceeds its deadline.
	ErrTimeout = errors.New("graph: store call timed out")

	// ErrNotFound is returned when an update targets a device or module
	// that does not exist.
	ErrNotFound = errors.New("graph: node not found")

	// ErrInvalidQuery is returned for malformed statements, such as an
	// unknown match target or a relation kind the store does not model.
	ErrInvalidQuery = errors.New("graph: invalid query")
)

// contextError maps an expired context onto the store's error taxonomy.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrTransaction, err)
}
