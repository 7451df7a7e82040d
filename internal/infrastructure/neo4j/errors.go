package neo4j

import "errors"

// Sentinel errors for Neo4j operations.
var (
	// ErrConnectionFailed indicates the driver could not reach the server.
	ErrConnectionFailed = errors.New("neo4j: connection failed")

	// ErrNotConfigured indicates no URI was configured.
	ErrNotConfigured = errors.New("neo4j: uri not configured")
)
