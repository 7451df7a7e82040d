package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/nerrad567/gray-logic-kg/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
)

// Client owns a Neo4j driver and the database it targets.
//
// Thread Safety: the underlying driver is safe for concurrent use; sessions
// are not, so open one per unit of work via Session.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
}

// Connect creates a driver and verifies connectivity.
//
// Parameters:
//   - ctx: Bounds the connectivity check
//   - cfg: Neo4j section of config.yaml
//
// Returns:
//   - *Client: Connected client
//   - error: ErrNotConfigured or ErrConnectionFailed
func Connect(ctx context.Context, cfg config.Neo4jConfig) (*Client, error) {
	if cfg.URI == "" {
		return nil, ErrNotConfigured
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	if err := driver.VerifyConnectivity(connectCtx); err != nil {
		driver.Close(ctx) //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return &Client{driver: driver, database: cfg.Database}, nil
}

// Session opens a session on the configured database.
// The caller must close it.
func (c *Client) Session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: c.database,
	})
}

// HealthCheck verifies the server is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := c.driver.VerifyConnectivity(checkCtx); err != nil {
		return fmt.Errorf("neo4j health check failed: %w", err)
	}
	return nil
}

// Close releases every pooled connection.
func (c *Client) Close(ctx context.Context) error {
	if c.driver == nil {
		return nil
	}
	if err := c.driver.Close(ctx); err != nil {
		return fmt.Errorf("closing neo4j driver: %w", err)
	}
	return nil
}
