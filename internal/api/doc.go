// Package api implements the operational HTTP API and WebSocket event
// stream of the knowledge graph agent.
//
// This package provides:
//   - Read-only REST endpoints over the device registry, the similarity
//     corpus, message statistics and the integration log
//   - A WebSocket hub broadcasting device.created, device.integrated and
//     device.retired events
//   - Prometheus metrics on /metrics
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// The API never writes to the graph; the agent's message handler is the
// only writer. Every response is built from deep-copied snapshots, so
// handlers never block message processing for longer than a copy.
//
// The server follows the same lifecycle as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
