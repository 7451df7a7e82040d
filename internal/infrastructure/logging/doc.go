// Package logging provides structured logging for the knowledge graph agent.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("message handled", "device_id", id, "duration_ms", ms)
//	logger.Component("integration").Warn("no candidate devices", "device_id", id)
//
// Never log broker or database credentials.
package logging
