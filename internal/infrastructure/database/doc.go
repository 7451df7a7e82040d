// Package database provides SQLite connectivity for the knowledge graph agent.
//
// It backs the SQLite graph store and the integration log:
//   - Connection setup with foreign keys, WAL mode and busy timeout
//   - Embedded, versioned schema migrations (schema_migrations table)
//   - Transaction helper (InTx) for all-or-nothing graph writes
//
// All queries use parameterised statements. Database files are created
// with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
