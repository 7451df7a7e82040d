// Package migrations embeds the SQL schema for the graph store and the
// integration log into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-kg/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
