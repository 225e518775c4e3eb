// Package migrations embeds SQL migration files into the binary so the
// bridge can create its history schema without shipping loose SQL files.
package migrations

import (
	"embed"

	"smartherbridge/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
}
