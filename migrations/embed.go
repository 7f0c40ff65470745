// Package migrations embeds the camera bridge SQL migrations into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
