// Package migrations embeds the goose SQL migrations for the local database.
package migrations

import "embed"

// FS holds the migration files under sql/.
//
//go:embed sql/*.sql
var FS embed.FS

// Dir is the migration directory inside FS.
const Dir = "sql"
