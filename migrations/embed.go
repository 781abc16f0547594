// Package migrations embeds the gateway's SQL schema into the binary.
package migrations

import "embed"

// FS holds every *.sql migration at its root, ready for database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
