// Package migrations embeds SQL migrations for the metadata store.
package migrations

import "embed"

// FS contains the SQL migration files.
//
//go:embed *.sql
var FS embed.FS
