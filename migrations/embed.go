// Package migrations embeds the goose SQL migration files for the sync
// journal database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
