// Package migrations embeds the goose SQL files for the artifacts schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
