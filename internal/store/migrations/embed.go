package migrations

import "embed"

// FS contains embedded SQLite migrations for outreachd storage.
//
//go:embed *.sql
var FS embed.FS
