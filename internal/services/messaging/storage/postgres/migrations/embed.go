// Package migrations embeds the PostgreSQL schema for the messaging store.
package migrations

import "embed"

// FS holds the ordered .sql migration files.
//
//go:embed *.sql
var FS embed.FS
