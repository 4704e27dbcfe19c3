// Package migrations embeds the schema for both storage drivers.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Postgres lists the Postgres migrations in apply order.
var Postgres = []string{"001_chat.up.sql"}

// SQLite lists the SQLite migrations in apply order.
var SQLite = []string{"sqlite_001_chat.sql"}
