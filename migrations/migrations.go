// Package migrations embeds the SQL schema applied at startup and in DB-backed tests.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
