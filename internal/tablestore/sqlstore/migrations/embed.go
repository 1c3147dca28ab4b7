// Package migrations embeds the goose migration files for the SQL-backed
// table store.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
