// Package migrations embeds the identity service's SQL schema migrations.
// Files are applied in lexical order by database.RunMigrations at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
