// Package migrations embeds the SQL migrations of the state database:
// saved instrument aliases and the audit log.
package migrations

import "embed"

// FS holds the *.sql migration files at its root.
//
//go:embed *.sql
var FS embed.FS
