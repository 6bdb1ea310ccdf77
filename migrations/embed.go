// Package migrations embeds the versioned SQL schema for the price sync
// service.
package migrations

import "embed"

// FS holds the up and down migration files
//
//go:embed *.sql
var FS embed.FS
