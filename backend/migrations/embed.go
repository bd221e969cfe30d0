// Package migrations embeds the SQL schema of the quote catalog.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
