// Package migrations holds the goose migrations of the payflow schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
