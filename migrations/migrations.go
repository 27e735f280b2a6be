// Package migrations embeds the goose SQL migrations for the event log and
// the read-side projections.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
