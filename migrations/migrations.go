// Package migrations embeds the Postgres schema for the messaging store
// and the patient directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
