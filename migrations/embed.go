// Package migrations embeds the SQL migration pairs so the server binary
// carries its own schema and never depends on a migrations directory being
// present on the deploy target, mirroring tarsy's embedded-migration
// approach.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
