// Package migrations embeds the schema so the server binary can migrate
// without a checkout. `migrate --dir` overrides it with files on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
