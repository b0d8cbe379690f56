// Package migrations embeds the SQL schema files applied by
// "casewatch migrate up".
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
