package migrations

import "embed"

// Files holds the SQL migrations compiled into the binary. Migrations live
// flat alongside this package, named with a zero-padded ordinal prefix
// (0001_init.sql, 0002_...), and the runner applies them in lexical order.
//
//go:embed *.sql
var Files embed.FS
