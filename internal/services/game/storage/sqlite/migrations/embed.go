package migrations

import "embed"

// KVFS holds the key-value schema migrations.
//
//go:embed kv/*.sql
var KVFS embed.FS
