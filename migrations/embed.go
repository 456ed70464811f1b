package migrations

import "embed"

// Files exposes the SQL migrations for local accounts and the key-value store.
//
//go:embed *.sql
var Files embed.FS
