// Package dbmigrations exposes embedded SQL migrations for reactive binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into reactive binaries.
//
//go:embed *.sql
var Files embed.FS
