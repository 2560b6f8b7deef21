// Package migrations bundles the per-driver schema files into the binary so
// a deployment needs no SQL files on disk.
package migrations

import "embed"

//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

//go:embed postgres/*.sql
var PostgresMigrations embed.FS
