// Package migrations embeds the SQL migration files for the decision audit
// store. Separate embedded filesystems per database engine keep dialect
// differences out of the runner.
package migrations

import "embed"

// SqliteMigrations contains SQLite schema migrations.
//
//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

// PostgresMigrations contains PostgreSQL schema migrations.
//
//go:embed postgres/*.sql
var PostgresMigrations embed.FS
