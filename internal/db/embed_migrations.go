package db

import "embed"

// MigrationFS embeds SQL migration files from internal/db/migrations/<dialect>.
// Used by the migrate runner (cmd/migrate and the history recorder) to apply migrations.
//
//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var MigrationFS embed.FS
