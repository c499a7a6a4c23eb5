// Package migrations embeds the SQL migrations for the grader_attempts store.
package migrations

import "embed"

// FS holds the versioned up/down migration files.
//
//go:embed *.sql
var FS embed.FS

// SchemaFile creates the grader_attempts table if it is absent.
const SchemaFile = "001_create_grader_attempts.up.sql"
