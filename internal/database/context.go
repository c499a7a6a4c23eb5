// Package database bounds the Postgres calls the job makes while storing
// grader attempts. Each helper derives its deadline from the caller's context,
// so cancelling the run still aborts the call early.
package database

import (
	"context"
	"time"
)

const (
	// ConnectTimeout covers the ping issued right after the pgx pool opens.
	// An unreachable database fails the store stage within this window.
	ConnectTimeout = 5 * time.Second

	// AttemptInsertTimeout covers one grader_attempts INSERT. A row that
	// hits it is counted as a failed insert and the batch moves on.
	AttemptInsertTimeout = 10 * time.Second

	// SchemaTimeout covers the CREATE TABLE IF NOT EXISTS issued before the
	// first insert of a run.
	SchemaTimeout = 30 * time.Second
)

// ConnectContext bounds the pool ping in repository.NewPostgresRepository.
func ConnectContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, ConnectTimeout)
}

// AttemptInsertContext bounds a single attempt insert.
func AttemptInsertContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, AttemptInsertTimeout)
}

// SchemaContext bounds EnsureSchema. The migrate command is not covered:
// golang-migrate runs without a context.
func SchemaContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, SchemaTimeout)
}
