// Package repository persists clean grading attempts into PostgreSQL.
package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/gradersync/internal/database"
	"github.com/telhawk-systems/gradersync/internal/logging"
	"github.com/telhawk-systems/gradersync/internal/model"
	"github.com/telhawk-systems/gradersync/migrations"
)

// Failure classes for rows that could not be inserted.
const (
	FailureConstraint = "constraint"
	FailureOther      = "error"
)

const insertAttempt = `
	INSERT INTO grader_attempts (
		user_id, oauth_consumer_key, lis_result_sourcedid, lis_outcome_service_url,
		is_correct, attempt_type, created_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7::text::timestamp)
`

// InsertResult counts the outcome of one InsertAttempts call.
type InsertResult struct {
	Inserted int
	Failed   int
	// FailedByClass is keyed by FailureConstraint or FailureOther.
	FailedByClass map[string]int
}

type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *logging.Logger
}

func NewPostgresRepository(ctx context.Context, connString string, logger *logging.Logger) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// The job holds one connection at a time.
	config.MaxConns = 2
	config.MinConns = 0
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := database.ConnectContext(ctx)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if logger == nil {
		logger = logging.Discard()
	}

	return &PostgresRepository{pool: pool, logger: logger}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// EnsureSchema creates grader_attempts if it does not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	ddl, err := fs.ReadFile(migrations.FS, migrations.SchemaFile)
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}

	ctx, cancel := database.SchemaContext(ctx)
	defer cancel()

	if _, err := r.pool.Exec(ctx, string(ddl)); err != nil {
		return fmt.Errorf("failed to create grader_attempts: %w", err)
	}
	return nil
}

// InsertAttempts writes each attempt with its own statement on a single
// acquired connection. A failing row is logged and skipped; only failure to
// obtain the connection is returned as an error.
func (r *PostgresRepository) InsertAttempts(ctx context.Context, attempts []model.CleanAttempt) (InsertResult, error) {
	result := InsertResult{FailedByClass: map[string]int{}}
	if len(attempts) == 0 {
		return result, nil
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	log := r.logger.WithContext(ctx)
	for i := range attempts {
		a := &attempts[i]

		err := func() error {
			ctx, cancel := database.AttemptInsertContext(ctx)
			defer cancel()
			_, err := conn.Exec(ctx, insertAttempt,
				a.UserID, a.OAuthConsumerKey, a.LISResultSourcedID, a.LISOutcomeServiceURL,
				a.IsCorrect.Bool(), a.AttemptType, a.CreatedAt,
			)
			return err
		}()
		if err != nil {
			class := classify(err)
			result.Failed++
			result.FailedByClass[class]++
			log.Error("failed to insert attempt",
				logging.UserID(deref(a.UserID)),
				logging.Reason(class),
				logging.Error(err),
			)
			continue
		}
		result.Inserted++
	}

	return result, nil
}

// CountAttempts returns the number of stored rows.
func (r *PostgresRepository) CountAttempts(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM grader_attempts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return n, nil
}

// classify maps SQLSTATE class 23 (integrity constraint violation) to
// FailureConstraint and everything else to FailureOther.
func classify(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 && pgErr.Code[:2] == "23" {
		return FailureConstraint
	}
	return FailureOther
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
