package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultStatementTimeout bounds every storage call when Config leaves it unset.
const DefaultStatementTimeout = 5 * time.Second

// DB represents a database connection.
type DB struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// Config represents database configuration.
type Config struct {
	URL              string
	MaxConns         int32
	MinConns         int32
	StatementTimeout time.Duration
}

// NewDB creates a new DB instance from a connection pool.
func NewDB(pool *pgxpool.Pool, timeout time.Duration) *DB {
	if timeout <= 0 {
		timeout = DefaultStatementTimeout
	}
	return &DB{pool: pool, timeout: timeout}
}

// Connect creates a new DB instance by connecting to PostgreSQL.
func Connect(ctx context.Context, config Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection URL: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, Classify(fmt.Errorf("failed to ping database: %w", err))
	}

	return NewDB(pool, config.StatementTimeout), nil
}

// Pool returns the underlying pgxpool.Pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Timeout is the bound applied to each storage call.
func (db *DB) Timeout() time.Duration {
	return db.timeout
}

// Close closes the database connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := db.bound(ctx)
	defer cancel()
	return Classify(db.pool.Ping(ctx))
}

// WithTx runs fn inside a transaction bounded by the statement timeout.
// The transaction is rolled back when fn fails; storage errors come back
// classified so callers can test them with IsRetryable.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	ctx, cancel := db.bound(ctx)
	defer cancel()

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return Classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, tx); err != nil {
		return Classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// Exec executes a query without returning any rows.
func (db *DB) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	ctx, cancel := db.bound(ctx)
	defer cancel()
	result, err := db.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, Classify(&QueryError{Query: sql, Err: err})
	}
	return result.RowsAffected(), nil
}

// Read runs fn against the pool with the statement timeout applied.
func (db *DB) Read(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	ctx, cancel := db.bound(ctx)
	defer cancel()
	return Classify(fn(ctx, db.pool))
}

func (db *DB) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, db.timeout)
}

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
