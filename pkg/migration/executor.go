package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// DefaultLockID is the advisory lock key held while migrating.
const DefaultLockID int64 = 7341_2025

// Executor executes and tracks database migrations.
type Executor struct {
	pool   *pgxpool.Pool
	db     conn
	lockID int64
	log    *logrus.Entry
}

// conn is what both the pool and a single acquired connection offer.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// NewExecutor creates a new migration executor.
func NewExecutor(pool *pgxpool.Pool, log *logrus.Entry) *Executor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Executor{
		pool:   pool,
		db:     pool,
		lockID: DefaultLockID,
		log:    log.WithField("component", "migration"),
	}
}

// WithLockID sets a custom advisory lock ID.
func (e *Executor) WithLockID(lockID int64) *Executor {
	e.lockID = lockID
	return e
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (e *Executor) Initialize(ctx context.Context) error {
	_, err := e.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(14) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			applied_at TIMESTAMPTZ,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

// WithLock runs fn while holding the migration advisory lock. Advisory
// locks belong to a session, so the lock, every statement fn issues through
// the executor it receives, and the unlock all run on one connection.
func (e *Executor) WithLock(ctx context.Context, fn func(ctx context.Context, locked *Executor) error) error {
	c, err := e.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer c.Release()

	if _, err := c.Exec(ctx, "SELECT pg_advisory_lock($1)", e.lockID); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	e.log.WithField("lock_id", e.lockID).Debug("migration lock acquired")

	locked := *e
	locked.db = c
	err = fn(ctx, &locked)

	if uerr := unlock(context.WithoutCancel(ctx), c, e.lockID); uerr != nil {
		// Closing the session drops the lock; Release then discards the connection.
		_ = c.Conn().Close(context.WithoutCancel(ctx))
		return errors.Join(err, uerr)
	}
	return err
}

func unlock(ctx context.Context, c *pgxpool.Conn, lockID int64) error {
	var released bool
	if err := c.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", lockID).Scan(&released); err != nil {
		return fmt.Errorf("failed to release migration lock: %w", err)
	}
	if !released {
		return fmt.Errorf("migration lock %d was not held", lockID)
	}
	return nil
}

// Records returns every tracked migration ordered by version.
func (e *Executor) Records(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := e.db.Query(ctx, `
		SELECT version, name, status, applied_at, error
		FROM schema_migrations
		ORDER BY version ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToStructByName[MigrationRecord])
	if err != nil {
		return nil, fmt.Errorf("failed to scan migration records: %w", err)
	}
	return records, nil
}

// Apply executes a migration's up SQL inside one transaction.
func (e *Executor) Apply(ctx context.Context, m Migration) error {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO schema_migrations (version, name, status) VALUES ($1, $2, 'pending')
		 ON CONFLICT (version) DO UPDATE SET status = 'pending', error = NULL`,
		m.Version, m.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	for i, stmt := range splitSQL(m.UpSQL) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			e.recordFailure(ctx, m, fmt.Sprintf("statement %d failed: %v", i+1, err))
			return fmt.Errorf("migration %s failed at statement %d: %w", m.Version, i+1, err)
		}
	}

	_, err = tx.Exec(ctx,
		"UPDATE schema_migrations SET status = 'applied', applied_at = $1, error = NULL WHERE version = $2",
		time.Now(), m.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update migration status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	e.log.WithFields(logrus.Fields{"version": m.Version, "name": m.Name}).Info("migration applied")
	return nil
}

// recordFailure stores the failure outside the rolled back transaction.
func (e *Executor) recordFailure(ctx context.Context, m Migration, msg string) {
	_, err := e.db.Exec(ctx,
		`INSERT INTO schema_migrations (version, name, status, error) VALUES ($1, $2, 'failed', $3)
		 ON CONFLICT (version) DO UPDATE SET status = 'failed', error = $3`,
		m.Version, m.Name, msg,
	)
	if err != nil {
		e.log.WithError(err).Warn("failed to record migration failure")
	}
}

// ApplyAll applies all pending migrations in version order and returns the
// ones it applied.
func (e *Executor) ApplyAll(ctx context.Context, migrations []Migration) ([]Migration, error) {
	records, err := e.Records(ctx)
	if err != nil {
		return nil, err
	}
	applied := make(map[string]bool, len(records))
	for _, r := range records {
		applied[r.Version] = r.Status == StatusApplied
	}

	var done []Migration
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := e.Apply(ctx, m); err != nil {
			return done, err
		}
		done = append(done, m)
	}
	return done, nil
}

// GetStatus returns the status of all migrations.
func (e *Executor) GetStatus(ctx context.Context, migrations []Migration) ([]MigrationRecord, error) {
	records, err := e.Records(ctx)
	if err != nil {
		return nil, err
	}
	return mergeStatus(migrations, records), nil
}

func mergeStatus(migrations []Migration, records []MigrationRecord) []MigrationRecord {
	tracked := make(map[string]MigrationRecord, len(records))
	for _, r := range records {
		tracked[r.Version] = r
	}

	status := make([]MigrationRecord, 0, len(migrations))
	for _, m := range migrations {
		if r, ok := tracked[m.Version]; ok {
			status = append(status, r)
			continue
		}
		status = append(status, MigrationRecord{Version: m.Version, Name: m.Name, Status: StatusPending})
	}
	return status
}

// splitSQL splits a SQL script on semicolons, dropping comment lines.
func splitSQL(sql string) []string {
	var kept []string
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}

	var statements []string
	for _, stmt := range strings.Split(strings.Join(kept, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
