//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marshallshelly/tablelink/pkg/logger"
	"github.com/marshallshelly/tablelink/pkg/migration"
	"github.com/marshallshelly/tablelink/pkg/runtime"
	"github.com/marshallshelly/tablelink/pkg/store"
	"github.com/marshallshelly/tablelink/pkg/store/postgres"
	"github.com/marshallshelly/tablelink/pkg/store/storetest"
)

// setupTestDB starts PostgreSQL, applies the embedded migrations and returns
// a connected handle.
func setupTestDB(t *testing.T) *runtime.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:alpine",
		tcpostgres.WithDatabase("tablelink"),
		tcpostgres.WithUsername("tablelink"),
		tcpostgres.WithPassword("tablelink"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := runtime.Connect(ctx, runtime.Config{URL: url, MaxConns: 4, StatementTimeout: 10 * time.Second})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	migrations, err := migration.Load()
	require.NoError(t, err)
	exec := migration.NewExecutor(db.Pool(), logger.Component("migrate"))
	require.NoError(t, exec.Initialize(ctx))
	applied, err := exec.ApplyAll(ctx, migrations)
	require.NoError(t, err)
	require.NotEmpty(t, applied)

	return db
}

func TestPostgresStore(t *testing.T) {
	db := setupTestDB(t)
	s := postgres.New(db)

	storetest.Run(t, func(t *testing.T) store.Store {
		_, err := db.Exec(context.Background(), `
			TRUNCATE analytics_records, order_items, orders, menu_items, staff, tables, users, tenants
			RESTART IDENTITY CASCADE`)
		require.NoError(t, err)
		return s
	})
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	migrations, err := migration.Load()
	require.NoError(t, err)
	exec := migration.NewExecutor(db.Pool(), logger.Component("migrate"))

	applied, err := exec.ApplyAll(ctx, migrations)
	require.NoError(t, err)
	require.Empty(t, applied)

	status, err := exec.GetStatus(ctx, migrations)
	require.NoError(t, err)
	require.Len(t, status, len(migrations))
	for _, rec := range status {
		require.Equal(t, migration.StatusApplied, rec.Status, rec.Version)
	}
}

func TestMigrationLockStaysOnOneSession(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	const lockID int64 = 4242

	migrations, err := migration.Load()
	require.NoError(t, err)
	exec := migration.NewExecutor(db.Pool(), logger.Component("migrate")).WithLockID(lockID)

	other, err := db.Pool().Acquire(ctx)
	require.NoError(t, err)
	defer other.Release()

	lockFree := func() bool {
		var ok bool
		require.NoError(t, other.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&ok))
		if ok {
			_, err := other.Exec(ctx, "SELECT pg_advisory_unlock($1)", lockID)
			require.NoError(t, err)
		}
		return ok
	}

	err = exec.WithLock(ctx, func(ctx context.Context, locked *migration.Executor) error {
		assert.False(t, lockFree(), "lock must be held while migrating")
		_, err := locked.ApplyAll(ctx, migrations)
		return err
	})
	require.NoError(t, err)
	assert.True(t, lockFree(), "lock must be released afterwards")

	errBoom := errors.New("boom")
	err = exec.WithLock(ctx, func(context.Context, *migration.Executor) error { return errBoom })
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, lockFree(), "lock must be released after a failure")
}
