// Package postgres implements store.Store on PostgreSQL through pgx. Every
// statement touching tenant-owned rows filters on tenant_id.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/runtime"
	"github.com/marshallshelly/tablelink/pkg/store"
)

const (
	tenantColumns    = "id, name, subdomain, plan, active, trial_ends_at, subscription_status, created_at"
	tableColumns     = "id, tenant_id, number, code, status, has_extra_order, checkout_requested, checkout_method, tip_amount"
	orderColumns     = "id, tenant_id, table_id, staff_id, status, tip_amount, created_at, finished_at"
	menuColumns      = "id, tenant_id, name, ingredients, price, category, active"
	staffColumns     = "id, tenant_id, name, active"
	userColumns      = "id, tenant_id, username, password_hash, role, active"
	analyticsColumns = "id, tenant_id, order_id, checkout_date, table_number, staff_id, item_name, item_category, quantity, unit_price, total_price, tip_amount"
	lineColumns      = `oi.id, oi.order_id, oi.tenant_id, oi.menu_item_id, oi.qty, oi.unit_price, oi.customizations,
		oi.is_extra_item, oi.is_new_extra, oi.created_at, m.name, m.category`
)

// Store is the PostgreSQL backend.
type Store struct {
	db *runtime.DB
	queries
}

var _ store.Store = (*Store)(nil)

// New wraps a connected database.
func New(db *runtime.DB) *Store {
	return &Store{db: db, queries: queries{q: db.Pool()}}
}

// InTx implements store.Store.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.db.WithTx(ctx, func(ctx context.Context, ptx pgx.Tx) error {
		return fn(ctx, &tx{queries: queries{q: ptx}})
	})
}

// bounded applies the statement timeout to pool reads.
func (s *Store) bounded(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.Read(ctx, func(ctx context.Context, _ runtime.Querier) error {
		return fn(ctx)
	})
}

func (s *Store) FindBySubdomain(ctx context.Context, subdomain string) (t models.Tenant, err error) {
	err = s.bounded(ctx, func(ctx context.Context) error {
		t, err = s.queries.FindBySubdomain(ctx, subdomain)
		return err
	})
	return t, err
}

func (s *Store) GetTenant(ctx context.Context, id int64) (t models.Tenant, err error) {
	err = s.bounded(ctx, func(ctx context.Context) error {
		t, err = s.queries.GetTenant(ctx, id)
		return err
	})
	return t, err
}

func (s *Store) ListTenants(ctx context.Context) (ts []models.Tenant, err error) {
	err = s.bounded(ctx, func(ctx context.Context) error {
		ts, err = s.queries.ListTenants(ctx)
		return err
	})
	return ts, err
}

func (s *Store) GetItem(ctx context.Context, tenantID, itemID int64) (m models.MenuItem, err error) {
	err = s.bounded(ctx, func(ctx context.Context) error {
		m, err = s.queries.GetItem(ctx, tenantID, itemID)
		return err
	})
	return m, err
}

func (s *Store) GetActiveItems(ctx context.Context, tenantID int64) (ms []models.MenuItem, err error) {
	err = s.bounded(ctx, func(ctx context.Context) error {
		ms, err = s.queries.GetActiveItems(ctx, tenantID)
		return err
	})
	return ms, err
}

func (s *Store) ListItems(ctx context.Context, tenantID int64) (ms []models.MenuItem, err error) {
	err = s.bounded(ctx, func(ctx context.Context) error {
		ms, err = s.queries.ListItems(ctx, tenantID)
		return err
	})
	return ms, err
}

func (s *Store) GetStaff(ctx context.Context, tenantID, staffID int64) (st models.Staff, err error) {
	err = s.bounded(ctx, func(ctx context.Context) error {
		st, err = s.queries.GetStaff(ctx, tenantID, staffID)
		return err
	})
	return st, err
}

func (s *Store) ListStaff(ctx context.Context, tenantID int64) (sts []models.Staff, err error) {
	err = s.bounded(ctx, func(ctx context.Context) error {
		sts, err = s.queries.ListStaff(ctx, tenantID)
		return err
	})
	return sts, err
}

func (s *Store) GetTable(ctx context.Context, tenantID int64, number int) (t models.Table, err error) {
	err = s.bounded(ctx, func(ctx context.Context) error {
		t, err = s.queries.GetTable(ctx, tenantID, number)
		return err
	})
	return t, err
}

func (s *Store) ListTables(ctx context.Context, tenantID int64) (ts []models.Table, err error) {
	err = s.bounded(ctx, func(ctx context.Context) error {
		ts, err = collect[models.Table](ctx, s.q,
			"SELECT "+tableColumns+" FROM tables WHERE tenant_id = $1 ORDER BY number", tenantID)
		return err
	})
	return ts, err
}

func (s *Store) FindUser(ctx context.Context, tenantID int64, username string) (u models.User, err error) {
	err = s.bounded(ctx, func(ctx context.Context) error {
		u, err = one[models.User](ctx, s.q,
			"SELECT "+userColumns+" FROM users WHERE tenant_id = $1 AND username = $2", tenantID, username)
		return err
	})
	return u, err
}

func (s *Store) AnalyticsRecords(ctx context.Context, tenantID int64, f store.SalesFilter) (rs []models.AnalyticsRecord, err error) {
	err = s.bounded(ctx, func(ctx context.Context) error {
		rs, err = collect[models.AnalyticsRecord](ctx, s.q, `
			SELECT `+analyticsColumns+`
			FROM analytics_records
			WHERE tenant_id = $1 AND checkout_date >= $2 AND checkout_date < $3
			  AND ($4::BIGINT IS NULL OR staff_id = $4)
			ORDER BY checkout_date, id`,
			tenantID, f.Range.From, f.Range.To, f.StaffID)
		return err
	})
	return rs, err
}

func (s *Store) SoldLines(ctx context.Context, tenantID int64, f store.SalesFilter) (ls []models.SoldLine, err error) {
	err = s.bounded(ctx, func(ctx context.Context) error {
		ls, err = collect[models.SoldLine](ctx, s.q, `
			SELECT `+lineColumns+`, o.table_id, o.staff_id, o.finished_at
			FROM order_items oi
			JOIN orders o ON o.id = oi.order_id AND o.tenant_id = oi.tenant_id
			JOIN menu_items m ON m.id = oi.menu_item_id AND m.tenant_id = oi.tenant_id
			WHERE oi.tenant_id = $1 AND o.status = 'finished'
			  AND o.finished_at >= $2 AND o.finished_at < $3
			  AND ($4::BIGINT IS NULL OR o.staff_id = $4)
			  AND ($5 = '' OR m.name = $5)
			ORDER BY o.finished_at, o.id, oi.id`,
			tenantID, f.Range.From, f.Range.To, f.StaffID, f.ItemName)
		return err
	})
	return ls, err
}

// queries holds the statements shared by the pool and transactions.
type queries struct {
	q runtime.Querier
}

func (qs queries) FindBySubdomain(ctx context.Context, subdomain string) (models.Tenant, error) {
	return one[models.Tenant](ctx, qs.q, "SELECT "+tenantColumns+" FROM tenants WHERE subdomain = $1", subdomain)
}

func (qs queries) GetTenant(ctx context.Context, id int64) (models.Tenant, error) {
	return one[models.Tenant](ctx, qs.q, "SELECT "+tenantColumns+" FROM tenants WHERE id = $1", id)
}

func (qs queries) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	return collect[models.Tenant](ctx, qs.q, "SELECT "+tenantColumns+" FROM tenants ORDER BY id")
}

func (qs queries) GetItem(ctx context.Context, tenantID, itemID int64) (models.MenuItem, error) {
	return one[models.MenuItem](ctx, qs.q,
		"SELECT "+menuColumns+" FROM menu_items WHERE tenant_id = $1 AND id = $2", tenantID, itemID)
}

func (qs queries) GetActiveItems(ctx context.Context, tenantID int64) ([]models.MenuItem, error) {
	return collect[models.MenuItem](ctx, qs.q,
		"SELECT "+menuColumns+" FROM menu_items WHERE tenant_id = $1 AND active ORDER BY id", tenantID)
}

func (qs queries) ListItems(ctx context.Context, tenantID int64) ([]models.MenuItem, error) {
	return collect[models.MenuItem](ctx, qs.q,
		"SELECT "+menuColumns+" FROM menu_items WHERE tenant_id = $1 ORDER BY id", tenantID)
}

func (qs queries) GetStaff(ctx context.Context, tenantID, staffID int64) (models.Staff, error) {
	return one[models.Staff](ctx, qs.q,
		"SELECT "+staffColumns+" FROM staff WHERE tenant_id = $1 AND id = $2", tenantID, staffID)
}

func (qs queries) ListStaff(ctx context.Context, tenantID int64) ([]models.Staff, error) {
	return collect[models.Staff](ctx, qs.q,
		"SELECT "+staffColumns+" FROM staff WHERE tenant_id = $1 ORDER BY id", tenantID)
}

func (qs queries) GetTable(ctx context.Context, tenantID int64, number int) (models.Table, error) {
	return one[models.Table](ctx, qs.q,
		"SELECT "+tableColumns+" FROM tables WHERE tenant_id = $1 AND number = $2", tenantID, number)
}

func one[T any](ctx context.Context, q runtime.Querier, sql string, args ...any) (T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		var zero T
		return zero, &runtime.QueryError{Query: sql, Err: err}
	}
	v, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[T])
	if errors.Is(err, pgx.ErrNoRows) {
		return v, fmt.Errorf("%T: %w", v, runtime.ErrNotFound)
	}
	if err != nil {
		return v, &runtime.QueryError{Query: sql, Err: err}
	}
	return v, nil
}

func collect[T any](ctx context.Context, q runtime.Querier, sql string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, &runtime.QueryError{Query: sql, Err: err}
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, &runtime.QueryError{Query: sql, Err: err}
	}
	return out, nil
}

func exec(ctx context.Context, q runtime.Querier, sql string, args ...any) (int64, error) {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, runtime.Classify(&runtime.QueryError{Query: sql, Err: err})
	}
	return tag.RowsAffected(), nil
}
