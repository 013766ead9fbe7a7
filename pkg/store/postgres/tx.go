package postgres

import (
	"context"
	"fmt"

	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/runtime"
	"github.com/marshallshelly/tablelink/pkg/store"
)

// tx runs statements inside one pgx transaction.
type tx struct {
	queries
}

var _ store.Tx = (*tx)(nil)

// LockTable takes a row lock so concurrent writers for the same table queue
// behind this transaction.
func (t *tx) LockTable(ctx context.Context, tenantID int64, number int) (models.Table, error) {
	return one[models.Table](ctx, t.q,
		"SELECT "+tableColumns+" FROM tables WHERE tenant_id = $1 AND number = $2 FOR UPDATE", tenantID, number)
}

func (t *tx) LockTableByID(ctx context.Context, tenantID, tableID int64) (models.Table, error) {
	return one[models.Table](ctx, t.q,
		"SELECT "+tableColumns+" FROM tables WHERE tenant_id = $1 AND id = $2 FOR UPDATE", tenantID, tableID)
}

func (t *tx) UpdateTable(ctx context.Context, table models.Table) error {
	n, err := exec(ctx, t.q, `
		UPDATE tables
		SET status = $3, has_extra_order = $4, checkout_requested = $5, checkout_method = $6, tip_amount = $7
		WHERE tenant_id = $1 AND id = $2`,
		table.TenantID, table.ID, table.Status, table.HasExtraOrder, table.CheckoutRequested,
		table.CheckoutMethod, table.TipAmount)
	return affected(n, err, "table", table.ID)
}

func (t *tx) ActiveOrder(ctx context.Context, tenantID, tableID int64) (models.Order, bool, error) {
	orders, err := collect[models.Order](ctx, t.q,
		"SELECT "+orderColumns+" FROM orders WHERE tenant_id = $1 AND table_id = $2 AND status = 'active'",
		tenantID, tableID)
	if err != nil || len(orders) == 0 {
		return models.Order{}, false, err
	}
	return orders[0], true, nil
}

func (t *tx) GetOrder(ctx context.Context, tenantID, orderID int64) (models.Order, error) {
	return one[models.Order](ctx, t.q,
		"SELECT "+orderColumns+" FROM orders WHERE tenant_id = $1 AND id = $2", tenantID, orderID)
}

func (t *tx) CreateOrder(ctx context.Context, o models.Order) (models.Order, error) {
	created, err := one[models.Order](ctx, t.q, `
		INSERT INTO orders (tenant_id, table_id, staff_id, status, tip_amount)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+orderColumns,
		o.TenantID, o.TableID, o.StaffID, o.Status, o.TipAmount)
	return created, runtime.Classify(err)
}

func (t *tx) UpdateOrder(ctx context.Context, o models.Order) error {
	n, err := exec(ctx, t.q, `
		UPDATE orders SET staff_id = $3, status = $4, tip_amount = $5, finished_at = $6
		WHERE tenant_id = $1 AND id = $2`,
		o.TenantID, o.ID, o.StaffID, o.Status, o.TipAmount, o.FinishedAt)
	return affected(n, err, "order", o.ID)
}

func (t *tx) InsertOrderItems(ctx context.Context, items []models.OrderItem) ([]models.OrderItem, error) {
	out := make([]models.OrderItem, 0, len(items))
	for _, it := range items {
		inserted, err := one[models.OrderItem](ctx, t.q, `
			INSERT INTO order_items (order_id, tenant_id, menu_item_id, qty, unit_price, customizations, is_extra_item, is_new_extra)
			SELECT o.id, o.tenant_id, $3, $4, $5, $6, $7, $8
			FROM orders o WHERE o.tenant_id = $1 AND o.id = $2
			RETURNING id, order_id, tenant_id, menu_item_id, qty, unit_price, customizations, is_extra_item, is_new_extra, created_at`,
			it.TenantID, it.OrderID, it.MenuItemID, it.Qty, it.UnitPrice, it.Customizations, it.IsExtraItem, it.IsNewExtra)
		if err != nil {
			return nil, err
		}
		out = append(out, inserted)
	}
	return out, nil
}

func (t *tx) OrderLines(ctx context.Context, tenantID, orderID int64) ([]models.OrderLine, error) {
	return collect[models.OrderLine](ctx, t.q, `
		SELECT `+lineColumns+`
		FROM order_items oi
		JOIN menu_items m ON m.id = oi.menu_item_id AND m.tenant_id = oi.tenant_id
		WHERE oi.tenant_id = $1 AND oi.order_id = $2
		ORDER BY oi.id`,
		tenantID, orderID)
}

func (t *tx) ClearNewExtra(ctx context.Context, tenantID, orderID int64) error {
	_, err := exec(ctx, t.q,
		"UPDATE order_items SET is_new_extra = FALSE WHERE tenant_id = $1 AND order_id = $2 AND is_new_extra",
		tenantID, orderID)
	return err
}

func (t *tx) HasSettlement(ctx context.Context, tenantID int64, tableNumber int, staffID *int64, namePrefix string) (bool, error) {
	var exists bool
	sql := `
		SELECT EXISTS (
			SELECT 1 FROM analytics_records
			WHERE tenant_id = $1 AND table_number = $2
			  AND staff_id IS NOT DISTINCT FROM $3
			  AND starts_with(item_name, $4)
		)`
	if err := t.q.QueryRow(ctx, sql, tenantID, tableNumber, staffID, namePrefix).Scan(&exists); err != nil {
		return false, &runtime.QueryError{Query: sql, Err: err}
	}
	return exists, nil
}

func (t *tx) InsertAnalytics(ctx context.Context, records []models.AnalyticsRecord) error {
	for _, r := range records {
		_, err := exec(ctx, t.q, `
			INSERT INTO analytics_records (tenant_id, order_id, checkout_date, table_number, staff_id,
				item_name, item_category, quantity, unit_price, total_price, tip_amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			r.TenantID, r.OrderID, r.CheckoutDate, r.TableNumber, r.StaffID, r.ItemName,
			r.ItemCategory, r.Quantity, r.UnitPrice, r.TotalPrice, r.TipAmount)
		if err != nil {
			return fmt.Errorf("failed to insert analytics record: %w", err)
		}
	}
	return nil
}

func (t *tx) CreateTenant(ctx context.Context, tenant models.Tenant) (models.Tenant, error) {
	created, err := one[models.Tenant](ctx, t.q, `
		INSERT INTO tenants (name, subdomain, plan, active, trial_ends_at, subscription_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+tenantColumns,
		tenant.Name, tenant.Subdomain, tenant.Plan, tenant.Active, tenant.TrialEndsAt, tenant.SubscriptionStatus)
	return created, runtime.Classify(err)
}

func (t *tx) UpdateTenant(ctx context.Context, tenant models.Tenant) error {
	n, err := exec(ctx, t.q, `
		UPDATE tenants SET name = $2, plan = $3, active = $4, trial_ends_at = $5, subscription_status = $6
		WHERE id = $1`,
		tenant.ID, tenant.Name, tenant.Plan, tenant.Active, tenant.TrialEndsAt, tenant.SubscriptionStatus)
	return affected(n, err, "tenant", tenant.ID)
}

func (t *tx) CreateTables(ctx context.Context, tables []models.Table) error {
	for _, table := range tables {
		_, err := exec(ctx, t.q, `
			INSERT INTO tables (tenant_id, number, code, status, tip_amount)
			VALUES ($1, $2, $3, $4, $5)`,
			table.TenantID, table.Number, table.Code, table.Status, table.TipAmount)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) CreateStaff(ctx context.Context, s models.Staff) (models.Staff, error) {
	return one[models.Staff](ctx, t.q,
		"INSERT INTO staff (tenant_id, name, active) VALUES ($1, $2, $3) RETURNING "+staffColumns,
		s.TenantID, s.Name, s.Active)
}

func (t *tx) CreateMenuItems(ctx context.Context, items []models.MenuItem) error {
	for _, m := range items {
		_, err := exec(ctx, t.q, `
			INSERT INTO menu_items (tenant_id, name, ingredients, price, category, active)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			m.TenantID, m.Name, m.Ingredients, m.Price, m.Category, m.Active)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) CreateMenuItem(ctx context.Context, m models.MenuItem) (models.MenuItem, error) {
	created, err := one[models.MenuItem](ctx, t.q, `
		INSERT INTO menu_items (tenant_id, name, ingredients, price, category, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+menuColumns,
		m.TenantID, m.Name, m.Ingredients, m.Price, m.Category, m.Active)
	return created, runtime.Classify(err)
}

func (t *tx) SetItemActive(ctx context.Context, tenantID, itemID int64, active bool) error {
	n, err := exec(ctx, t.q, "UPDATE menu_items SET active = $3 WHERE tenant_id = $1 AND id = $2",
		tenantID, itemID, active)
	return affected(n, err, "menu item", itemID)
}

func (t *tx) SetStaffActive(ctx context.Context, tenantID, staffID int64, active bool) error {
	n, err := exec(ctx, t.q, "UPDATE staff SET active = $3 WHERE tenant_id = $1 AND id = $2",
		tenantID, staffID, active)
	return affected(n, err, "staff", staffID)
}

func (t *tx) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	created, err := one[models.User](ctx, t.q, `
		INSERT INTO users (tenant_id, username, password_hash, role, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		u.TenantID, u.Username, u.PasswordHash, u.Role, u.Active)
	return created, runtime.Classify(err)
}

// cascade lists dependent tables in delete order.
var cascade = []string{"analytics_records", "order_items", "orders", "menu_items", "staff", "tables", "users"}

func (t *tx) DeleteTenant(ctx context.Context, tenantID int64) error {
	for _, table := range cascade {
		if _, err := exec(ctx, t.q, "DELETE FROM "+table+" WHERE tenant_id = $1", tenantID); err != nil {
			return fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}
	n, err := exec(ctx, t.q, "DELETE FROM tenants WHERE id = $1", tenantID)
	return affected(n, err, "tenant", tenantID)
}

func affected(n int64, err error, what string, id int64) error {
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, runtime.ErrNotFound)
	}
	return nil
}
