package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/runtime"
	"github.com/marshallshelly/tablelink/pkg/store"
)

// tx mutates a private copy of the state.
type tx struct {
	st  *state
	now func() time.Time
}

var _ store.Tx = (*tx)(nil)

func (t *tx) FindBySubdomain(_ context.Context, subdomain string) (models.Tenant, error) {
	return t.st.findBySubdomain(subdomain)
}

func (t *tx) GetTenant(_ context.Context, id int64) (models.Tenant, error) {
	return t.st.getTenant(id)
}

func (t *tx) ListTenants(context.Context) ([]models.Tenant, error) {
	return sortedValues(t.st.tenants, byID[models.Tenant]), nil
}

func (t *tx) GetItem(_ context.Context, tenantID, itemID int64) (models.MenuItem, error) {
	return t.st.getItem(tenantID, itemID)
}

func (t *tx) GetActiveItems(_ context.Context, tenantID int64) ([]models.MenuItem, error) {
	return t.st.activeItems(tenantID), nil
}

func (t *tx) ListItems(_ context.Context, tenantID int64) ([]models.MenuItem, error) {
	return t.st.listItems(tenantID), nil
}

func (t *tx) GetStaff(_ context.Context, tenantID, staffID int64) (models.Staff, error) {
	return t.st.getStaff(tenantID, staffID)
}

func (t *tx) ListStaff(_ context.Context, tenantID int64) ([]models.Staff, error) {
	return t.st.listStaff(tenantID), nil
}

// LockTable needs no extra locking: the whole transaction holds the store lock.
func (t *tx) LockTable(_ context.Context, tenantID int64, number int) (models.Table, error) {
	return t.st.getTable(tenantID, number)
}

func (t *tx) LockTableByID(_ context.Context, tenantID, tableID int64) (models.Table, error) {
	table, ok := t.st.tables[tableID]
	if !ok || table.TenantID != tenantID {
		return models.Table{}, fmt.Errorf("table id %d: %w", tableID, runtime.ErrNotFound)
	}
	return table, nil
}

func (t *tx) GetTable(_ context.Context, tenantID int64, number int) (models.Table, error) {
	return t.st.getTable(tenantID, number)
}

func (t *tx) UpdateTable(_ context.Context, table models.Table) error {
	cur, ok := t.st.tables[table.ID]
	if !ok || cur.TenantID != table.TenantID {
		return fmt.Errorf("table %d: %w", table.ID, runtime.ErrNotFound)
	}
	t.st.tables[table.ID] = table
	return nil
}

func (t *tx) ActiveOrder(_ context.Context, tenantID, tableID int64) (models.Order, bool, error) {
	for _, o := range t.st.orders {
		if o.TenantID == tenantID && o.TableID == tableID && o.Status == models.OrderActive {
			return o, true, nil
		}
	}
	return models.Order{}, false, nil
}

func (t *tx) GetOrder(_ context.Context, tenantID, orderID int64) (models.Order, error) {
	o, ok := t.st.orders[orderID]
	if !ok || o.TenantID != tenantID {
		return models.Order{}, fmt.Errorf("order %d: %w", orderID, runtime.ErrNotFound)
	}
	return o, nil
}

func (t *tx) CreateOrder(ctx context.Context, o models.Order) (models.Order, error) {
	if o.Status == models.OrderActive {
		if _, exists, _ := t.ActiveOrder(ctx, o.TenantID, o.TableID); exists {
			return models.Order{}, fmt.Errorf("active order for table %d: %w", o.TableID, runtime.ErrDuplicateKey)
		}
	}
	o.ID = t.st.next("orders")
	if o.CreatedAt.IsZero() {
		o.CreatedAt = t.now()
	}
	t.st.orders[o.ID] = o
	return o, nil
}

func (t *tx) UpdateOrder(_ context.Context, o models.Order) error {
	cur, ok := t.st.orders[o.ID]
	if !ok || cur.TenantID != o.TenantID {
		return fmt.Errorf("order %d: %w", o.ID, runtime.ErrNotFound)
	}
	t.st.orders[o.ID] = o
	return nil
}

func (t *tx) InsertOrderItems(_ context.Context, items []models.OrderItem) ([]models.OrderItem, error) {
	out := make([]models.OrderItem, 0, len(items))
	for _, it := range items {
		o, ok := t.st.orders[it.OrderID]
		if !ok || o.TenantID != it.TenantID {
			return nil, fmt.Errorf("order %d: %w", it.OrderID, runtime.ErrNotFound)
		}
		it.ID = t.st.next("order_items")
		if it.CreatedAt.IsZero() {
			it.CreatedAt = t.now()
		}
		t.st.items[it.ID] = it
		out = append(out, it)
	}
	return out, nil
}

func (t *tx) OrderLines(_ context.Context, tenantID, orderID int64) ([]models.OrderLine, error) {
	return t.st.orderLines(tenantID, orderID), nil
}

func (t *tx) ClearNewExtra(_ context.Context, tenantID, orderID int64) error {
	for id, it := range t.st.items {
		if it.TenantID == tenantID && it.OrderID == orderID && it.IsNewExtra {
			it.IsNewExtra = false
			t.st.items[id] = it
		}
	}
	return nil
}

func (t *tx) HasSettlement(_ context.Context, tenantID int64, tableNumber int, staffID *int64, namePrefix string) (bool, error) {
	for _, r := range t.st.analytics {
		if r.TenantID == tenantID && r.TableNumber == tableNumber &&
			models.SameStaff(r.StaffID, staffID) && strings.HasPrefix(r.ItemName, namePrefix) {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertAnalytics(_ context.Context, records []models.AnalyticsRecord) error {
	for _, r := range records {
		r.ID = t.st.next("analytics_records")
		t.st.analytics = append(t.st.analytics, r)
	}
	return nil
}

func (t *tx) CreateTenant(_ context.Context, tenant models.Tenant) (models.Tenant, error) {
	if _, err := t.st.findBySubdomain(tenant.Subdomain); err == nil {
		return models.Tenant{}, fmt.Errorf("subdomain %q: %w", tenant.Subdomain, runtime.ErrDuplicateKey)
	}
	tenant.ID = t.st.next("tenants")
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = t.now()
	}
	t.st.tenants[tenant.ID] = tenant
	return tenant, nil
}

func (t *tx) UpdateTenant(_ context.Context, tenant models.Tenant) error {
	if _, ok := t.st.tenants[tenant.ID]; !ok {
		return fmt.Errorf("tenant %d: %w", tenant.ID, runtime.ErrNotFound)
	}
	t.st.tenants[tenant.ID] = tenant
	return nil
}

func (t *tx) CreateTables(_ context.Context, tables []models.Table) error {
	for _, table := range tables {
		if _, err := t.st.getTable(table.TenantID, table.Number); err == nil {
			return fmt.Errorf("table %d: %w", table.Number, runtime.ErrDuplicateKey)
		}
		table.ID = t.st.next("tables")
		t.st.tables[table.ID] = table
	}
	return nil
}

func (t *tx) CreateStaff(_ context.Context, s models.Staff) (models.Staff, error) {
	s.ID = t.st.next("staff")
	t.st.staff[s.ID] = s
	return s, nil
}

func (t *tx) CreateMenuItems(_ context.Context, items []models.MenuItem) error {
	for _, m := range items {
		m.ID = t.st.next("menu_items")
		t.st.menu[m.ID] = m
	}
	return nil
}

func (t *tx) CreateMenuItem(_ context.Context, m models.MenuItem) (models.MenuItem, error) {
	if _, err := t.st.getTenant(m.TenantID); err != nil {
		return models.MenuItem{}, err
	}
	m.ID = t.st.next("menu_items")
	t.st.menu[m.ID] = m
	return m, nil
}

func (t *tx) SetItemActive(_ context.Context, tenantID, itemID int64, active bool) error {
	m, err := t.st.getItem(tenantID, itemID)
	if err != nil {
		return err
	}
	m.Active = active
	t.st.menu[m.ID] = m
	return nil
}

func (t *tx) SetStaffActive(_ context.Context, tenantID, staffID int64, active bool) error {
	s, err := t.st.getStaff(tenantID, staffID)
	if err != nil {
		return err
	}
	s.Active = active
	t.st.staff[s.ID] = s
	return nil
}

func (t *tx) CreateUser(_ context.Context, u models.User) (models.User, error) {
	for _, existing := range t.st.users {
		if existing.TenantID == u.TenantID && existing.Username == u.Username {
			return models.User{}, fmt.Errorf("user %q: %w", u.Username, runtime.ErrDuplicateKey)
		}
	}
	u.ID = t.st.next("users")
	t.st.users[u.ID] = u
	return u, nil
}

func (t *tx) DeleteTenant(_ context.Context, tenantID int64) error {
	if _, ok := t.st.tenants[tenantID]; !ok {
		return fmt.Errorf("tenant %d: %w", tenantID, runtime.ErrNotFound)
	}

	kept := t.st.analytics[:0:0]
	for _, r := range t.st.analytics {
		if r.TenantID != tenantID {
			kept = append(kept, r)
		}
	}
	t.st.analytics = kept

	deleteWhere(t.st.items, func(v models.OrderItem) bool { return v.TenantID == tenantID })
	deleteWhere(t.st.orders, func(v models.Order) bool { return v.TenantID == tenantID })
	deleteWhere(t.st.menu, func(v models.MenuItem) bool { return v.TenantID == tenantID })
	deleteWhere(t.st.staff, func(v models.Staff) bool { return v.TenantID == tenantID })
	deleteWhere(t.st.tables, func(v models.Table) bool { return v.TenantID == tenantID })
	deleteWhere(t.st.users, func(v models.User) bool { return v.TenantID == tenantID })
	delete(t.st.tenants, tenantID)
	return nil
}

func deleteWhere[T any](m map[int64]T, match func(T) bool) {
	for id, v := range m {
		if match(v) {
			delete(m, id)
		}
	}
}
