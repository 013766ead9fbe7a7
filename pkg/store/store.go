// Package store defines the persistence contracts the ledger, the
// aggregator and the admin tooling depend on. Every tenant-owned read or
// write takes the tenant id and implementations must filter on it.
package store

import (
	"context"
	"time"

	"github.com/marshallshelly/tablelink/pkg/models"
)

// TenantDirectory looks tenants up. FindBySubdomain returns inactive tenants
// too so callers can tell "inactive" from "missing".
type TenantDirectory interface {
	FindBySubdomain(ctx context.Context, subdomain string) (models.Tenant, error)
	GetTenant(ctx context.Context, id int64) (models.Tenant, error)
	ListTenants(ctx context.Context) ([]models.Tenant, error)
}

// MenuCatalog is the read-only menu lookup.
type MenuCatalog interface {
	GetItem(ctx context.Context, tenantID, itemID int64) (models.MenuItem, error)
	GetActiveItems(ctx context.Context, tenantID int64) ([]models.MenuItem, error)
	// ListItems returns the whole menu, inactive items included, by id.
	ListItems(ctx context.Context, tenantID int64) ([]models.MenuItem, error)
}

// StaffRoster is the read-only staff lookup.
type StaffRoster interface {
	GetStaff(ctx context.Context, tenantID, staffID int64) (models.Staff, error)
	ListStaff(ctx context.Context, tenantID int64) ([]models.Staff, error)
}

// TableWriter covers table state. LockTable holds the row until the
// surrounding transaction ends.
type TableWriter interface {
	LockTable(ctx context.Context, tenantID int64, number int) (models.Table, error)
	LockTableByID(ctx context.Context, tenantID, tableID int64) (models.Table, error)
	GetTable(ctx context.Context, tenantID int64, number int) (models.Table, error)
	UpdateTable(ctx context.Context, t models.Table) error
}

// OrderWriter covers orders and their items.
type OrderWriter interface {
	ActiveOrder(ctx context.Context, tenantID, tableID int64) (models.Order, bool, error)
	GetOrder(ctx context.Context, tenantID, orderID int64) (models.Order, error)
	CreateOrder(ctx context.Context, o models.Order) (models.Order, error)
	UpdateOrder(ctx context.Context, o models.Order) error
	InsertOrderItems(ctx context.Context, items []models.OrderItem) ([]models.OrderItem, error)
	OrderLines(ctx context.Context, tenantID, orderID int64) ([]models.OrderLine, error)
	ClearNewExtra(ctx context.Context, tenantID, orderID int64) error
}

// AnalyticsWriter appends settlement facts.
type AnalyticsWriter interface {
	// HasSettlement reports whether records with the given item_name prefix
	// exist for the tenant, table and staff member.
	HasSettlement(ctx context.Context, tenantID int64, tableNumber int, staffID *int64, namePrefix string) (bool, error)
	InsertAnalytics(ctx context.Context, records []models.AnalyticsRecord) error
}

// TenantWriter covers onboarding and administration.
type TenantWriter interface {
	CreateTenant(ctx context.Context, t models.Tenant) (models.Tenant, error)
	UpdateTenant(ctx context.Context, t models.Tenant) error
	CreateTables(ctx context.Context, tables []models.Table) error
	CreateStaff(ctx context.Context, s models.Staff) (models.Staff, error)
	CreateMenuItems(ctx context.Context, items []models.MenuItem) error
	CreateUser(ctx context.Context, u models.User) (models.User, error)
	// DeleteTenant removes the tenant and every dependent row.
	DeleteTenant(ctx context.Context, tenantID int64) error
}

// CatalogWriter is the back-office side of the menu and the roster. Items
// and staff are deactivated, never deleted, since order lines and
// settlements keep pointing at them.
type CatalogWriter interface {
	CreateMenuItem(ctx context.Context, m models.MenuItem) (models.MenuItem, error)
	SetItemActive(ctx context.Context, tenantID, itemID int64, active bool) error
	SetStaffActive(ctx context.Context, tenantID, staffID int64, active bool) error
}

// Tx is the transactional view handed to InTx callbacks.
type Tx interface {
	TenantDirectory
	MenuCatalog
	StaffRoster
	TableWriter
	OrderWriter
	AnalyticsWriter
	TenantWriter
	CatalogWriter
}

// Range is a half-open time interval [From, To).
type Range struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// SalesFilter narrows report reads.
type SalesFilter struct {
	Range    Range
	StaffID  *int64
	ItemName string
}

// Reader covers non-transactional reads.
type Reader interface {
	TenantDirectory
	MenuCatalog
	StaffRoster
	GetTable(ctx context.Context, tenantID int64, number int) (models.Table, error)
	ListTables(ctx context.Context, tenantID int64) ([]models.Table, error)
	FindUser(ctx context.Context, tenantID int64, username string) (models.User, error)
	// AnalyticsRecords returns settlement facts by checkout date; ItemName is ignored.
	AnalyticsRecords(ctx context.Context, tenantID int64, f SalesFilter) ([]models.AnalyticsRecord, error)
	// SoldLines returns lines of finished orders by finish time, ordered by
	// finish time, then order id, then line id.
	SoldLines(ctx context.Context, tenantID int64, f SalesFilter) ([]models.SoldLine, error)
}

// Store is a persistence backend.
type Store interface {
	Reader
	// InTx runs fn atomically. A failing fn leaves no trace.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
