package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/tenant"
)

// Scoped is a Ledger bound to one tenant.
type Scoped struct {
	l        *Ledger
	tenantID int64
}

// Scope binds the ledger to the tenant carried by ctx. It fails with
// runtime.ErrNoTenantContext outside a resolved request.
func (l *Ledger) Scope(ctx context.Context) (Scoped, error) {
	id, err := tenant.IDFromContext(ctx)
	if err != nil {
		return Scoped{}, err
	}
	return l.For(id), nil
}

// For binds the ledger to tenantID.
func (l *Ledger) For(tenantID int64) Scoped {
	return Scoped{l: l, tenantID: tenantID}
}

// TenantID is the bound tenant.
func (s Scoped) TenantID() int64 { return s.tenantID }

// Table returns the bound tenant's table by number.
func (s Scoped) Table(ctx context.Context, number int) (models.Table, error) {
	return s.l.GetTableByNumber(ctx, s.tenantID, number)
}

// Tables lists the bound tenant's tables by number.
func (s Scoped) Tables(ctx context.Context) ([]models.Table, error) {
	return s.l.ListTables(ctx, s.tenantID)
}

// Menu returns the active menu.
func (s Scoped) Menu(ctx context.Context) ([]models.MenuItem, error) {
	return s.l.Menu(ctx, s.tenantID)
}

// PlaceOrder is Ledger.PlaceOrder for the bound tenant.
func (s Scoped) PlaceOrder(ctx context.Context, tableNumber int, code string, items []ItemRequest) (models.Order, error) {
	return s.l.PlaceOrder(ctx, s.tenantID, tableNumber, code, items)
}

// AppendItems adds staff-entered extras to an active order.
func (s Scoped) AppendItems(ctx context.Context, orderID int64, items []ItemRequest) error {
	return s.l.AppendItems(ctx, s.tenantID, orderID, items)
}

// RequestCheckout stages the payment method and tip.
func (s Scoped) RequestCheckout(ctx context.Context, tableNumber int, method models.CheckoutMethod, tip decimal.Decimal) error {
	return s.l.RequestCheckout(ctx, s.tenantID, tableNumber, method, tip)
}

// FinishOrder settles the table's active order.
func (s Scoped) FinishOrder(ctx context.Context, tableNumber int, staffID int64) (models.Order, error) {
	return s.l.FinishOrder(ctx, s.tenantID, tableNumber, staffID)
}

// CheckoutTable frees a table whose order is finished.
func (s Scoped) CheckoutTable(ctx context.Context, tableNumber int) error {
	return s.l.CheckoutTable(ctx, s.tenantID, tableNumber)
}

// SettleTable finishes the order and frees the table at once.
func (s Scoped) SettleTable(ctx context.Context, tableNumber int, staffID int64) (models.Order, error) {
	return s.l.SettleTable(ctx, s.tenantID, tableNumber, staffID)
}

// MarkViewed acknowledges the table's extra items.
func (s Scoped) MarkViewed(ctx context.Context, tableNumber int) error {
	return s.l.MarkViewed(ctx, s.tenantID, tableNumber)
}

// OrderDetails returns the active order with its lines and total.
func (s Scoped) OrderDetails(ctx context.Context, tableNumber int) (Details, error) {
	return s.l.OrderDetails(ctx, s.tenantID, tableNumber)
}
