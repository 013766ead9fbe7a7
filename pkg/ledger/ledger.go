// Package ledger owns table occupancy and the order lifecycle. Every
// operation takes the tenant id explicitly and runs in one store
// transaction; Scope binds the tenant resolved for a request.
package ledger

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/marshallshelly/tablelink/pkg/analytics"
	"github.com/marshallshelly/tablelink/pkg/logger"
	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/runtime"
	"github.com/marshallshelly/tablelink/pkg/store"
)

// Ledger implements the table and order state machine.
type Ledger struct {
	store store.Store
	agg   *analytics.Aggregator
	now   func() time.Time
	log   *logrus.Entry
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now for finish timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger. Settlements are recorded through agg.
func New(s store.Store, agg *analytics.Aggregator, opts ...Option) *Ledger {
	l := &Ledger{
		store: s,
		agg:   agg,
		now:   time.Now,
		log:   logger.Component("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ItemRequest is one line a guest orders.
type ItemRequest struct {
	MenuItemID     int64  `json:"menu_item_id" validate:"required,gt=0"`
	Qty            int    `json:"qty" validate:"min=1"`
	Customizations string `json:"customizations" validate:"max=500,no_markup"`
}

type itemBatch struct {
	Items []ItemRequest `json:"items" validate:"required,min=1,dive"`
}

type checkoutRequest struct {
	Method models.CheckoutMethod `json:"method" validate:"oneof=cash card"`
}

// Details is the active order of a table with its lines.
type Details struct {
	Table models.Table       `json:"table"`
	Order models.Order       `json:"order"`
	Lines []models.OrderLine `json:"items"`
	Total decimal.Decimal    `json:"total"`
}

func (l *Ledger) entry(ctx context.Context, tenantID int64, tableNumber int) *logrus.Entry {
	return logger.WithContext(ctx, l.log).WithFields(logrus.Fields{"tenant_id": tenantID, "table": tableNumber})
}

// GetTableByNumber returns the table or runtime.ErrNotFound.
func (l *Ledger) GetTableByNumber(ctx context.Context, tenantID int64, number int) (models.Table, error) {
	t, err := l.store.GetTable(ctx, tenantID, number)
	return t, runtime.Classify(err)
}

// ListTables returns the tenant's tables ordered by number.
func (l *Ledger) ListTables(ctx context.Context, tenantID int64) ([]models.Table, error) {
	ts, err := l.store.ListTables(ctx, tenantID)
	return ts, runtime.Classify(err)
}

// Menu returns the tenant's orderable items.
func (l *Ledger) Menu(ctx context.Context, tenantID int64) ([]models.MenuItem, error) {
	items, err := l.store.GetActiveItems(ctx, tenantID)
	return items, runtime.Classify(err)
}

// PlaceOrder adds items to the table's active order, or opens a new order
// and occupies the table when there is none. The guest must present the
// table code, and cannot order once checkout has been requested.
func (l *Ledger) PlaceOrder(ctx context.Context, tenantID int64, tableNumber int, code string, items []ItemRequest) (models.Order, error) {
	if err := runtime.Validate(itemBatch{Items: items}); err != nil {
		return models.Order{}, err
	}

	var order models.Order
	var appended bool
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		table, err := tx.LockTable(ctx, tenantID, tableNumber)
		if err != nil {
			return err
		}
		if subtle.ConstantTimeCompare([]byte(table.Code), []byte(code)) != 1 {
			return fmt.Errorf("table %d: %w", tableNumber, runtime.ErrInvalidCode)
		}
		if table.CheckoutRequested {
			return fmt.Errorf("table %d: %w", tableNumber, runtime.ErrCheckoutAlreadyRequested)
		}

		active, ok, err := tx.ActiveOrder(ctx, tenantID, table.ID)
		if err != nil {
			return err
		}
		if ok {
			appended = true
			order = active
			return l.appendItems(ctx, tx, table, active, items)
		}

		order, err = tx.CreateOrder(ctx, models.Order{
			TenantID:  tenantID,
			TableID:   table.ID,
			Status:    models.OrderActive,
			TipAmount: decimal.Zero,
		})
		if err != nil {
			return err
		}
		lines, err := priceItems(ctx, tx, tenantID, order.ID, items, false)
		if err != nil {
			return err
		}
		if _, err := tx.InsertOrderItems(ctx, lines); err != nil {
			return err
		}

		table.Status = models.TableOccupied
		return tx.UpdateTable(ctx, table)
	})
	if err != nil {
		return models.Order{}, runtime.Classify(err)
	}

	l.entry(ctx, tenantID, tableNumber).
		WithFields(logrus.Fields{"order_id": order.ID, "items": len(items), "appended": appended}).
		Info("order placed")
	return order, nil
}

// AppendItems adds items to an active order. Each item becomes its own
// row flagged as an extra, and the table is flagged for staff attention.
func (l *Ledger) AppendItems(ctx context.Context, tenantID, orderID int64, items []ItemRequest) error {
	if err := runtime.Validate(itemBatch{Items: items}); err != nil {
		return err
	}

	var tableNumber int
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		order, err := tx.GetOrder(ctx, tenantID, orderID)
		if err != nil {
			return err
		}
		table, err := tx.LockTableByID(ctx, tenantID, order.TableID)
		if err != nil {
			return err
		}
		tableNumber = table.Number

		// re-read under the table lock
		order, err = tx.GetOrder(ctx, tenantID, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderActive {
			return fmt.Errorf("order %d: %w", orderID, runtime.ErrNoActiveOrder)
		}
		return l.appendItems(ctx, tx, table, order, items)
	})
	if err != nil {
		return runtime.Classify(err)
	}

	l.entry(ctx, tenantID, tableNumber).
		WithFields(logrus.Fields{"order_id": orderID, "items": len(items)}).
		Info("extra items added")
	return nil
}

func (l *Ledger) appendItems(ctx context.Context, tx store.Tx, table models.Table, order models.Order, items []ItemRequest) error {
	lines, err := priceItems(ctx, tx, order.TenantID, order.ID, items, true)
	if err != nil {
		return err
	}
	if _, err := tx.InsertOrderItems(ctx, lines); err != nil {
		return err
	}
	table.HasExtraOrder = true
	return tx.UpdateTable(ctx, table)
}

// priceItems resolves menu items and snapshots their current price.
func priceItems(ctx context.Context, tx store.Tx, tenantID, orderID int64, items []ItemRequest, extra bool) ([]models.OrderItem, error) {
	out := make([]models.OrderItem, 0, len(items))
	for i, req := range items {
		m, err := tx.GetItem(ctx, tenantID, req.MenuItemID)
		if err != nil {
			return nil, err
		}
		if !m.Active {
			return nil, &runtime.ValidationError{
				Field:   fmt.Sprintf("items[%d].menu_item_id", i),
				Message: fmt.Sprintf("%s is not available", m.Name),
			}
		}
		out = append(out, models.OrderItem{
			OrderID:        orderID,
			TenantID:       tenantID,
			MenuItemID:     m.ID,
			Qty:            req.Qty,
			UnitPrice:      m.Price,
			Customizations: req.Customizations,
			IsExtraItem:    extra,
			IsNewExtra:     extra,
		})
	}
	return out, nil
}

// RequestCheckout stages the payment method and tip on an occupied table.
func (l *Ledger) RequestCheckout(ctx context.Context, tenantID int64, tableNumber int, method models.CheckoutMethod, tip decimal.Decimal) error {
	if err := runtime.Validate(checkoutRequest{Method: method}); err != nil {
		return err
	}
	if tip.IsNegative() {
		return &runtime.ValidationError{Field: "tip_amount", Message: "must not be negative"}
	}

	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		table, err := tx.LockTable(ctx, tenantID, tableNumber)
		if err != nil {
			return err
		}
		if table.Status != models.TableOccupied {
			return fmt.Errorf("table %d is %s: %w", tableNumber, table.Status, runtime.ErrNoActiveOrder)
		}
		if _, ok, err := tx.ActiveOrder(ctx, tenantID, table.ID); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("table %d: %w", tableNumber, runtime.ErrNoActiveOrder)
		}

		table.CheckoutRequested = true
		table.CheckoutMethod = method
		table.TipAmount = tip.Round(2)
		return tx.UpdateTable(ctx, table)
	})
	if err != nil {
		return runtime.Classify(err)
	}

	l.entry(ctx, tenantID, tableNumber).
		WithFields(logrus.Fields{"method": method, "tip": tip.StringFixed(2)}).
		Info("checkout requested")
	return nil
}

// FinishOrder settles the table's active order: it moves the staged tip
// onto the order, assigns staffID (0 leaves it unassigned) and records the
// analytics facts in the same transaction. The table stays occupied until
// CheckoutTable.
func (l *Ledger) FinishOrder(ctx context.Context, tenantID int64, tableNumber int, staffID int64) (models.Order, error) {
	var order models.Order
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		table, err := tx.LockTable(ctx, tenantID, tableNumber)
		if err != nil {
			return err
		}
		order, err = l.finish(ctx, tx, table, staffID)
		return err
	})
	if err != nil {
		return models.Order{}, runtime.Classify(err)
	}

	l.entry(ctx, tenantID, tableNumber).
		WithFields(logrus.Fields{"order_id": order.ID, "staff_id": staffID, "tip": order.TipAmount.StringFixed(2)}).
		Info("order finished")
	return order, nil
}

func (l *Ledger) finish(ctx context.Context, tx store.Tx, table models.Table, staffID int64) (models.Order, error) {
	order, ok, err := tx.ActiveOrder(ctx, table.TenantID, table.ID)
	if err != nil {
		return models.Order{}, err
	}
	if !ok {
		return models.Order{}, fmt.Errorf("table %d: %w", table.Number, runtime.ErrNoActiveOrder)
	}

	if staffID != 0 {
		s, err := tx.GetStaff(ctx, table.TenantID, staffID)
		if err != nil {
			return models.Order{}, err
		}
		if !s.Active {
			return models.Order{}, fmt.Errorf("staff %d is inactive: %w", staffID, runtime.ErrNotFound)
		}
	}

	finishedAt := l.now()
	order.Status = models.OrderFinished
	order.TipAmount = table.TipAmount
	order.StaffID = models.StaffRef(staffID)
	order.FinishedAt = &finishedAt
	if err := tx.UpdateOrder(ctx, order); err != nil {
		return models.Order{}, err
	}

	if _, err := l.agg.RecordSettlement(ctx, tx, table.TenantID, order, table.Number); err != nil {
		return models.Order{}, fmt.Errorf("failed to record settlement: %w", err)
	}
	return order, nil
}

// CheckoutTable frees a table whose order has been finished. Freeing a free
// table does nothing.
func (l *Ledger) CheckoutTable(ctx context.Context, tenantID int64, tableNumber int) error {
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		table, err := tx.LockTable(ctx, tenantID, tableNumber)
		if err != nil {
			return err
		}
		return freeTable(ctx, tx, table)
	})
	if err != nil {
		return runtime.Classify(err)
	}

	l.entry(ctx, tenantID, tableNumber).Info("table freed")
	return nil
}

func freeTable(ctx context.Context, tx store.Tx, table models.Table) error {
	if _, ok, err := tx.ActiveOrder(ctx, table.TenantID, table.ID); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("table %d: %w", table.Number, runtime.ErrOrderStillActive)
	}

	if table.Status == models.TableFree && !table.CheckoutRequested && !table.HasExtraOrder &&
		table.CheckoutMethod == models.CheckoutNone && table.TipAmount.IsZero() {
		return nil
	}
	table.Status = models.TableFree
	table.CheckoutRequested = false
	table.CheckoutMethod = models.CheckoutNone
	table.HasExtraOrder = false
	table.TipAmount = decimal.Zero
	return tx.UpdateTable(ctx, table)
}

// SettleTable finishes the active order and frees the table in one step.
func (l *Ledger) SettleTable(ctx context.Context, tenantID int64, tableNumber int, staffID int64) (models.Order, error) {
	var order models.Order
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		table, err := tx.LockTable(ctx, tenantID, tableNumber)
		if err != nil {
			return err
		}
		if order, err = l.finish(ctx, tx, table, staffID); err != nil {
			return err
		}
		return freeTable(ctx, tx, table)
	})
	if err != nil {
		return models.Order{}, runtime.Classify(err)
	}

	l.entry(ctx, tenantID, tableNumber).
		WithFields(logrus.Fields{"order_id": order.ID, "staff_id": staffID}).
		Info("table settled")
	return order, nil
}

// MarkViewed acknowledges extra items: it clears the table flag and the
// new-extra marks on the active order.
func (l *Ledger) MarkViewed(ctx context.Context, tenantID int64, tableNumber int) error {
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		table, err := tx.LockTable(ctx, tenantID, tableNumber)
		if err != nil {
			return err
		}
		if table.HasExtraOrder {
			table.HasExtraOrder = false
			if err := tx.UpdateTable(ctx, table); err != nil {
				return err
			}
		}
		order, ok, err := tx.ActiveOrder(ctx, tenantID, table.ID)
		if err != nil || !ok {
			return err
		}
		return tx.ClearNewExtra(ctx, tenantID, order.ID)
	})
	return runtime.Classify(err)
}

// OrderDetails returns the table's active order with priced lines.
func (l *Ledger) OrderDetails(ctx context.Context, tenantID int64, tableNumber int) (Details, error) {
	var d Details
	err := l.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		table, err := tx.GetTable(ctx, tenantID, tableNumber)
		if err != nil {
			return err
		}
		order, ok, err := tx.ActiveOrder(ctx, tenantID, table.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("table %d: %w", tableNumber, runtime.ErrNoActiveOrder)
		}
		lines, err := tx.OrderLines(ctx, tenantID, order.ID)
		if err != nil {
			return err
		}

		d = Details{Table: table, Order: order, Lines: lines, Total: decimal.Zero}
		for _, line := range lines {
			d.Total = d.Total.Add(line.Total())
		}
		return nil
	})
	if err != nil {
		return Details{}, runtime.Classify(err)
	}
	return d, nil
}
