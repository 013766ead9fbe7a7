// Package storetest is a conformance suite every store.Store backend must
// pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/runtime"
	"github.com/marshallshelly/tablelink/pkg/store"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"FailedTransactionLeavesNoTrace", testRollback},
		{"DuplicateSubdomain", testDuplicateSubdomain},
		{"TenantScoping", testTenantScoping},
		{"OrderLines", testOrderLines},
		{"OneActiveOrderPerTable", testOneActiveOrder},
		{"SoldLinesFilters", testSoldLines},
		{"AnalyticsRecords", testAnalytics},
		{"DeleteTenantCascades", testDeleteTenant},
		{"CatalogActivation", testCatalogActivation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

var day = time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)

type seed struct {
	tenant models.Tenant
	table  models.Table
	staff  models.Staff
	pizza  models.MenuItem
	cola   models.MenuItem
}

func seedTenant(t *testing.T, s store.Store, subdomain string) seed {
	t.Helper()
	ctx := context.Background()
	var out seed
	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if out.tenant, err = tx.CreateTenant(ctx, models.Tenant{
			Name: subdomain, Subdomain: subdomain, Plan: models.PlanBasic,
			Active: true, SubscriptionStatus: models.SubscriptionActive,
		}); err != nil {
			return err
		}
		id := out.tenant.ID
		if err := tx.CreateTables(ctx, []models.Table{
			{TenantID: id, Number: 1, Code: "123", Status: models.TableFree, TipAmount: decimal.Zero},
			{TenantID: id, Number: 2, Code: "456", Status: models.TableFree, TipAmount: decimal.Zero},
		}); err != nil {
			return err
		}
		if out.staff, err = tx.CreateStaff(ctx, models.Staff{TenantID: id, Name: "Waiter", Active: true}); err != nil {
			return err
		}
		return tx.CreateMenuItems(ctx, []models.MenuItem{
			{TenantID: id, Name: "Pizza", Category: "Mains", Price: decimal.RequireFromString("12.50"), Active: true},
			{TenantID: id, Name: "Cola", Category: "Drinks", Price: decimal.RequireFromString("3.00"), Active: true},
		})
	})
	require.NoError(t, err)

	items, err := s.GetActiveItems(ctx, out.tenant.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	out.pizza, out.cola = items[0], items[1]
	out.table, err = s.GetTable(ctx, out.tenant.ID, 1)
	require.NoError(t, err)
	return out
}

// finishedOrder stores a finished order with one line per item.
func finishedOrder(t *testing.T, s store.Store, sd seed, staff *int64, at time.Time, items ...models.MenuItem) models.Order {
	t.Helper()
	var order models.Order
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = tx.CreateOrder(ctx, models.Order{
			TenantID: sd.tenant.ID, TableID: sd.table.ID, Status: models.OrderActive, TipAmount: decimal.Zero,
		})
		if err != nil {
			return err
		}
		lines := make([]models.OrderItem, len(items))
		for i, m := range items {
			lines[i] = models.OrderItem{OrderID: order.ID, TenantID: sd.tenant.ID, MenuItemID: m.ID, Qty: 1, UnitPrice: m.Price}
		}
		if _, err := tx.InsertOrderItems(ctx, lines); err != nil {
			return err
		}
		order.Status = models.OrderFinished
		order.StaffID = staff
		order.FinishedAt = &at
		return tx.UpdateOrder(ctx, order)
	})
	require.NoError(t, err)
	return order
}

var errBoom = errors.New("boom")

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.CreateTenant(ctx, models.Tenant{
			Name: "Ghost", Subdomain: "ghost", Plan: models.PlanTrial, SubscriptionStatus: models.SubscriptionTrial,
		}); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	_, err = s.FindBySubdomain(ctx, "ghost")
	assert.ErrorIs(t, err, runtime.ErrNotFound)
}

func testDuplicateSubdomain(t *testing.T, s store.Store) {
	seedTenant(t, s, "roma")
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.CreateTenant(ctx, models.Tenant{
			Name: "Roma 2", Subdomain: "roma", Plan: models.PlanTrial, SubscriptionStatus: models.SubscriptionTrial,
		})
		return err
	})
	assert.ErrorIs(t, err, runtime.ErrDuplicateKey)
}

func testTenantScoping(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := seedTenant(t, s, "alpha")
	b := seedTenant(t, s, "beta")

	_, err := s.GetItem(ctx, b.tenant.ID, a.pizza.ID)
	assert.ErrorIs(t, err, runtime.ErrNotFound)
	_, err = s.GetStaff(ctx, b.tenant.ID, a.staff.ID)
	assert.ErrorIs(t, err, runtime.ErrNotFound)

	tables, err := s.ListTables(ctx, b.tenant.ID)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	for _, table := range tables {
		assert.Equal(t, b.tenant.ID, table.TenantID)
	}

	order := finishedOrder(t, s, a, nil, day.Add(12*time.Hour), a.pizza)
	err = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetOrder(ctx, b.tenant.ID, order.ID); !errors.Is(err, runtime.ErrNotFound) {
			return errors.New("order visible to another tenant")
		}
		if _, err := tx.LockTableByID(ctx, b.tenant.ID, a.table.ID); !errors.Is(err, runtime.ErrNotFound) {
			return errors.New("table lockable by another tenant")
		}
		foreign := a.table
		foreign.TenantID = b.tenant.ID
		foreign.Status = models.TableOccupied
		if err := tx.UpdateTable(ctx, foreign); !errors.Is(err, runtime.ErrNotFound) {
			return errors.New("table writable by another tenant")
		}
		return nil
	})
	require.NoError(t, err)

	lines, err := s.SoldLines(ctx, b.tenant.ID, store.SalesFilter{Range: store.Range{From: day, To: day.AddDate(0, 0, 1)}})
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func testCatalogActivation(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := seedTenant(t, s, "alpha")
	b := seedTenant(t, s, "beta")

	var soup models.MenuItem
	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		soup, err = tx.CreateMenuItem(ctx, models.MenuItem{
			TenantID: a.tenant.ID, Name: "Soup", Category: "Starters",
			Price: decimal.RequireFromString("4.20"), Active: true,
		})
		if err != nil {
			return err
		}
		if err := tx.SetItemActive(ctx, a.tenant.ID, a.pizza.ID, false); err != nil {
			return err
		}
		return tx.SetStaffActive(ctx, a.tenant.ID, a.staff.ID, false)
	})
	require.NoError(t, err)
	assert.NotZero(t, soup.ID)
	assert.True(t, soup.Price.Equal(decimal.RequireFromString("4.20")))

	active, err := s.GetActiveItems(ctx, a.tenant.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, []int64{a.cola.ID, soup.ID}, []int64{active[0].ID, active[1].ID})

	all, err := s.ListItems(ctx, a.tenant.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, a.pizza.ID, all[0].ID)
	assert.False(t, all[0].Active)

	staff, err := s.GetStaff(ctx, a.tenant.ID, a.staff.ID)
	require.NoError(t, err)
	assert.False(t, staff.Active)

	err = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetItemActive(ctx, b.tenant.ID, a.cola.ID, false)
	})
	assert.ErrorIs(t, err, runtime.ErrNotFound)
	err = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetStaffActive(ctx, b.tenant.ID, a.staff.ID, true)
	})
	assert.ErrorIs(t, err, runtime.ErrNotFound)

	others, err := s.ListItems(ctx, b.tenant.ID)
	require.NoError(t, err)
	assert.Len(t, others, 2)
}

func testOrderLines(t *testing.T, s store.Store) {
	sd := seedTenant(t, s, "lines")
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		table, err := tx.LockTable(ctx, sd.tenant.ID, 1)
		if err != nil {
			return err
		}
		order, err := tx.CreateOrder(ctx, models.Order{
			TenantID: sd.tenant.ID, TableID: table.ID, Status: models.OrderActive, TipAmount: decimal.Zero,
		})
		if err != nil {
			return err
		}
		if _, err := tx.InsertOrderItems(ctx, []models.OrderItem{
			{OrderID: order.ID, TenantID: sd.tenant.ID, MenuItemID: sd.pizza.ID, Qty: 2, UnitPrice: sd.pizza.Price},
			{OrderID: order.ID, TenantID: sd.tenant.ID, MenuItemID: sd.cola.ID, Qty: 1, UnitPrice: sd.cola.Price,
				IsExtraItem: true, IsNewExtra: true, Customizations: "no ice"},
		}); err != nil {
			return err
		}

		active, ok, err := tx.ActiveOrder(ctx, sd.tenant.ID, table.ID)
		if err != nil {
			return err
		}
		assert.True(t, ok)
		assert.Equal(t, order.ID, active.ID)

		lines, err := tx.OrderLines(ctx, sd.tenant.ID, order.ID)
		if err != nil {
			return err
		}
		require.Len(t, lines, 2)
		assert.Equal(t, "Pizza", lines[0].Name)
		assert.Equal(t, "Mains", lines[0].Category)
		assert.True(t, lines[0].Total().Equal(decimal.RequireFromString("25.00")))
		assert.Equal(t, "no ice", lines[1].Customizations)
		assert.True(t, lines[1].IsNewExtra)

		if err := tx.ClearNewExtra(ctx, sd.tenant.ID, order.ID); err != nil {
			return err
		}
		lines, err = tx.OrderLines(ctx, sd.tenant.ID, order.ID)
		if err != nil {
			return err
		}
		assert.False(t, lines[1].IsNewExtra)
		assert.True(t, lines[1].IsExtraItem)
		return nil
	})
	require.NoError(t, err)
}

func testOneActiveOrder(t *testing.T, s store.Store) {
	sd := seedTenant(t, s, "single")
	create := func() error {
		return s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			_, err := tx.CreateOrder(ctx, models.Order{
				TenantID: sd.tenant.ID, TableID: sd.table.ID, Status: models.OrderActive, TipAmount: decimal.Zero,
			})
			return err
		})
	}
	require.NoError(t, create())
	assert.ErrorIs(t, create(), runtime.ErrDuplicateKey)
}

func testSoldLines(t *testing.T, s store.Store) {
	ctx := context.Background()
	sd := seedTenant(t, s, "sold")
	staff := sd.staff.ID

	finishedOrder(t, s, sd, &staff, day.Add(10*time.Hour), sd.pizza, sd.cola)
	finishedOrder(t, s, sd, nil, day.Add(20*time.Hour), sd.cola)
	finishedOrder(t, s, sd, &staff, day.AddDate(0, 0, 1).Add(time.Hour), sd.pizza)

	today := store.Range{From: day, To: day.AddDate(0, 0, 1)}
	lines, err := s.SoldLines(ctx, sd.tenant.ID, store.SalesFilter{Range: today})
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"Pizza", "Cola", "Cola"}, []string{lines[0].Name, lines[1].Name, lines[2].Name})
	assert.True(t, lines[0].FinishedAt.Equal(day.Add(10*time.Hour)))

	lines, err = s.SoldLines(ctx, sd.tenant.ID, store.SalesFilter{Range: today, StaffID: &staff})
	require.NoError(t, err)
	assert.Len(t, lines, 2)

	lines, err = s.SoldLines(ctx, sd.tenant.ID, store.SalesFilter{Range: today, ItemName: "Cola"})
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func testAnalytics(t *testing.T, s store.Store) {
	ctx := context.Background()
	sd := seedTenant(t, s, "facts")
	staff := sd.staff.ID
	record := func(orderID int64, name string, at time.Time) models.AnalyticsRecord {
		return models.AnalyticsRecord{
			TenantID: sd.tenant.ID, OrderID: orderID, CheckoutDate: at, TableNumber: 1, StaffID: &staff,
			ItemName: name, ItemCategory: "Mains", Quantity: 1,
			UnitPrice: decimal.RequireFromString("12.50"), TotalPrice: decimal.RequireFromString("12.50"),
			TipAmount: decimal.RequireFromString("1.00"),
		}
	}

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertAnalytics(ctx, []models.AnalyticsRecord{
			record(7, "Order #7 - Mains", day.Add(13*time.Hour)),
			record(8, "Order #8 - Mains", day.AddDate(0, 0, -1).Add(13*time.Hour)),
		})
	})
	require.NoError(t, err)

	records, err := s.AnalyticsRecords(ctx, sd.tenant.ID, store.SalesFilter{Range: store.Range{From: day, To: day.AddDate(0, 0, 1)}})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(7), records[0].OrderID)
	assert.True(t, records[0].TotalPrice.Equal(decimal.RequireFromString("12.50")))

	other := sd.staff.ID + 1000
	records, err = s.AnalyticsRecords(ctx, sd.tenant.ID, store.SalesFilter{
		Range: store.Range{From: day.AddDate(0, 0, -1), To: day.AddDate(0, 0, 1)}, StaffID: &other,
	})
	require.NoError(t, err)
	assert.Empty(t, records)

	err = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		found, err := tx.HasSettlement(ctx, sd.tenant.ID, 1, &staff, "Order #7 - ")
		if err != nil {
			return err
		}
		assert.True(t, found)

		found, err = tx.HasSettlement(ctx, sd.tenant.ID, 1, &staff, "Order #70 - ")
		if err != nil {
			return err
		}
		assert.False(t, found)

		found, err = tx.HasSettlement(ctx, sd.tenant.ID, 1, nil, "Order #7 - ")
		if err != nil {
			return err
		}
		assert.False(t, found)
		return nil
	})
	require.NoError(t, err)
}

func testDeleteTenant(t *testing.T, s store.Store) {
	ctx := context.Background()
	gone := seedTenant(t, s, "gone")
	kept := seedTenant(t, s, "kept")
	finishedOrder(t, s, gone, nil, day.Add(9*time.Hour), gone.pizza)
	finishedOrder(t, s, kept, nil, day.Add(9*time.Hour), kept.pizza)

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeleteTenant(ctx, gone.tenant.ID)
	})
	require.NoError(t, err)

	_, err = s.GetTenant(ctx, gone.tenant.ID)
	assert.ErrorIs(t, err, runtime.ErrNotFound)
	tables, err := s.ListTables(ctx, gone.tenant.ID)
	require.NoError(t, err)
	assert.Empty(t, tables)

	lines, err := s.SoldLines(ctx, kept.tenant.ID, store.SalesFilter{Range: store.Range{From: day, To: day.AddDate(0, 0, 1)}})
	require.NoError(t, err)
	assert.Len(t, lines, 1)

	err = s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeleteTenant(ctx, gone.tenant.ID)
	})
	assert.ErrorIs(t, err, runtime.ErrNotFound)
}
