package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/store"
	"github.com/marshallshelly/tablelink/pkg/store/memory"
)

var now = time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memory.Store
	agg    *Aggregator
	tenant models.Tenant
	alice  models.Staff
	bob    models.Staff
	menu   map[string]models.MenuItem
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), menu: map[string]models.MenuItem{}}
	f.agg = New(f.store, WithClock(func() time.Time { return now }))

	err := f.store.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		f.tenant, err = tx.CreateTenant(ctx, models.Tenant{Name: "Demo", Subdomain: "demo", Plan: models.PlanProfessional, Active: true})
		if err != nil {
			return err
		}
		if f.alice, err = tx.CreateStaff(ctx, models.Staff{TenantID: f.tenant.ID, Name: "Alice", Active: true}); err != nil {
			return err
		}
		if f.bob, err = tx.CreateStaff(ctx, models.Staff{TenantID: f.tenant.ID, Name: "Bob", Active: true}); err != nil {
			return err
		}
		return tx.CreateMenuItems(ctx, []models.MenuItem{
			{TenantID: f.tenant.ID, Name: "Pizza", Category: "Mains", Price: decimal.RequireFromString("12.00"), Active: true},
			{TenantID: f.tenant.ID, Name: "Pasta", Category: "Mains", Price: decimal.RequireFromString("10.00"), Active: true},
			{TenantID: f.tenant.ID, Name: "Tiramisu", Category: "Desserts", Price: decimal.RequireFromString("6.00"), Active: true},
			{TenantID: f.tenant.ID, Name: "Wine", Category: "Drinks", Price: decimal.RequireFromString("7.00"), Active: true},
		})
	})
	require.NoError(t, err)

	items, err := f.store.GetActiveItems(context.Background(), f.tenant.ID)
	require.NoError(t, err)
	for _, m := range items {
		f.menu[m.Name] = m
	}
	return f
}

type line struct {
	name string
	qty  int
}

// settle stores a finished order and records its settlement.
func (f *fixture) settle(t *testing.T, table int, staff *int64, at time.Time, tip string, lines ...line) models.Order {
	t.Helper()
	var order models.Order
	err := f.store.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = tx.CreateOrder(ctx, models.Order{
			TenantID:   f.tenant.ID,
			TableID:    int64(table),
			StaffID:    staff,
			Status:     models.OrderFinished,
			TipAmount:  decimal.RequireFromString(tip),
			CreatedAt:  at,
			FinishedAt: &at,
		})
		if err != nil {
			return err
		}
		var items []models.OrderItem
		for _, l := range lines {
			m := f.menu[l.name]
			items = append(items, models.OrderItem{
				OrderID: order.ID, TenantID: f.tenant.ID, MenuItemID: m.ID, Qty: l.qty, UnitPrice: m.Price,
			})
		}
		if _, err := tx.InsertOrderItems(ctx, items); err != nil {
			return err
		}
		_, err = f.agg.RecordSettlement(ctx, tx, f.tenant.ID, order, table)
		return err
	})
	require.NoError(t, err)
	return order
}

func (f *fixture) records(t *testing.T) []models.AnalyticsRecord {
	t.Helper()
	rs, err := f.store.AnalyticsRecords(context.Background(), f.tenant.ID, store.SalesFilter{
		Range: store.Range{From: time.Time{}, To: now.AddDate(1, 0, 0)},
	})
	require.NoError(t, err)
	return rs
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func orderLine(category, price string, qty int) models.OrderLine {
	return models.OrderLine{
		OrderItem: models.OrderItem{Qty: qty, UnitPrice: dec(price)},
		Category:  category,
	}
}

func TestBuildSettlementSplitsTipByRevenueShare(t *testing.T) {
	finished := now
	order := models.Order{ID: 7, TenantID: 1, TipAmount: dec("10"), FinishedAt: &finished}

	records := BuildSettlement(order, 5, []models.OrderLine{
		orderLine("Starters", "15", 2),
		orderLine("Mains", "35", 2),
	})

	require.Len(t, records, 2)
	assert.Equal(t, "Order #7 - Starters", records[0].ItemName)
	assert.Equal(t, "30.00", records[0].TotalPrice.StringFixed(2))
	assert.Equal(t, "3.00", records[0].TipAmount.StringFixed(2))
	assert.Equal(t, "Order #7 - Mains", records[1].ItemName)
	assert.Equal(t, "70.00", records[1].TotalPrice.StringFixed(2))
	assert.Equal(t, "7.00", records[1].TipAmount.StringFixed(2))
	assert.Equal(t, finished, records[0].CheckoutDate)
	assert.Equal(t, 5, records[1].TableNumber)
}

func TestBuildSettlementGroupsAndBlendsUnitPrice(t *testing.T) {
	order := models.Order{ID: 3, TipAmount: dec("0")}
	records := BuildSettlement(order, 1, []models.OrderLine{
		orderLine("Mains", "12", 1),
		orderLine("Drinks", "7", 2),
		orderLine("Mains", "10", 2),
	})

	require.Len(t, records, 2)
	assert.Equal(t, "Mains", records[0].ItemCategory)
	assert.Equal(t, 3, records[0].Quantity)
	assert.Equal(t, "32.00", records[0].TotalPrice.StringFixed(2))
	assert.Equal(t, "10.67", records[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "Drinks", records[1].ItemCategory)
	assert.Equal(t, 2, records[1].Quantity)
}

func TestBuildSettlementTipSharesSumToTip(t *testing.T) {
	order := models.Order{ID: 1, TipAmount: dec("10")}
	records := BuildSettlement(order, 1, []models.OrderLine{
		orderLine("A", "10", 1),
		orderLine("B", "10", 1),
		orderLine("C", "10", 1),
	})

	require.Len(t, records, 3)
	assert.Equal(t, "3.34", records[0].TipAmount.StringFixed(2))
	assert.Equal(t, "3.33", records[1].TipAmount.StringFixed(2))
	assert.Equal(t, "3.33", records[2].TipAmount.StringFixed(2))

	sum := decimal.Zero
	for _, r := range records {
		sum = sum.Add(r.TipAmount)
	}
	assert.True(t, sum.Equal(order.TipAmount))
}

func TestBuildSettlementTipSharesNeverNegative(t *testing.T) {
	tests := []struct {
		name  string
		tip   string
		lines []models.OrderLine
		want  []string
	}{
		{
			name:  "two cents over four equal categories",
			tip:   "0.02",
			lines: []models.OrderLine{orderLine("A", "10", 1), orderLine("B", "10", 1), orderLine("C", "10", 1), orderLine("D", "10", 1)},
			want:  []string{"0.01", "0.01", "0.00", "0.00"},
		},
		{
			name:  "one cent over three categories",
			tip:   "0.01",
			lines: []models.OrderLine{orderLine("A", "5", 1), orderLine("B", "5", 1), orderLine("C", "5", 1)},
			want:  []string{"0.01", "0.00", "0.00"},
		},
		{
			name:  "leftover goes to the largest remainder",
			tip:   "1.00",
			lines: []models.OrderLine{orderLine("A", "2", 1), orderLine("B", "3", 1), orderLine("C", "4", 1)},
			want:  []string{"0.22", "0.33", "0.45"},
		},
		{
			name:  "many small categories",
			tip:   "0.05",
			lines: []models.OrderLine{orderLine("A", "3", 1), orderLine("B", "3", 1), orderLine("C", "3", 1), orderLine("D", "3", 1), orderLine("E", "3", 1), orderLine("F", "3", 1), orderLine("G", "3", 1)},
			want:  []string{"0.01", "0.01", "0.01", "0.01", "0.01", "0.00", "0.00"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := models.Order{ID: 1, TipAmount: dec(tt.tip)}
			records := BuildSettlement(order, 1, tt.lines)
			require.Len(t, records, len(tt.want))

			sum := decimal.Zero
			for i, r := range records {
				assert.False(t, r.TipAmount.IsNegative(), "category %s", r.ItemCategory)
				assert.Equal(t, tt.want[i], r.TipAmount.StringFixed(2), "category %s", r.ItemCategory)
				sum = sum.Add(r.TipAmount)
			}
			assert.True(t, sum.Equal(order.TipAmount), "shares sum to %s", sum)
		})
	}
}

func TestBuildSettlementZeroTotal(t *testing.T) {
	order := models.Order{ID: 1, TipAmount: dec("5")}
	records := BuildSettlement(order, 1, []models.OrderLine{
		orderLine("Free", "0", 1),
		orderLine("Also free", "0", 2),
	})

	require.Len(t, records, 2)
	for _, r := range records {
		assert.True(t, r.TipAmount.IsZero())
		assert.True(t, r.UnitPrice.IsZero())
	}
}

func TestSettlementPrefixDoesNotCollide(t *testing.T) {
	assert.NotContains(t, SettlementName(12, "Mains"), SettlementPrefix(1))
	assert.Contains(t, SettlementName(1, "Mains"), SettlementPrefix(1))
}

func TestRecordSettlementIsIdempotent(t *testing.T) {
	f := newFixture(t)
	order := f.settle(t, 5, &f.alice.ID, now, "10", line{"Pizza", 1}, line{"Wine", 2})
	require.Len(t, f.records(t), 2)

	var inserted int
	err := f.store.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		inserted, err = f.agg.RecordSettlement(ctx, tx, f.tenant.ID, order, 5)
		return err
	})
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.Len(t, f.records(t), 2)
}

func TestRecordSettlementRejectsForeignOrder(t *testing.T) {
	f := newFixture(t)
	err := f.store.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := f.agg.RecordSettlement(ctx, tx, f.tenant.ID+1, models.Order{ID: 1, TenantID: f.tenant.ID}, 1)
		return err
	})
	assert.Error(t, err)
}

func TestWindowFor(t *testing.T) {
	date := time.Date(2025, 3, 12, 18, 30, 0, 0, time.UTC)
	tests := []struct {
		period    Period
		wantStart string
		wantEnd   string
	}{
		{Day, "2025-03-12", "2025-03-12"},
		{Week, "2025-03-10", "2025-03-16"},
		{Month, "2025-03-01", "2025-03-31"},
		{Year, "2025-01-01", "2025-03-12"},
	}
	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			w, err := WindowFor(date, tt.period, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, w.Start.Format(dateLayout))
			assert.Equal(t, tt.wantEnd, w.End.Format(dateLayout))
		})
	}

	_, err := WindowFor(date, Period("decade"), time.UTC)
	assert.Error(t, err)
}

func TestWindowForSundayBelongsToPreviousMonday(t *testing.T) {
	sunday := time.Date(2025, 3, 16, 10, 0, 0, 0, time.UTC)
	w, err := WindowFor(sunday, Week, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", w.Start.Format(dateLayout))
	assert.Len(t, w.Days(), 7)

	r := w.Range()
	assert.True(t, r.Contains(time.Date(2025, 3, 16, 23, 59, 0, 0, time.UTC)))
	assert.False(t, r.Contains(time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC)))
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod(" Week ")
	require.NoError(t, err)
	assert.Equal(t, Week, p)

	_, err = ParsePeriod("fortnight")
	assert.Error(t, err)
}

func TestPeriodSummaryCountsRosterOrders(t *testing.T) {
	f := newFixture(t)
	f.settle(t, 1, &f.alice.ID, now, "2", line{"Pizza", 1}, line{"Wine", 1})
	f.settle(t, 2, &f.alice.ID, now, "0", line{"Pasta", 1})
	f.settle(t, 3, &f.bob.ID, now, "1", line{"Tiramisu", 1})
	f.settle(t, 4, nil, now, "5", line{"Pizza", 3})
	f.settle(t, 1, &f.alice.ID, now.AddDate(0, -1, 0), "0", line{"Pizza", 1})

	s := f.agg.PeriodSummary(context.Background(), f.tenant.ID, now, Day, nil)
	assert.Empty(t, s.Error)
	assert.Equal(t, 3, s.Orders)
	assert.Equal(t, "35.00", s.Sales.StringFixed(2))
	assert.Equal(t, "3.00", s.Tips.StringFixed(2))

	s = f.agg.PeriodSummary(context.Background(), f.tenant.ID, now, Day, &f.bob.ID)
	assert.Equal(t, 1, s.Orders)
	assert.Equal(t, "6.00", s.Sales.StringFixed(2))

	s = f.agg.PeriodSummary(context.Background(), f.tenant.ID, now, Year, nil)
	assert.Equal(t, 4, s.Orders)
}

func TestWaiterPerformance(t *testing.T) {
	f := newFixture(t)
	f.settle(t, 1, &f.alice.ID, now, "2", line{"Pizza", 1}, line{"Wine", 1})
	f.settle(t, 2, &f.alice.ID, now, "0", line{"Pasta", 1})
	f.settle(t, 2, &f.bob.ID, now, "1", line{"Pizza", 3})

	wp := f.agg.WaiterPerformance(context.Background(), f.tenant.ID, Week, now)
	require.Empty(t, wp.Error)
	require.Len(t, wp.Waiters, 2)

	bob, alice := wp.Waiters[0], wp.Waiters[1]
	assert.Equal(t, "Bob", bob.Name)
	assert.Equal(t, "36.00", bob.TotalSales.StringFixed(2))
	assert.Equal(t, 1, bob.TotalOrders)

	assert.Equal(t, "Alice", alice.Name)
	assert.Equal(t, 2, alice.TotalOrders)
	assert.Equal(t, 3, alice.TotalItems)
	assert.Equal(t, 2, alice.TablesServed)
	assert.Equal(t, "29.00", alice.TotalSales.StringFixed(2))
	assert.Equal(t, "14.50", alice.AvgOrderValue.StringFixed(2))
	assert.Equal(t, "2.00", alice.TotalTips.StringFixed(2))
}

func TestTopItems(t *testing.T) {
	f := newFixture(t)
	f.settle(t, 1, &f.alice.ID, now, "0", line{"Wine", 2}, line{"Pizza", 1})
	f.settle(t, 2, &f.bob.ID, now, "0", line{"Pizza", 1}, line{"Tiramisu", 2})
	f.settle(t, 3, &f.bob.ID, now, "0", line{"Pasta", 1})

	top := f.agg.TopItems(context.Background(), f.tenant.ID, Day, now, 0, nil)
	require.Empty(t, top.Error)
	require.Len(t, top.Items, 4)

	names := []string{top.Items[0].Name, top.Items[1].Name, top.Items[2].Name, top.Items[3].Name}
	assert.Equal(t, []string{"Wine", "Pizza", "Tiramisu", "Pasta"}, names)

	pizza := top.Items[1]
	assert.Equal(t, 2, pizza.Quantity)
	assert.Equal(t, 2, pizza.OrdersAppearedIn)
	assert.Equal(t, "24.00", pizza.Revenue.StringFixed(2))
	assert.Equal(t, "12.00", pizza.AvgPrice.StringFixed(2))
	assert.Equal(t, "Mains", pizza.Category)

	limited := f.agg.TopItems(context.Background(), f.tenant.ID, Day, now, 2, &f.bob.ID)
	require.Len(t, limited.Items, 2)
	assert.Equal(t, "Tiramisu", limited.Items[0].Name)
	assert.Equal(t, "Pizza", limited.Items[1].Name)
}

func TestCategoryComparison(t *testing.T) {
	f := newFixture(t)
	f.settle(t, 1, &f.alice.ID, now, "0", line{"Pizza", 1}, line{"Pasta", 1}, line{"Wine", 2})
	f.settle(t, 2, &f.bob.ID, now, "0", line{"Pizza", 1})

	cc := f.agg.CategoryComparison(context.Background(), f.tenant.ID, Month, now, nil)
	require.Empty(t, cc.Error)
	require.Len(t, cc.Categories, 2)
	assert.Equal(t, "48.00", cc.TotalRevenue.StringFixed(2))
	assert.Equal(t, 5, cc.TotalQuantity)

	mains := cc.Categories[0]
	assert.Equal(t, "Mains", mains.Category)
	assert.Equal(t, 2, mains.UniqueItems)
	assert.Equal(t, 2, mains.OrdersCount)
	assert.Equal(t, 3, mains.Quantity)
	assert.InDelta(t, 70.83, mains.RevenuePct, 0.001)
	assert.InDelta(t, 60.0, mains.QtyPct, 0.001)

	drinks := cc.Categories[1]
	assert.InDelta(t, 29.17, drinks.RevenuePct, 0.001)
}

func TestCategoryComparisonEmptyPeriod(t *testing.T) {
	f := newFixture(t)
	cc := f.agg.CategoryComparison(context.Background(), f.tenant.ID, Day, now, nil)
	assert.Empty(t, cc.Error)
	assert.Empty(t, cc.Categories)
	assert.True(t, cc.TotalRevenue.IsZero())
}

func TestItemTrendIsGapFilled(t *testing.T) {
	f := newFixture(t)
	f.settle(t, 1, &f.alice.ID, now.AddDate(0, 0, -2), "0", line{"Pizza", 2}, line{"Pasta", 4})
	f.settle(t, 2, &f.alice.ID, now.AddDate(0, 0, -20), "0", line{"Pizza", 1})
	f.settle(t, 3, &f.alice.ID, now.AddDate(0, 0, -45), "0", line{"Pizza", 9})

	trend := f.agg.ItemTrend(context.Background(), f.tenant.ID, "Pizza", 30)
	require.Empty(t, trend.Error)
	require.Len(t, trend.Points, 30)

	first, err := time.Parse(dateLayout, trend.Points[0].Date)
	require.NoError(t, err)
	assert.Equal(t, "2025-02-11", trend.Points[0].Date)
	assert.Equal(t, "2025-03-12", trend.Points[29].Date)
	for i, p := range trend.Points {
		assert.Equal(t, first.AddDate(0, 0, i).Format(dateLayout), p.Date)
	}

	assert.Equal(t, 3, trend.TotalQuantity)
	assert.Equal(t, 2, trend.ActiveDays)
	assert.Equal(t, "36.00", trend.TotalRevenue.StringFixed(2))
	assert.Equal(t, 2, trend.Points[27].Quantity)
	assert.Equal(t, 1, trend.Points[27].Orders)
}

func TestItemTrendWithoutDays(t *testing.T) {
	f := newFixture(t)
	trend := f.agg.ItemTrend(context.Background(), f.tenant.ID, "Pizza", 0)
	assert.Empty(t, trend.Points)
	assert.Empty(t, trend.Error)
}

func TestDashboard(t *testing.T) {
	f := newFixture(t)
	f.settle(t, 1, &f.alice.ID, now, "2", line{"Pizza", 1}, line{"Wine", 1})
	f.settle(t, 2, &f.bob.ID, now.AddDate(0, 0, -1), "1", line{"Tiramisu", 1})

	d := f.agg.Dashboard(context.Background(), f.tenant.ID, now, Week, nil)
	require.Empty(t, d.Error)
	assert.Equal(t, 2, d.Summary.Orders)
	assert.Equal(t, "25.00", d.Summary.Sales.StringFixed(2))
	assert.Len(t, d.TopItems, 3)
	assert.Len(t, d.Waiters, 2)
	require.Len(t, d.Categories, 3)
	assert.Equal(t, "Mains", d.Categories[0].Category)

	require.Len(t, d.Trend, 7)
	assert.Equal(t, "2025-03-12", d.Trend[6].Date)
	assert.Equal(t, 1, d.Trend[6].Orders)
	assert.Equal(t, "19.00", d.Trend[6].Revenue.StringFixed(2))
	assert.Equal(t, 1, d.Trend[5].Orders)
	assert.Zero(t, d.Trend[0].Orders)
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	f.settle(t, 1, &f.alice.ID, now, "1", line{"Pizza", 1})

	other := f.agg.PeriodSummary(context.Background(), f.tenant.ID+1, now, Day, nil)
	assert.Zero(t, other.Orders)
	assert.Empty(t, f.agg.TopItems(context.Background(), f.tenant.ID+1, Day, now, 10, nil).Items)
}

type failingReader struct {
	store.Reader
}

var errStorage = errors.New("connection reset")

func (failingReader) AnalyticsRecords(context.Context, int64, store.SalesFilter) ([]models.AnalyticsRecord, error) {
	return nil, errStorage
}

func (failingReader) SoldLines(context.Context, int64, store.SalesFilter) ([]models.SoldLine, error) {
	return nil, errStorage
}

func (failingReader) ListStaff(context.Context, int64) ([]models.Staff, error) {
	return nil, errStorage
}

func TestQueriesDegradeOnStorageErrors(t *testing.T) {
	a := New(failingReader{}, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	s := a.PeriodSummary(ctx, 1, now, Week, nil)
	assert.Equal(t, errStorage.Error(), s.Error)
	assert.Zero(t, s.Orders)
	assert.True(t, s.Sales.IsZero())

	top := a.TopItems(ctx, 1, Week, now, 5, nil)
	assert.NotEmpty(t, top.Error)
	assert.NotNil(t, top.Items)

	cc := a.CategoryComparison(ctx, 1, Week, now, nil)
	assert.NotEmpty(t, cc.Error)

	wp := a.WaiterPerformance(ctx, 1, Week, now)
	assert.NotEmpty(t, wp.Error)
	assert.Empty(t, wp.Waiters)

	trend := a.ItemTrend(ctx, 1, "Pizza", 14)
	assert.NotEmpty(t, trend.Error)
	assert.Len(t, trend.Points, 14)

	d := a.Dashboard(ctx, 1, now, Week, nil)
	assert.NotEmpty(t, d.Error)
	assert.Len(t, d.Trend, 7)
}

func TestInvalidPeriodDegrades(t *testing.T) {
	f := newFixture(t)
	s := f.agg.PeriodSummary(context.Background(), f.tenant.ID, now, Period("decade"), nil)
	assert.NotEmpty(t, s.Error)
	assert.Zero(t, s.Orders)
}
