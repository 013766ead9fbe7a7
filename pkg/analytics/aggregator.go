// Package analytics turns settled orders into per-category facts and
// answers period reports over them. Report queries never fail: storage
// errors are logged and returned as a zero result with Error set.
package analytics

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/marshallshelly/tablelink/pkg/logger"
	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/store"
)

// DefaultTopItems is the limit used when callers pass zero.
const DefaultTopItems = 10

// Aggregator answers analytics queries for one store.
type Aggregator struct {
	reader store.Reader
	loc    *time.Location
	now    func() time.Time
	log    *logrus.Entry
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLocation sets the zone used for calendar-day boundaries.
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) { a.loc = loc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New creates an Aggregator reading from r.
func New(r store.Reader, opts ...Option) *Aggregator {
	a := &Aggregator{
		reader: r,
		loc:    time.UTC,
		now:    time.Now,
		log:    logger.Component("analytics"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Location is the zone used for day boundaries.
func (a *Aggregator) Location() *time.Location {
	return a.loc
}

// degrade logs a failed query and returns the message for the payload.
func (a *Aggregator) degrade(ctx context.Context, tenantID int64, query string, err error) string {
	logger.WithContext(ctx, a.log).
		WithFields(logrus.Fields{"tenant_id": tenantID, "query": query}).
		WithError(err).
		Error("analytics query failed, returning empty result")
	return err.Error()
}

// Summary totals a period.
type Summary struct {
	Window Window          `json:"window"`
	Orders int             `json:"total_orders"`
	Sales  decimal.Decimal `json:"total_sales"`
	Tips   decimal.Decimal `json:"total_tips"`
	Error  string          `json:"error,omitempty"`
}

// PeriodSummary totals orders, sales and tips for the period containing date.
// The totals are the sums of the waiter rollup, so an order counts once per
// roster staff member who settled it and records without a roster staff
// member are left out.
func (a *Aggregator) PeriodSummary(ctx context.Context, tenantID int64, date time.Time, period Period, staffID *int64) Summary {
	w, err := WindowFor(date, period, a.loc)
	if err != nil {
		return Summary{Window: Window{Period: period}, Error: a.degrade(ctx, tenantID, "period_summary", err)}
	}
	waiters, err := a.waiterRollup(ctx, tenantID, w.Range(), staffID)
	if err != nil {
		return Summary{Window: w, Error: a.degrade(ctx, tenantID, "period_summary", err)}
	}
	return summarize(w, waiters)
}

func summarize(w Window, waiters []WaiterStats) Summary {
	s := Summary{Window: w}
	for _, ws := range waiters {
		s.Orders += ws.TotalOrders
		s.Sales = s.Sales.Add(ws.TotalSales)
		s.Tips = s.Tips.Add(ws.TotalTips)
	}
	return s
}

// WaiterStats is one staff member's share of a period.
type WaiterStats struct {
	StaffID       int64           `json:"staff_id"`
	Name          string          `json:"name"`
	TotalOrders   int             `json:"total_orders"`
	TotalItems    int             `json:"total_items"`
	TotalSales    decimal.Decimal `json:"total_sales"`
	TotalTips     decimal.Decimal `json:"total_tips"`
	AvgOrderValue decimal.Decimal `json:"avg_order_value"`
	TablesServed  int             `json:"tables_served"`
}

// WaiterPerformance lists staff results for a period.
type WaiterPerformance struct {
	Window  Window        `json:"window"`
	Waiters []WaiterStats `json:"waiters"`
	Error   string        `json:"error,omitempty"`
}

// WaiterPerformance ranks roster staff by sales over the period containing date.
func (a *Aggregator) WaiterPerformance(ctx context.Context, tenantID int64, period Period, date time.Time) WaiterPerformance {
	w, err := WindowFor(date, period, a.loc)
	if err != nil {
		return WaiterPerformance{Window: Window{Period: period}, Waiters: []WaiterStats{}, Error: a.degrade(ctx, tenantID, "waiter_performance", err)}
	}
	waiters, err := a.waiterRollup(ctx, tenantID, w.Range(), nil)
	if err != nil {
		return WaiterPerformance{Window: w, Waiters: []WaiterStats{}, Error: a.degrade(ctx, tenantID, "waiter_performance", err)}
	}
	return WaiterPerformance{Window: w, Waiters: waiters}
}

func (a *Aggregator) waiterRollup(ctx context.Context, tenantID int64, r store.Range, staffID *int64) ([]WaiterStats, error) {
	records, err := a.reader.AnalyticsRecords(ctx, tenantID, store.SalesFilter{Range: r, StaffID: staffID})
	if err != nil {
		return nil, err
	}
	roster, err := a.reader.ListStaff(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return rollupWaiters(records, roster), nil
}

// rollupWaiters aggregates records per roster staff member, counting
// distinct orders and tables.
func rollupWaiters(records []models.AnalyticsRecord, roster []models.Staff) []WaiterStats {
	names := make(map[int64]string, len(roster))
	for _, s := range roster {
		names[s.ID] = s.Name
	}

	type acc struct {
		stats  WaiterStats
		orders map[int64]struct{}
		tables map[int]struct{}
	}
	byStaff := map[int64]*acc{}
	var order []int64

	for _, r := range records {
		if r.StaffID == nil {
			continue
		}
		name, ok := names[*r.StaffID]
		if !ok {
			continue
		}
		a, ok := byStaff[*r.StaffID]
		if !ok {
			a = &acc{
				stats:  WaiterStats{StaffID: *r.StaffID, Name: name},
				orders: map[int64]struct{}{},
				tables: map[int]struct{}{},
			}
			byStaff[*r.StaffID] = a
			order = append(order, *r.StaffID)
		}
		a.orders[r.OrderID] = struct{}{}
		a.tables[r.TableNumber] = struct{}{}
		a.stats.TotalItems += r.Quantity
		a.stats.TotalSales = a.stats.TotalSales.Add(r.TotalPrice)
		a.stats.TotalTips = a.stats.TotalTips.Add(r.TipAmount)
	}

	out := make([]WaiterStats, 0, len(order))
	for _, id := range order {
		a := byStaff[id]
		a.stats.TotalOrders = len(a.orders)
		a.stats.TablesServed = len(a.tables)
		a.stats.AvgOrderValue = a.stats.TotalSales.Div(decimal.NewFromInt(int64(max(a.stats.TotalOrders, 1)))).Round(2)
		out = append(out, a.stats)
	}
	slices.SortStableFunc(out, func(x, y WaiterStats) int {
		if c := y.TotalSales.Cmp(x.TotalSales); c != 0 {
			return c
		}
		return cmp.Compare(x.StaffID, y.StaffID)
	})
	return out
}

// TopItem is one menu item's sales in a period.
type TopItem struct {
	MenuItemID         int64           `json:"menu_item_id"`
	Name               string          `json:"name"`
	Category           string          `json:"category"`
	Quantity           int             `json:"quantity_sold"`
	Revenue            decimal.Decimal `json:"revenue"`
	OrdersAppearedIn   int             `json:"orders_appeared_in"`
	AvgPrice           decimal.Decimal `json:"avg_price"`
	AvgRevenuePerOrder decimal.Decimal `json:"avg_revenue_per_order"`
}

// TopItems is the best sellers report.
type TopItems struct {
	Window Window    `json:"window"`
	Items  []TopItem `json:"top_items"`
	Error  string    `json:"error,omitempty"`
}

// TopItems ranks menu items of finished orders in the period by quantity.
// Ties keep the order in which items were first sold.
func (a *Aggregator) TopItems(ctx context.Context, tenantID int64, period Period, date time.Time, limit int, staffID *int64) TopItems {
	w, err := WindowFor(date, period, a.loc)
	if err != nil {
		return TopItems{Window: Window{Period: period}, Items: []TopItem{}, Error: a.degrade(ctx, tenantID, "top_items", err)}
	}
	lines, err := a.reader.SoldLines(ctx, tenantID, store.SalesFilter{Range: w.Range(), StaffID: staffID})
	if err != nil {
		return TopItems{Window: w, Items: []TopItem{}, Error: a.degrade(ctx, tenantID, "top_items", err)}
	}
	if limit <= 0 {
		limit = DefaultTopItems
	}
	items := rankItems(lines)
	if len(items) > limit {
		items = items[:limit]
	}
	return TopItems{Window: w, Items: items}
}

func rankItems(lines []models.SoldLine) []TopItem {
	type acc struct {
		item      TopItem
		orders    map[int64]struct{}
		priceSum  decimal.Decimal
		lineCount int64
	}
	byItem := map[int64]*acc{}
	var seen []int64

	for _, l := range lines {
		a, ok := byItem[l.MenuItemID]
		if !ok {
			a = &acc{
				item:   TopItem{MenuItemID: l.MenuItemID, Name: l.Name, Category: l.Category},
				orders: map[int64]struct{}{},
			}
			byItem[l.MenuItemID] = a
			seen = append(seen, l.MenuItemID)
		}
		a.item.Quantity += l.Qty
		a.item.Revenue = a.item.Revenue.Add(l.Total())
		a.orders[l.OrderID] = struct{}{}
		a.priceSum = a.priceSum.Add(l.UnitPrice)
		a.lineCount++
	}

	out := make([]TopItem, 0, len(seen))
	for _, id := range seen {
		a := byItem[id]
		a.item.OrdersAppearedIn = len(a.orders)
		a.item.AvgPrice = a.priceSum.Div(decimal.NewFromInt(a.lineCount)).Round(2)
		a.item.AvgRevenuePerOrder = a.item.Revenue.Div(decimal.NewFromInt(int64(max(len(a.orders), 1)))).Round(2)
		out = append(out, a.item)
	}
	slices.SortStableFunc(out, func(x, y TopItem) int {
		return cmp.Compare(y.Quantity, x.Quantity)
	})
	return out
}

// CategoryStat is one category's share of a period.
type CategoryStat struct {
	Category           string          `json:"category"`
	Quantity           int             `json:"quantity_sold"`
	Revenue            decimal.Decimal `json:"revenue"`
	UniqueItems        int             `json:"unique_items"`
	OrdersCount        int             `json:"orders_count"`
	AvgItemPrice       decimal.Decimal `json:"avg_item_price"`
	RevenuePct         float64         `json:"revenue_percentage"`
	QtyPct             float64         `json:"quantity_percentage"`
	AvgRevenuePerOrder decimal.Decimal `json:"avg_revenue_per_order"`
}

// CategoryComparison compares categories within a period.
type CategoryComparison struct {
	Window        Window          `json:"window"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	TotalQuantity int             `json:"total_quantity"`
	Categories    []CategoryStat  `json:"categories"`
	Error         string          `json:"error,omitempty"`
}

// CategoryComparison breaks finished-order sales in the period down by
// category, highest revenue first. Percentages are against the returned
// categories and are 0 when the total is 0.
func (a *Aggregator) CategoryComparison(ctx context.Context, tenantID int64, period Period, date time.Time, staffID *int64) CategoryComparison {
	w, err := WindowFor(date, period, a.loc)
	if err != nil {
		return CategoryComparison{Window: Window{Period: period}, Categories: []CategoryStat{}, Error: a.degrade(ctx, tenantID, "category_comparison", err)}
	}
	lines, err := a.reader.SoldLines(ctx, tenantID, store.SalesFilter{Range: w.Range(), StaffID: staffID})
	if err != nil {
		return CategoryComparison{Window: w, Categories: []CategoryStat{}, Error: a.degrade(ctx, tenantID, "category_comparison", err)}
	}
	cc := compareCategories(lines)
	cc.Window = w
	return cc
}

func compareCategories(lines []models.SoldLine) CategoryComparison {
	type acc struct {
		stat      CategoryStat
		items     map[int64]struct{}
		orders    map[int64]struct{}
		priceSum  decimal.Decimal
		lineCount int64
	}
	byCategory := map[string]*acc{}
	var seen []string
	cc := CategoryComparison{}

	for _, l := range lines {
		a, ok := byCategory[l.Category]
		if !ok {
			a = &acc{
				stat:   CategoryStat{Category: l.Category},
				items:  map[int64]struct{}{},
				orders: map[int64]struct{}{},
			}
			byCategory[l.Category] = a
			seen = append(seen, l.Category)
		}
		a.stat.Quantity += l.Qty
		a.stat.Revenue = a.stat.Revenue.Add(l.Total())
		a.items[l.MenuItemID] = struct{}{}
		a.orders[l.OrderID] = struct{}{}
		a.priceSum = a.priceSum.Add(l.UnitPrice)
		a.lineCount++

		cc.TotalQuantity += l.Qty
		cc.TotalRevenue = cc.TotalRevenue.Add(l.Total())
	}

	cc.Categories = make([]CategoryStat, 0, len(seen))
	for _, name := range seen {
		a := byCategory[name]
		s := a.stat
		s.UniqueItems = len(a.items)
		s.OrdersCount = len(a.orders)
		s.AvgItemPrice = a.priceSum.Div(decimal.NewFromInt(a.lineCount)).Round(2)
		s.AvgRevenuePerOrder = s.Revenue.Div(decimal.NewFromInt(int64(max(s.OrdersCount, 1)))).Round(2)
		s.RevenuePct = percent(s.Revenue, cc.TotalRevenue)
		s.QtyPct = percent(decimal.NewFromInt(int64(s.Quantity)), decimal.NewFromInt(int64(cc.TotalQuantity)))
		cc.Categories = append(cc.Categories, s)
	}
	slices.SortStableFunc(cc.Categories, func(x, y CategoryStat) int {
		return y.Revenue.Cmp(x.Revenue)
	})
	return cc
}

func percent(part, total decimal.Decimal) float64 {
	if !total.IsPositive() {
		return 0
	}
	return part.Mul(decimal.NewFromInt(100)).Div(total).Round(2).InexactFloat64()
}

// TrendPoint is one day of an item trend.
type TrendPoint struct {
	Date     string          `json:"date"`
	Quantity int             `json:"quantity"`
	Revenue  decimal.Decimal `json:"revenue"`
	Orders   int             `json:"orders"`
}

// ItemTrend is a gap-free daily series for one menu item.
type ItemTrend struct {
	ItemName      string          `json:"item_name"`
	Days          int             `json:"period_days"`
	TotalQuantity int             `json:"total_quantity"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	ActiveDays    int             `json:"active_days"`
	Points        []TrendPoint    `json:"daily_trends"`
	Error         string          `json:"error,omitempty"`
}

// ItemTrend returns exactly days consecutive daily points ending today for
// the menu item named itemName. Days without sales are zero.
func (a *Aggregator) ItemTrend(ctx context.Context, tenantID int64, itemName string, days int) ItemTrend {
	trend := ItemTrend{ItemName: itemName, Days: days, Points: []TrendPoint{}}
	if days <= 0 {
		return trend
	}

	today := dayStart(a.now(), a.loc)
	w := Window{Start: today.AddDate(0, 0, -(days - 1)), End: today}
	trend.Points = zeroPoints(w.Days())

	lines, err := a.reader.SoldLines(ctx, tenantID, store.SalesFilter{Range: w.Range(), ItemName: itemName})
	if err != nil {
		trend.Error = a.degrade(ctx, tenantID, "item_trend", err)
		return trend
	}

	index := make(map[string]int, len(trend.Points))
	for i, p := range trend.Points {
		index[p.Date] = i
	}
	orders := make([]map[int64]struct{}, len(trend.Points))

	for _, l := range lines {
		i, ok := index[l.FinishedAt.In(a.loc).Format(dateLayout)]
		if !ok {
			continue
		}
		p := &trend.Points[i]
		p.Quantity += l.Qty
		p.Revenue = p.Revenue.Add(l.Total())
		if orders[i] == nil {
			orders[i] = map[int64]struct{}{}
		}
		orders[i][l.OrderID] = struct{}{}
	}

	for i := range trend.Points {
		p := &trend.Points[i]
		p.Orders = len(orders[i])
		trend.TotalQuantity += p.Quantity
		trend.TotalRevenue = trend.TotalRevenue.Add(p.Revenue)
		if p.Quantity > 0 {
			trend.ActiveDays++
		}
	}
	return trend
}

func zeroPoints(days []time.Time) []TrendPoint {
	points := make([]TrendPoint, len(days))
	for i, d := range days {
		points[i] = TrendPoint{Date: d.Format(dateLayout), Revenue: decimal.Zero}
	}
	return points
}
