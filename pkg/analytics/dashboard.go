package analytics

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/store"
)

const (
	dashboardTopItems   = 10
	dashboardCategories = 5
	dashboardWaiters    = 10
	dashboardTrendDays  = 7
)

// CategoryShare is one category of the settled-records panel.
type CategoryShare struct {
	Category string          `json:"category"`
	Quantity int             `json:"quantity"`
	Revenue  decimal.Decimal `json:"revenue"`
	Tips     decimal.Decimal `json:"tips"`
}

// DayPoint is one day of the dashboard trend.
type DayPoint struct {
	Date    string          `json:"date"`
	Orders  int             `json:"orders"`
	Revenue decimal.Decimal `json:"revenue"`
}

// Dashboard is everything the back office overview renders.
type Dashboard struct {
	Summary    Summary         `json:"summary"`
	TopItems   []TopItem       `json:"top_items"`
	Categories []CategoryShare `json:"categories"`
	Trend      []DayPoint      `json:"daily_trend"`
	Waiters    []WaiterStats   `json:"waiters"`
	Error      string          `json:"error,omitempty"`
}

// Dashboard assembles the overview for the period containing date. The
// trend always covers the seven days ending at date.
func (a *Aggregator) Dashboard(ctx context.Context, tenantID int64, date time.Time, period Period, staffID *int64) Dashboard {
	d := Dashboard{
		TopItems:   []TopItem{},
		Categories: []CategoryShare{},
		Trend:      []DayPoint{},
		Waiters:    []WaiterStats{},
	}

	w, err := WindowFor(date, period, a.loc)
	if err != nil {
		d.Summary.Window.Period = period
		d.Error = a.degrade(ctx, tenantID, "dashboard", err)
		d.Summary.Error = d.Error
		return d
	}
	d.Summary = Summary{Window: w}

	end := dayStart(date, a.loc)
	trendWindow := Window{Start: end.AddDate(0, 0, -(dashboardTrendDays - 1)), End: end}
	d.Trend = zeroDays(trendWindow.Days())

	records, err := a.reader.AnalyticsRecords(ctx, tenantID, store.SalesFilter{Range: w.Range(), StaffID: staffID})
	if err != nil {
		return a.degradeDashboard(ctx, tenantID, d, err)
	}
	roster, err := a.reader.ListStaff(ctx, tenantID)
	if err != nil {
		return a.degradeDashboard(ctx, tenantID, d, err)
	}
	lines, err := a.reader.SoldLines(ctx, tenantID, store.SalesFilter{Range: w.Range(), StaffID: staffID})
	if err != nil {
		return a.degradeDashboard(ctx, tenantID, d, err)
	}
	trendRecords, err := a.reader.AnalyticsRecords(ctx, tenantID, store.SalesFilter{Range: trendWindow.Range(), StaffID: staffID})
	if err != nil {
		return a.degradeDashboard(ctx, tenantID, d, err)
	}

	waiters := rollupWaiters(records, roster)
	d.Summary = summarize(w, waiters)
	d.Waiters = head(waiters, dashboardWaiters)
	d.TopItems = head(rankItems(lines), dashboardTopItems)
	d.Categories = head(shareCategories(records), dashboardCategories)
	a.fillDays(d.Trend, trendRecords)
	return d
}

func (a *Aggregator) degradeDashboard(ctx context.Context, tenantID int64, d Dashboard, err error) Dashboard {
	d.Error = a.degrade(ctx, tenantID, "dashboard", err)
	d.Summary.Error = d.Error
	return d
}

func shareCategories(records []models.AnalyticsRecord) []CategoryShare {
	byCategory := map[string]int{}
	var out []CategoryShare
	for _, r := range records {
		i, ok := byCategory[r.ItemCategory]
		if !ok {
			i = len(out)
			byCategory[r.ItemCategory] = i
			out = append(out, CategoryShare{Category: r.ItemCategory})
		}
		out[i].Quantity += r.Quantity
		out[i].Revenue = out[i].Revenue.Add(r.TotalPrice)
		out[i].Tips = out[i].Tips.Add(r.TipAmount)
	}
	slices.SortStableFunc(out, func(x, y CategoryShare) int {
		return y.Revenue.Cmp(x.Revenue)
	})
	if out == nil {
		return []CategoryShare{}
	}
	return out
}

func (a *Aggregator) fillDays(points []DayPoint, records []models.AnalyticsRecord) {
	index := make(map[string]int, len(points))
	for i, p := range points {
		index[p.Date] = i
	}
	orders := make([]map[int64]struct{}, len(points))
	for _, r := range records {
		i, ok := index[r.CheckoutDate.In(a.loc).Format(dateLayout)]
		if !ok {
			continue
		}
		if orders[i] == nil {
			orders[i] = map[int64]struct{}{}
		}
		orders[i][r.OrderID] = struct{}{}
		points[i].Revenue = points[i].Revenue.Add(r.TotalPrice)
	}
	for i := range points {
		points[i].Orders = len(orders[i])
	}
}

func zeroDays(days []time.Time) []DayPoint {
	points := make([]DayPoint, len(days))
	for i, d := range days {
		points[i] = DayPoint{Date: d.Format(dateLayout), Revenue: decimal.Zero}
	}
	return points
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
