package analytics

import (
	"context"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/marshallshelly/tablelink/pkg/logger"
	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/store"
)

// SettlementPrefix is the item_name prefix shared by an order's records.
// The trailing separator keeps order 1 from matching order 12.
func SettlementPrefix(orderID int64) string {
	return fmt.Sprintf("Order #%d - ", orderID)
}

// SettlementName is the synthetic item_name of one category record.
func SettlementName(orderID int64, category string) string {
	return SettlementPrefix(orderID) + category
}

// BuildSettlement groups an order's lines by category, in order of first
// appearance, and splits the order tip across categories by revenue share.
// Shares are whole cents allocated by largest remainder, so none is
// negative and they always add up to the tip. A zero order total gives
// every category a zero tip.
func BuildSettlement(order models.Order, tableNumber int, lines []models.OrderLine) []models.AnalyticsRecord {
	type bucket struct {
		category string
		qty      int
		total    decimal.Decimal
	}

	var buckets []*bucket
	byCategory := map[string]*bucket{}
	orderTotal := decimal.Zero
	for _, l := range lines {
		b, ok := byCategory[l.Category]
		if !ok {
			b = &bucket{category: l.Category}
			byCategory[l.Category] = b
			buckets = append(buckets, b)
		}
		b.qty += l.Qty
		b.total = b.total.Add(l.Total())
		orderTotal = orderTotal.Add(l.Total())
	}

	checkout := order.CreatedAt
	if order.FinishedAt != nil {
		checkout = *order.FinishedAt
	}

	totals := make([]decimal.Decimal, len(buckets))
	for i, b := range buckets {
		totals[i] = b.total
	}
	tips := splitTip(order.TipAmount, totals, orderTotal)

	records := make([]models.AnalyticsRecord, 0, len(buckets))
	for i, b := range buckets {
		unit := decimal.Zero
		if b.qty > 0 {
			unit = b.total.Div(decimal.NewFromInt(int64(b.qty))).Round(2)
		}

		records = append(records, models.AnalyticsRecord{
			TenantID:     order.TenantID,
			OrderID:      order.ID,
			CheckoutDate: checkout,
			TableNumber:  tableNumber,
			StaffID:      order.StaffID,
			ItemName:     SettlementName(order.ID, b.category),
			ItemCategory: b.category,
			Quantity:     b.qty,
			UnitPrice:    unit,
			TotalPrice:   b.total,
			TipAmount:    tips[i],
		})
	}
	return records
}

var cent = decimal.New(1, -2)

// splitTip divides tip across totals in proportion to each total's share
// of sum. Every share is first truncated to cents; the cents left over go
// one at a time to the shares with the largest truncated remainder, earlier
// shares winning ties.
func splitTip(tip decimal.Decimal, totals []decimal.Decimal, sum decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(totals))
	for i := range shares {
		shares[i] = decimal.Zero
	}
	if len(totals) == 0 || !sum.IsPositive() || !tip.IsPositive() {
		return shares
	}

	type remainder struct {
		index int
		value decimal.Decimal
	}
	remainders := make([]remainder, len(totals))
	allocated := decimal.Zero
	for i, total := range totals {
		exact := tip.Mul(total).Div(sum)
		shares[i] = exact.Truncate(2)
		allocated = allocated.Add(shares[i])
		remainders[i] = remainder{index: i, value: exact.Sub(shares[i])}
	}
	slices.SortStableFunc(remainders, func(a, b remainder) int {
		return b.value.Cmp(a.value)
	})

	left := tip.Sub(allocated)
	for k := 0; left.GreaterThanOrEqual(cent); k++ {
		i := remainders[k%len(remainders)].index
		shares[i] = shares[i].Add(cent)
		left = left.Sub(cent)
	}
	// sub-cent tips only reach here when callers skip rounding
	if left.IsPositive() {
		i := remainders[0].index
		shares[i] = shares[i].Add(left)
	}
	return shares
}

// RecordSettlement materializes the analytics records of a finished order
// inside tx. If records for the order already exist it does nothing and
// returns 0.
func (a *Aggregator) RecordSettlement(ctx context.Context, tx store.Tx, tenantID int64, order models.Order, tableNumber int) (int, error) {
	if order.TenantID != tenantID {
		return 0, fmt.Errorf("order %d does not belong to tenant %d", order.ID, tenantID)
	}
	log := logger.WithContext(ctx, a.log).WithFields(logrus.Fields{"tenant_id": tenantID, "order_id": order.ID})

	exists, err := tx.HasSettlement(ctx, tenantID, tableNumber, order.StaffID, SettlementPrefix(order.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to check settlement: %w", err)
	}
	if exists {
		log.Info("order already settled, skipping analytics")
		return 0, nil
	}

	lines, err := tx.OrderLines(ctx, tenantID, order.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to load order lines: %w", err)
	}

	records := BuildSettlement(order, tableNumber, lines)
	if err := tx.InsertAnalytics(ctx, records); err != nil {
		return 0, err
	}
	log.WithField("records", len(records)).Debug("settlement recorded")
	return len(records), nil
}
