// Package models defines the entities shared by the ledger, the analytics
// aggregator and the persistence layer.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Plan is a tenant's subscription tier.
type Plan string

const (
	PlanTrial        Plan = "trial"
	PlanBasic        Plan = "basic"
	PlanProfessional Plan = "professional"
)

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	switch p {
	case PlanTrial, PlanBasic, PlanProfessional:
		return true
	}
	return false
}

// SubscriptionStatus tracks billing state separately from the plan tier.
type SubscriptionStatus string

const (
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// TableStatus is the occupancy state of a table or room.
type TableStatus string

const (
	TableFree     TableStatus = "free"
	TableOccupied TableStatus = "occupied"
	TableBooked   TableStatus = "booked"
)

// OrderStatus is the two-state order machine.
type OrderStatus string

const (
	OrderActive   OrderStatus = "active"
	OrderFinished OrderStatus = "finished"
)

// CheckoutMethod is how the guest intends to pay.
type CheckoutMethod string

const (
	CheckoutNone CheckoutMethod = ""
	CheckoutCash CheckoutMethod = "cash"
	CheckoutCard CheckoutMethod = "card"
)

// Role of an authenticated staff account.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleWaiter Role = "waiter"
)

// Tenant is the root aggregate: a restaurant or hotel account.
type Tenant struct {
	ID                 int64              `db:"id" json:"id"`
	Name               string             `db:"name" json:"name"`
	Subdomain          string             `db:"subdomain" json:"subdomain"`
	Plan               Plan               `db:"plan" json:"plan"`
	Active             bool               `db:"active" json:"active"`
	TrialEndsAt        *time.Time         `db:"trial_ends_at" json:"trial_ends_at,omitempty"`
	SubscriptionStatus SubscriptionStatus `db:"subscription_status" json:"subscription_status"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
}

// Table is a serviceable unit (table or room) owned by a tenant.
type Table struct {
	ID                int64           `db:"id" json:"id"`
	TenantID          int64           `db:"tenant_id" json:"tenant_id"`
	Number            int             `db:"number" json:"number"`
	Code              string          `db:"code" json:"-"`
	Status            TableStatus     `db:"status" json:"status"`
	HasExtraOrder     bool            `db:"has_extra_order" json:"has_extra_order"`
	CheckoutRequested bool            `db:"checkout_requested" json:"checkout_requested"`
	CheckoutMethod    CheckoutMethod  `db:"checkout_method" json:"checkout_method,omitempty"`
	TipAmount         decimal.Decimal `db:"tip_amount" json:"tip_amount"`
}

// Order groups the items a table ordered during one visit.
type Order struct {
	ID         int64           `db:"id" json:"id"`
	TenantID   int64           `db:"tenant_id" json:"tenant_id"`
	TableID    int64           `db:"table_id" json:"table_id"`
	StaffID    *int64          `db:"staff_id" json:"staff_id,omitempty"`
	Status     OrderStatus     `db:"status" json:"status"`
	TipAmount  decimal.Decimal `db:"tip_amount" json:"tip_amount"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	FinishedAt *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}

// OrderItem is one line of an order. UnitPrice is the menu price at the
// moment the line was added.
type OrderItem struct {
	ID             int64           `db:"id" json:"id"`
	OrderID        int64           `db:"order_id" json:"order_id"`
	TenantID       int64           `db:"tenant_id" json:"tenant_id"`
	MenuItemID     int64           `db:"menu_item_id" json:"menu_item_id"`
	Qty            int             `db:"qty" json:"qty"`
	UnitPrice      decimal.Decimal `db:"unit_price" json:"unit_price"`
	Customizations string          `db:"customizations" json:"customizations,omitempty"`
	IsExtraItem    bool            `db:"is_extra_item" json:"is_extra_item"`
	IsNewExtra     bool            `db:"is_new_extra" json:"is_new_extra"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// OrderLine is an order item joined with its menu item.
type OrderLine struct {
	OrderItem
	Name     string `db:"name" json:"name"`
	Category string `db:"category" json:"category"`
}

// Total is qty times the snapshotted unit price.
func (l OrderLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Qty)))
}

// SoldLine is an order line of a finished order, used for raw-order reports.
type SoldLine struct {
	OrderLine
	TableID    int64     `db:"table_id" json:"table_id"`
	StaffID    *int64    `db:"staff_id" json:"staff_id,omitempty"`
	FinishedAt time.Time `db:"finished_at" json:"finished_at"`
}

// MenuItem belongs to a tenant's catalog. Items are deactivated, never
// deleted while orders reference them.
type MenuItem struct {
	ID          int64           `db:"id" json:"id"`
	TenantID    int64           `db:"tenant_id" json:"tenant_id"`
	Name        string          `db:"name" json:"name"`
	Ingredients string          `db:"ingredients" json:"ingredients"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Category    string          `db:"category" json:"category"`
	Active      bool            `db:"active" json:"active"`
}

// Staff is a waiter on the tenant's roster.
type Staff struct {
	ID       int64  `db:"id" json:"id"`
	TenantID int64  `db:"tenant_id" json:"tenant_id"`
	Name     string `db:"name" json:"name"`
	Active   bool   `db:"active" json:"active"`
}

// User is a login account for the tenant's back office.
type User struct {
	ID           int64  `db:"id" json:"id"`
	TenantID     int64  `db:"tenant_id" json:"tenant_id"`
	Username     string `db:"username" json:"username"`
	PasswordHash string `db:"password_hash" json:"-"`
	Role         Role   `db:"role" json:"role"`
	Active       bool   `db:"active" json:"active"`
}

// AnalyticsRecord is the immutable per-category fact written when an order
// is settled.
type AnalyticsRecord struct {
	ID           int64           `db:"id" json:"id"`
	TenantID     int64           `db:"tenant_id" json:"tenant_id"`
	OrderID      int64           `db:"order_id" json:"order_id"`
	CheckoutDate time.Time       `db:"checkout_date" json:"checkout_date"`
	TableNumber  int             `db:"table_number" json:"table_number"`
	StaffID      *int64          `db:"staff_id" json:"staff_id,omitempty"`
	ItemName     string          `db:"item_name" json:"item_name"`
	ItemCategory string          `db:"item_category" json:"item_category"`
	Quantity     int             `db:"quantity" json:"quantity"`
	UnitPrice    decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalPrice   decimal.Decimal `db:"total_price" json:"total_price"`
	TipAmount    decimal.Decimal `db:"tip_amount" json:"tip_amount"`
}

// StaffRef returns a pointer for a non-zero staff id, nil for unassigned.
func StaffRef(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

// SameStaff compares two optional staff ids.
func SameStaff(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
