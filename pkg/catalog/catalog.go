// Package catalog is the back office for a tenant's menu and waiter roster.
// Nothing here deletes rows: items and waiters are switched off, which hides
// them from guests and from checkout while history keeps resolving.
package catalog

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/marshallshelly/tablelink/pkg/logger"
	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/runtime"
	"github.com/marshallshelly/tablelink/pkg/store"
)

// DefaultCategory is used when a new item names none.
const DefaultCategory = "Food"

// Service administers menus and rosters.
type Service struct {
	store store.Store
	log   *logrus.Entry
}

// New creates a Service.
func New(s store.Store) *Service {
	return &Service{store: s, log: logger.Component("catalog")}
}

// NewItem describes a menu item to add.
type NewItem struct {
	Name        string          `json:"name" validate:"required,max=100,no_markup"`
	Ingredients string          `json:"ingredients" validate:"max=500,no_markup"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category" validate:"max=50,no_markup"`
}

// NewStaff describes a waiter to add.
type NewStaff struct {
	Name string `json:"name" validate:"required,max=100,no_markup"`
}

// Items returns the full menu, switched-off items included.
func (s *Service) Items(ctx context.Context, tenantID int64) ([]models.MenuItem, error) {
	items, err := s.store.ListItems(ctx, tenantID)
	return items, runtime.Classify(err)
}

// AddItem adds an active item. The price is kept to the cent and must stay
// positive after rounding.
func (s *Service) AddItem(ctx context.Context, tenantID int64, req NewItem) (models.MenuItem, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Category == "" {
		req.Category = DefaultCategory
	}
	if err := runtime.Validate(req); err != nil {
		return models.MenuItem{}, err
	}
	price := req.Price.Round(2)
	if !price.IsPositive() {
		return models.MenuItem{}, &runtime.ValidationError{Field: "price", Message: "must be greater than 0"}
	}

	var item models.MenuItem
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetTenant(ctx, tenantID); err != nil {
			return err
		}
		var err error
		item, err = tx.CreateMenuItem(ctx, models.MenuItem{
			TenantID:    tenantID,
			Name:        req.Name,
			Ingredients: strings.TrimSpace(req.Ingredients),
			Price:       price,
			Category:    req.Category,
			Active:      true,
		})
		return err
	})
	if err != nil {
		return models.MenuItem{}, runtime.Classify(err)
	}
	s.entry(ctx, tenantID).WithFields(logrus.Fields{"item_id": item.ID, "name": item.Name}).Info("menu item added")
	return item, nil
}

// SetItemActive switches an item on or off.
func (s *Service) SetItemActive(ctx context.Context, tenantID, itemID int64, active bool) (models.MenuItem, error) {
	return s.updateItem(ctx, tenantID, itemID, func(models.MenuItem) bool { return active })
}

// ToggleItem flips an item's availability.
func (s *Service) ToggleItem(ctx context.Context, tenantID, itemID int64) (models.MenuItem, error) {
	return s.updateItem(ctx, tenantID, itemID, func(m models.MenuItem) bool { return !m.Active })
}

func (s *Service) updateItem(ctx context.Context, tenantID, itemID int64, next func(models.MenuItem) bool) (models.MenuItem, error) {
	var item models.MenuItem
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if item, err = tx.GetItem(ctx, tenantID, itemID); err != nil {
			return err
		}
		item.Active = next(item)
		return tx.SetItemActive(ctx, tenantID, itemID, item.Active)
	})
	if err != nil {
		return models.MenuItem{}, runtime.Classify(err)
	}
	s.entry(ctx, tenantID).WithFields(logrus.Fields{"item_id": itemID, "active": item.Active}).Info("menu item updated")
	return item, nil
}

// Staff returns the waiters who can still be assigned orders.
func (s *Service) Staff(ctx context.Context, tenantID int64) ([]models.Staff, error) {
	all, err := s.store.ListStaff(ctx, tenantID)
	if err != nil {
		return nil, runtime.Classify(err)
	}
	active := make([]models.Staff, 0, len(all))
	for _, st := range all {
		if st.Active {
			active = append(active, st)
		}
	}
	return active, nil
}

// AddStaff adds an active waiter.
func (s *Service) AddStaff(ctx context.Context, tenantID int64, req NewStaff) (models.Staff, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := runtime.Validate(req); err != nil {
		return models.Staff{}, err
	}

	var st models.Staff
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetTenant(ctx, tenantID); err != nil {
			return err
		}
		var err error
		st, err = tx.CreateStaff(ctx, models.Staff{TenantID: tenantID, Name: req.Name, Active: true})
		return err
	})
	if err != nil {
		return models.Staff{}, runtime.Classify(err)
	}
	s.entry(ctx, tenantID).WithFields(logrus.Fields{"staff_id": st.ID, "name": st.Name}).Info("waiter added")
	return st, nil
}

// SetStaffActive switches a waiter on or off. A switched-off waiter keeps
// their past settlements but can no longer finish orders.
func (s *Service) SetStaffActive(ctx context.Context, tenantID, staffID int64, active bool) (models.Staff, error) {
	var st models.Staff
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if st, err = tx.GetStaff(ctx, tenantID, staffID); err != nil {
			return err
		}
		st.Active = active
		return tx.SetStaffActive(ctx, tenantID, staffID, active)
	})
	if err != nil {
		return models.Staff{}, runtime.Classify(err)
	}
	s.entry(ctx, tenantID).WithFields(logrus.Fields{"staff_id": staffID, "active": active}).Info("waiter updated")
	return st, nil
}

func (s *Service) entry(ctx context.Context, tenantID int64) *logrus.Entry {
	return logger.WithContext(ctx, s.log).WithField("tenant_id", tenantID)
}
