// Package onboarding creates tenants and administers their lifecycle:
// plan changes, activation, trial expiry and removal.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/marshallshelly/tablelink/pkg/logger"
	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/runtime"
	"github.com/marshallshelly/tablelink/pkg/store"
)

const maxSubdomainLen = 20

// tableCodes are handed out to the first tables; later tables get T%03d.
var tableCodes = []string{"123", "456", "789", "321", "654", "987", "147", "258", "369", "741"}

type defaultItem struct {
	name, ingredients, price, category string
}

var defaultMenu = []defaultItem{
	{"Margherita Pizza", "Tomato, Mozzarella, Basil", "12.50", "Pizza"},
	{"Caesar Salad", "Lettuce, Parmesan, Croutons, Caesar Dressing", "8.90", "Salad"},
	{"Pasta Carbonara", "Pasta, Eggs, Bacon, Parmesan", "14.00", "Pasta"},
	{"Tiramisu", "Mascarpone, Coffee, Ladyfingers", "6.50", "Dessert"},
}

// PasswordHasher hashes admin passwords.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
}

// Service administers tenants.
type Service struct {
	store         store.Store
	hasher        PasswordHasher
	trialDays     int
	demoSubdomain string
	now           func() time.Time
	log           *logrus.Entry
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTrialDays sets the trial length for new and downgraded tenants.
func WithTrialDays(days int) Option {
	return func(s *Service) { s.trialDays = days }
}

// WithDemoSubdomain names the tenant that cannot be deleted.
func WithDemoSubdomain(sub string) Option {
	return func(s *Service) { s.demoSubdomain = sub }
}

// New creates a Service.
func New(s store.Store, hasher PasswordHasher, opts ...Option) *Service {
	svc := &Service{
		store:         s,
		hasher:        hasher,
		trialDays:     5,
		demoSubdomain: "demo",
		now:           time.Now,
		log:           logger.Component("onboarding"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// CreateRequest describes a new tenant.
type CreateRequest struct {
	Name          string      `json:"name" validate:"required,max=100"`
	Subdomain     string      `json:"subdomain" validate:"omitempty,max=20,subdomain"`
	Plan          models.Plan `json:"plan" validate:"omitempty,oneof=trial basic professional"`
	Tables        int         `json:"tables" validate:"min=1,max=500"`
	AdminUsername string      `json:"admin_username" validate:"required,max=50"`
	AdminPassword string      `json:"admin_password" validate:"required,min=6"`
}

// Created is the result of CreateTenant.
type Created struct {
	Tenant        models.Tenant  `json:"tenant"`
	Tables        []models.Table `json:"-"`
	AdminUsername string         `json:"admin_username"`
	LoginPath     string         `json:"login_path"`
}

// CreateTenant creates a tenant with its tables, a default waiter, a
// starter menu and an admin account in one transaction. Without an
// explicit subdomain one is derived from the name.
func (s *Service) CreateTenant(ctx context.Context, req CreateRequest) (Created, error) {
	if req.Plan == "" {
		req.Plan = models.PlanTrial
	}
	if req.Tables == 0 {
		req.Tables = len(tableCodes)
	}
	if err := runtime.Validate(req); err != nil {
		return Created{}, err
	}
	hash, err := s.hasher.HashPassword(req.AdminPassword)
	if err != nil {
		return Created{}, err
	}

	var out Created
	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		sub := req.Subdomain
		if sub == "" {
			if sub, err = uniqueSubdomain(ctx, tx, req.Name); err != nil {
				return err
			}
		}

		t := models.Tenant{Name: req.Name, Subdomain: sub, Active: true}
		s.applyPlan(&t, req.Plan)
		if t, err = tx.CreateTenant(ctx, t); err != nil {
			return err
		}

		tables := make([]models.Table, req.Tables)
		for i := range tables {
			tables[i] = models.Table{
				TenantID:  t.ID,
				Number:    i + 1,
				Code:      TableCode(i + 1),
				Status:    models.TableFree,
				TipAmount: decimal.Zero,
			}
		}
		if err := tx.CreateTables(ctx, tables); err != nil {
			return err
		}
		if _, err := tx.CreateStaff(ctx, models.Staff{TenantID: t.ID, Name: "Default Waiter", Active: true}); err != nil {
			return err
		}

		menu := make([]models.MenuItem, len(defaultMenu))
		for i, d := range defaultMenu {
			menu[i] = models.MenuItem{
				TenantID:    t.ID,
				Name:        d.name,
				Ingredients: d.ingredients,
				Price:       decimal.RequireFromString(d.price),
				Category:    d.category,
				Active:      true,
			}
		}
		if err := tx.CreateMenuItems(ctx, menu); err != nil {
			return err
		}

		if _, err := tx.CreateUser(ctx, models.User{
			TenantID:     t.ID,
			Username:     req.AdminUsername,
			PasswordHash: hash,
			Role:         models.RoleAdmin,
			Active:       true,
		}); err != nil {
			return err
		}

		out = Created{
			Tenant:        t,
			Tables:        tables,
			AdminUsername: req.AdminUsername,
			LoginPath:     "/r/" + t.Subdomain + "/business/login",
		}
		return nil
	})
	if err != nil {
		return Created{}, runtime.Classify(err)
	}

	logger.WithContext(ctx, s.log).WithFields(logrus.Fields{
		"tenant_id": out.Tenant.ID, "subdomain": out.Tenant.Subdomain, "plan": out.Tenant.Plan, "tables": len(out.Tables),
	}).Info("tenant created")
	return out, nil
}

// TableCode returns the guest code of table number n.
func TableCode(n int) string {
	if n >= 1 && n <= len(tableCodes) {
		return tableCodes[n-1]
	}
	return fmt.Sprintf("T%03d", n)
}

// Slugify lowercases name, drops everything but letters, digits and
// whitespace, and joins the words with hyphens.
func Slugify(name string) string {
	var b strings.Builder
	for _, word := range strings.Fields(strings.ToLower(name)) {
		var clean strings.Builder
		for _, r := range word {
			if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
				clean.WriteRune(r)
			}
		}
		if clean.Len() == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('-')
		}
		b.WriteString(clean.String())
	}
	slug := b.String()
	if len(slug) > maxSubdomainLen {
		slug = strings.TrimRight(slug[:maxSubdomainLen], "-")
	}
	if slug == "" {
		return "restaurant"
	}
	return slug
}

func uniqueSubdomain(ctx context.Context, tx store.Tx, name string) (string, error) {
	base := Slugify(name)
	candidate := base
	for n := 1; ; n++ {
		_, err := tx.FindBySubdomain(ctx, candidate)
		if errors.Is(err, runtime.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		suffix := fmt.Sprintf("-%d", n)
		trimmed := base
		if len(trimmed)+len(suffix) > maxSubdomainLen {
			trimmed = strings.TrimRight(trimmed[:maxSubdomainLen-len(suffix)], "-")
		}
		candidate = trimmed + suffix
	}
}

func (s *Service) applyPlan(t *models.Tenant, plan models.Plan) {
	t.Plan = plan
	if plan == models.PlanTrial {
		end := s.now().AddDate(0, 0, s.trialDays)
		t.TrialEndsAt = &end
		t.SubscriptionStatus = models.SubscriptionTrial
		return
	}
	t.TrialEndsAt = nil
	t.SubscriptionStatus = models.SubscriptionActive
}

// List returns every tenant, active or not.
func (s *Service) List(ctx context.Context) ([]models.Tenant, error) {
	ts, err := s.store.ListTenants(ctx)
	return ts, runtime.Classify(err)
}

// UpdatePlan moves a tenant to plan and reactivates it. Moving to trial
// starts a fresh trial.
func (s *Service) UpdatePlan(ctx context.Context, tenantID int64, plan models.Plan) (models.Tenant, error) {
	if !plan.Valid() {
		return models.Tenant{}, &runtime.ValidationError{Field: "plan", Message: "must be one of trial basic professional"}
	}
	t, err := s.modify(ctx, tenantID, func(t *models.Tenant) {
		s.applyPlan(t, plan)
		t.Active = true
	})
	if err == nil {
		s.log.WithFields(logrus.Fields{"tenant_id": tenantID, "plan": plan}).Info("plan updated")
	}
	return t, err
}

// SetActive activates or deactivates a tenant. Inactive tenants stop
// resolving.
func (s *Service) SetActive(ctx context.Context, tenantID int64, active bool) (models.Tenant, error) {
	t, err := s.modify(ctx, tenantID, func(t *models.Tenant) { t.Active = active })
	if err == nil {
		s.log.WithFields(logrus.Fields{"tenant_id": tenantID, "active": active}).Info("tenant activation changed")
	}
	return t, err
}

func (s *Service) modify(ctx context.Context, tenantID int64, change func(*models.Tenant)) (models.Tenant, error) {
	var t models.Tenant
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if t, err = tx.GetTenant(ctx, tenantID); err != nil {
			return err
		}
		change(&t)
		return tx.UpdateTenant(ctx, t)
	})
	if err != nil {
		return models.Tenant{}, runtime.Classify(err)
	}
	return t, nil
}

// ExpireTrials deactivates active trial tenants whose trial has ended and
// returns them.
func (s *Service) ExpireTrials(ctx context.Context) ([]models.Tenant, error) {
	now := s.now()
	var expired []models.Tenant
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		expired = nil
		tenants, err := tx.ListTenants(ctx)
		if err != nil {
			return err
		}
		for _, t := range tenants {
			if !t.Active || t.Plan != models.PlanTrial || t.TrialEndsAt == nil || now.Before(*t.TrialEndsAt) {
				continue
			}
			t.Active = false
			t.SubscriptionStatus = models.SubscriptionCancelled
			if err := tx.UpdateTenant(ctx, t); err != nil {
				return err
			}
			expired = append(expired, t)
		}
		return nil
	})
	if err != nil {
		return nil, runtime.Classify(err)
	}

	for _, t := range expired {
		s.log.WithFields(logrus.Fields{"tenant_id": t.ID, "subdomain": t.Subdomain}).Info("trial expired, tenant deactivated")
	}
	return expired, nil
}

// DeleteTenant removes a tenant and all its data. The demo tenant is
// protected.
func (s *Service) DeleteTenant(ctx context.Context, tenantID int64) error {
	var sub string
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, err := tx.GetTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		if t.Subdomain == s.demoSubdomain {
			return runtime.ErrDemoTenantProtected
		}
		sub = t.Subdomain
		return tx.DeleteTenant(ctx, tenantID)
	})
	if err != nil {
		return runtime.Classify(err)
	}

	s.log.WithFields(logrus.Fields{"tenant_id": tenantID, "subdomain": sub}).Warn("tenant deleted")
	return nil
}
