// Package memory is an in-process store.Store. Transactions are serialized
// and run against a copy of the state that replaces the original only when
// the callback succeeds.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/runtime"
	"github.com/marshallshelly/tablelink/pkg/store"
)

// Store keeps all tenants in memory.
type Store struct {
	mu  sync.RWMutex
	st  *state
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// WithClock overrides the clock used for created_at stamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// InTx implements store.Store.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return runtime.Classify(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &tx{st: work, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return runtime.Classify(fmt.Errorf("transaction aborted: %w", err))
	}
	s.st = work
	return nil
}

func (s *Store) read() (*state, func()) {
	s.mu.RLock()
	return s.st, s.mu.RUnlock
}

func (s *Store) FindBySubdomain(_ context.Context, subdomain string) (models.Tenant, error) {
	st, done := s.read()
	defer done()
	return st.findBySubdomain(subdomain)
}

func (s *Store) GetTenant(_ context.Context, id int64) (models.Tenant, error) {
	st, done := s.read()
	defer done()
	return st.getTenant(id)
}

func (s *Store) ListTenants(context.Context) ([]models.Tenant, error) {
	st, done := s.read()
	defer done()
	return sortedValues(st.tenants, byID[models.Tenant]), nil
}

func (s *Store) GetItem(_ context.Context, tenantID, itemID int64) (models.MenuItem, error) {
	st, done := s.read()
	defer done()
	return st.getItem(tenantID, itemID)
}

func (s *Store) GetActiveItems(_ context.Context, tenantID int64) ([]models.MenuItem, error) {
	st, done := s.read()
	defer done()
	return st.activeItems(tenantID), nil
}

func (s *Store) ListItems(_ context.Context, tenantID int64) ([]models.MenuItem, error) {
	st, done := s.read()
	defer done()
	return st.listItems(tenantID), nil
}

func (s *Store) GetStaff(_ context.Context, tenantID, staffID int64) (models.Staff, error) {
	st, done := s.read()
	defer done()
	return st.getStaff(tenantID, staffID)
}

func (s *Store) ListStaff(_ context.Context, tenantID int64) ([]models.Staff, error) {
	st, done := s.read()
	defer done()
	return st.listStaff(tenantID), nil
}

func (s *Store) GetTable(_ context.Context, tenantID int64, number int) (models.Table, error) {
	st, done := s.read()
	defer done()
	return st.getTable(tenantID, number)
}

func (s *Store) ListTables(_ context.Context, tenantID int64) ([]models.Table, error) {
	st, done := s.read()
	defer done()
	return st.listTables(tenantID), nil
}

func (s *Store) FindUser(_ context.Context, tenantID int64, username string) (models.User, error) {
	st, done := s.read()
	defer done()
	for _, u := range st.users {
		if u.TenantID == tenantID && u.Username == username {
			return u, nil
		}
	}
	return models.User{}, fmt.Errorf("user %q: %w", username, runtime.ErrNotFound)
}

func (s *Store) AnalyticsRecords(ctx context.Context, tenantID int64, f store.SalesFilter) ([]models.AnalyticsRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, runtime.Classify(err)
	}
	st, done := s.read()
	defer done()

	var out []models.AnalyticsRecord
	for _, r := range st.analytics {
		if r.TenantID != tenantID || !f.Range.Contains(r.CheckoutDate) {
			continue
		}
		if f.StaffID != nil && !models.SameStaff(r.StaffID, f.StaffID) {
			continue
		}
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b models.AnalyticsRecord) int {
		if c := a.CheckoutDate.Compare(b.CheckoutDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) SoldLines(ctx context.Context, tenantID int64, f store.SalesFilter) ([]models.SoldLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, runtime.Classify(err)
	}
	st, done := s.read()
	defer done()

	var out []models.SoldLine
	for _, o := range st.orders {
		if o.TenantID != tenantID || o.Status != models.OrderFinished || o.FinishedAt == nil {
			continue
		}
		if !f.Range.Contains(*o.FinishedAt) {
			continue
		}
		if f.StaffID != nil && !models.SameStaff(o.StaffID, f.StaffID) {
			continue
		}
		for _, line := range st.orderLines(tenantID, o.ID) {
			if f.ItemName != "" && line.Name != f.ItemName {
				continue
			}
			out = append(out, models.SoldLine{
				OrderLine:  line,
				TableID:    o.TableID,
				StaffID:    o.StaffID,
				FinishedAt: *o.FinishedAt,
			})
		}
	}
	slices.SortFunc(out, func(a, b models.SoldLine) int {
		if c := a.FinishedAt.Compare(b.FinishedAt); c != 0 {
			return c
		}
		if c := cmp.Compare(a.OrderID, b.OrderID); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// state is the full data set. Values are stored by value so a shallow map
// copy is an independent snapshot.
type state struct {
	seq       map[string]int64
	tenants   map[int64]models.Tenant
	tables    map[int64]models.Table
	orders    map[int64]models.Order
	items     map[int64]models.OrderItem
	menu      map[int64]models.MenuItem
	staff     map[int64]models.Staff
	users     map[int64]models.User
	analytics []models.AnalyticsRecord
}

func newState() *state {
	return &state{
		seq:     map[string]int64{},
		tenants: map[int64]models.Tenant{},
		tables:  map[int64]models.Table{},
		orders:  map[int64]models.Order{},
		items:   map[int64]models.OrderItem{},
		menu:    map[int64]models.MenuItem{},
		staff:   map[int64]models.Staff{},
		users:   map[int64]models.User{},
	}
}

func (st *state) clone() *state {
	return &state{
		seq:       maps.Clone(st.seq),
		tenants:   maps.Clone(st.tenants),
		tables:    maps.Clone(st.tables),
		orders:    maps.Clone(st.orders),
		items:     maps.Clone(st.items),
		menu:      maps.Clone(st.menu),
		staff:     maps.Clone(st.staff),
		users:     maps.Clone(st.users),
		analytics: slices.Clone(st.analytics),
	}
}

func (st *state) next(kind string) int64 {
	st.seq[kind]++
	return st.seq[kind]
}

func (st *state) findBySubdomain(subdomain string) (models.Tenant, error) {
	for _, t := range st.tenants {
		if t.Subdomain == subdomain {
			return t, nil
		}
	}
	return models.Tenant{}, fmt.Errorf("tenant %q: %w", subdomain, runtime.ErrNotFound)
}

func (st *state) getTenant(id int64) (models.Tenant, error) {
	t, ok := st.tenants[id]
	if !ok {
		return models.Tenant{}, fmt.Errorf("tenant %d: %w", id, runtime.ErrNotFound)
	}
	return t, nil
}

func (st *state) getItem(tenantID, itemID int64) (models.MenuItem, error) {
	m, ok := st.menu[itemID]
	if !ok || m.TenantID != tenantID {
		return models.MenuItem{}, fmt.Errorf("menu item %d: %w", itemID, runtime.ErrNotFound)
	}
	return m, nil
}

func (st *state) activeItems(tenantID int64) []models.MenuItem {
	return filterSorted(st.menu, func(m models.MenuItem) bool {
		return m.TenantID == tenantID && m.Active
	}, byID[models.MenuItem])
}

func (st *state) listItems(tenantID int64) []models.MenuItem {
	return filterSorted(st.menu, func(m models.MenuItem) bool { return m.TenantID == tenantID }, byID[models.MenuItem])
}

func (st *state) getStaff(tenantID, staffID int64) (models.Staff, error) {
	s, ok := st.staff[staffID]
	if !ok || s.TenantID != tenantID {
		return models.Staff{}, fmt.Errorf("staff %d: %w", staffID, runtime.ErrNotFound)
	}
	return s, nil
}

func (st *state) listStaff(tenantID int64) []models.Staff {
	return filterSorted(st.staff, func(s models.Staff) bool { return s.TenantID == tenantID }, byID[models.Staff])
}

func (st *state) getTable(tenantID int64, number int) (models.Table, error) {
	for _, t := range st.tables {
		if t.TenantID == tenantID && t.Number == number {
			return t, nil
		}
	}
	return models.Table{}, fmt.Errorf("table %d: %w", number, runtime.ErrNotFound)
}

func (st *state) listTables(tenantID int64) []models.Table {
	return filterSorted(st.tables, func(t models.Table) bool { return t.TenantID == tenantID },
		func(a, b models.Table) int { return cmp.Compare(a.Number, b.Number) })
}

func (st *state) orderLines(tenantID, orderID int64) []models.OrderLine {
	items := filterSorted(st.items, func(i models.OrderItem) bool {
		return i.TenantID == tenantID && i.OrderID == orderID
	}, byID[models.OrderItem])

	lines := make([]models.OrderLine, 0, len(items))
	for _, it := range items {
		m, err := st.getItem(tenantID, it.MenuItemID)
		if err != nil {
			continue
		}
		lines = append(lines, models.OrderLine{OrderItem: it, Name: m.Name, Category: m.Category})
	}
	return lines
}

type identified interface {
	models.Tenant | models.MenuItem | models.Staff | models.OrderItem
}

func byID[T identified](a, b T) int {
	return cmp.Compare(idOf(a), idOf(b))
}

func idOf[T identified](v T) int64 {
	switch x := any(v).(type) {
	case models.Tenant:
		return x.ID
	case models.MenuItem:
		return x.ID
	case models.Staff:
		return x.ID
	case models.OrderItem:
		return x.ID
	}
	return 0
}

func sortedValues[T any](m map[int64]T, less func(a, b T) int) []T {
	out := slices.Collect(maps.Values(m))
	slices.SortFunc(out, less)
	return out
}

func filterSorted[T any](m map[int64]T, keep func(T) bool, less func(a, b T) int) []T {
	var out []T
	for _, v := range m {
		if keep(v) {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, less)
	return out
}
