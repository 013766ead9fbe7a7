package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/marshallshelly/tablelink/pkg/analytics"
	"github.com/marshallshelly/tablelink/pkg/auth"
	"github.com/marshallshelly/tablelink/pkg/catalog"
	"github.com/marshallshelly/tablelink/pkg/ledger"
	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/onboarding"
	"github.com/marshallshelly/tablelink/pkg/store"
	"github.com/marshallshelly/tablelink/pkg/store/memory"
	"github.com/marshallshelly/tablelink/pkg/tenant"
)

var now = time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)

type fixture struct {
	srv    *Server
	store  *memory.Store
	demo   models.Tenant
	bistro models.Tenant
}

func setup(t *testing.T) fixture {
	t.Helper()
	clock := func() time.Time { return now }
	s := memory.New().WithClock(clock)
	authSvc := auth.NewService(s, "test-secret", time.Hour, auth.WithClock(clock), auth.WithCost(bcrypt.MinCost))
	agg := analytics.New(s, analytics.WithClock(clock))
	onboard := onboarding.New(s, authSvc, onboarding.WithClock(clock))

	ctx := context.Background()
	demo, err := onboard.CreateTenant(ctx, onboarding.CreateRequest{
		Name: "Demo", Subdomain: "demo", Tables: 3, AdminUsername: "admin", AdminPassword: "secret1",
	})
	require.NoError(t, err)
	bistro, err := onboard.CreateTenant(ctx, onboarding.CreateRequest{
		Name: "Bistro", Subdomain: "bistro", Plan: models.PlanBasic, Tables: 2, AdminUsername: "owner", AdminPassword: "secret2",
	})
	require.NoError(t, err)

	srv := New(Deps{
		Resolver:  tenant.NewResolver(s, "demo"),
		Ledger:    ledger.New(s, agg, ledger.WithClock(clock)),
		Analytics: agg,
		Auth:      authSvc,
		Catalog:   catalog.New(s),
		Now:       clock,
	})
	return fixture{srv: srv, store: s, demo: demo.Tenant, bistro: bistro.Tenant}
}

func (f fixture) do(t *testing.T, method, url string, body any, token string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, url, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (f fixture) login(t *testing.T, base, username, password string) string {
	t.Helper()
	status, body := f.do(t, http.MethodPost, base+"/auth/login", map[string]string{"username": username, "password": password}, "")
	require.Equal(t, http.StatusOK, status, body)
	token, ok := body["token"].(string)
	require.True(t, ok)
	return token
}

func (f fixture) menuItem(t *testing.T, tenantID int64, name string) models.MenuItem {
	t.Helper()
	items, err := f.store.GetActiveItems(context.Background(), tenantID)
	require.NoError(t, err)
	for _, it := range items {
		if it.Name == name {
			return it
		}
	}
	t.Fatalf("menu item %q not found", name)
	return models.MenuItem{}
}

func TestHealthNeedsNoTenant(t *testing.T) {
	f := setup(t)
	status, body := f.do(t, http.MethodGet, "http://nowhere.example.com/health", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}

func TestTenantResolution(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name   string
		url    string
		status int
	}{
		{"subdomain", "http://bistro.tablelink.app/client/menu", http.StatusOK},
		{"path prefix", "http://tablelink.app/r/bistro/client/menu", http.StatusOK},
		{"localhost default", "http://localhost/client/menu", http.StatusOK},
		{"unknown subdomain", "http://nowhere.tablelink.app/client/menu", http.StatusNotFound},
		{"unknown path prefix on localhost", "http://localhost/r/nowhere/client/menu", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := f.do(t, http.MethodGet, tt.url, nil, "")
			assert.Equal(t, tt.status, status, body)
			if tt.status == http.StatusOK {
				assert.Len(t, body["items"], 4)
			} else {
				assert.Contains(t, body["error"], "tenant not found")
			}
		})
	}
}

func TestClientMenuWithTable(t *testing.T) {
	f := setup(t)

	status, body := f.do(t, http.MethodGet, "http://localhost/client/menu?table=2", nil, "")
	require.Equal(t, http.StatusOK, status)
	table, ok := body["table"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, table["number"])
	assert.NotContains(t, table, "code")

	status, _ = f.do(t, http.MethodGet, "http://localhost/client/menu?table=99", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestGuestOrderFlow(t *testing.T) {
	f := setup(t)
	pizza := f.menuItem(t, f.demo.ID, "Margherita Pizza")

	order := map[string]any{
		"table": 1,
		"code":  "123",
		"items": []map[string]any{{"menu_item_id": pizza.ID, "qty": 2}},
	}
	status, body := f.do(t, http.MethodPost, "http://localhost/client/order", order, "")
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "active", body["status"])

	status, body = f.do(t, http.MethodGet, "http://localhost/client/order/1", nil, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "25", body["total"])
	assert.Len(t, body["items"], 1)

	status, body = f.do(t, http.MethodPost, "http://localhost/client/checkout",
		map[string]any{"table": 1, "method": "card", "tip": "2.50"}, "")
	require.Equal(t, http.StatusOK, status, body)

	status, body = f.do(t, http.MethodPost, "http://localhost/client/order", order, "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, body["error"], "checkout already requested")
}

func TestPlaceOrderErrors(t *testing.T) {
	f := setup(t)
	pizza := f.menuItem(t, f.demo.ID, "Margherita Pizza")

	status, body := f.do(t, http.MethodPost, "http://localhost/client/order", map[string]any{
		"table": 1, "code": "999",
		"items": []map[string]any{{"menu_item_id": pizza.ID, "qty": 1}},
	}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "invalid table code")

	status, body = f.do(t, http.MethodPost, "http://localhost/client/order", map[string]any{
		"table": 1, "code": "123",
		"items": []map[string]any{{"menu_item_id": pizza.ID, "qty": 0}},
	}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "items[0].qty", body["field"])

	status, body = f.do(t, http.MethodPost, "http://localhost/client/order", map[string]any{
		"table": 42, "code": "123",
		"items": []map[string]any{{"menu_item_id": pizza.ID, "qty": 1}},
	}, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "/client/order", body["path"])
	assert.Equal(t, "POST", body["method"])
}

func TestBusinessRequiresToken(t *testing.T) {
	f := setup(t)

	status, _ := f.do(t, http.MethodGet, "http://localhost/business/tables", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = f.do(t, http.MethodGet, "http://localhost/business/tables", nil, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = f.do(t, http.MethodPost, "http://localhost/auth/login", map[string]string{"username": "admin", "password": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	token := f.login(t, "http://localhost", "admin", "secret1")
	status, body := f.do(t, http.MethodGet, "http://localhost/business/tables", nil, token)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["tables"], 3)

	status, body = f.do(t, http.MethodGet, "http://localhost/business/me", nil, token)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "admin", body["username"])
	assert.Equal(t, "admin", body["role"])
}

func TestTokenIsBoundToTenant(t *testing.T) {
	f := setup(t)
	token := f.login(t, "http://localhost", "admin", "secret1")

	status, _ := f.do(t, http.MethodGet, "http://bistro.tablelink.app/business/tables", nil, token)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSettlementFlow(t *testing.T) {
	f := setup(t)
	pizza := f.menuItem(t, f.demo.ID, "Margherita Pizza")
	salad := f.menuItem(t, f.demo.ID, "Caesar Salad")
	roster, err := f.store.ListStaff(context.Background(), f.demo.ID)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	waiterID := roster[0].ID

	status, body := f.do(t, http.MethodPost, "http://localhost/client/order", map[string]any{
		"table": 2, "code": "456",
		"items": []map[string]any{{"menu_item_id": pizza.ID, "qty": 1}},
	}, "")
	require.Equal(t, http.StatusCreated, status, body)
	orderID := int64(body["id"].(float64))

	token := f.login(t, "http://localhost", "admin", "secret1")

	status, body = f.do(t, http.MethodPost, "http://localhost/business/order/"+strconv.FormatInt(orderID, 10)+"/items", map[string]any{
		"items": []map[string]any{{"menu_item_id": salad.ID, "qty": 1}},
	}, token)
	require.Equal(t, http.StatusCreated, status, body)

	status, body = f.do(t, http.MethodPost, "http://localhost/business/mark_viewed/2", nil, token)
	require.Equal(t, http.StatusNoContent, status, body)

	status, body = f.do(t, http.MethodPost, "http://localhost/business/checkout_table/2", nil, token)
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, body["error"], "order still active")

	status, body = f.do(t, http.MethodPost, "http://localhost/business/finish_order",
		map[string]any{"table": 2, "staff_id": waiterID}, token)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "finished", body["status"])

	status, _ = f.do(t, http.MethodPost, "http://localhost/business/finish_order",
		map[string]any{"table": 2, "staff_id": waiterID}, token)
	assert.Equal(t, http.StatusConflict, status)

	status, body = f.do(t, http.MethodPost, "http://localhost/business/checkout_table/2", nil, token)
	require.Equal(t, http.StatusOK, status, body)

	status, body = f.do(t, http.MethodGet, "http://localhost/business/analytics/summary?period=week", nil, token)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 1, body["total_orders"])
	assert.Equal(t, "21.4", body["total_sales"])
	window := body["window"].(map[string]any)
	assert.Equal(t, "2025-03-10", window["start_date"])
	assert.Equal(t, "2025-03-16", window["end_date"])

	status, body = f.do(t, http.MethodGet, "http://localhost/business/analytics/top-items", nil, token)
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, body["top_items"], 2)

	status, body = f.do(t, http.MethodGet, "http://localhost/business/analytics/item-trends/Caesar%20Salad?days=7", nil, token)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "Caesar Salad", body["item_name"])
	assert.Len(t, body["daily_trends"], 7)
}

func TestSettleTableInOneCall(t *testing.T) {
	f := setup(t)
	pizza := f.menuItem(t, f.demo.ID, "Margherita Pizza")

	status, body := f.do(t, http.MethodPost, "http://localhost/client/order", map[string]any{
		"table": 3, "code": "789",
		"items": []map[string]any{{"menu_item_id": pizza.ID, "qty": 1}},
	}, "")
	require.Equal(t, http.StatusCreated, status, body)

	token := f.login(t, "http://localhost", "admin", "secret1")
	status, body = f.do(t, http.MethodPost, "http://localhost/business/settle_table/3", nil, token)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "finished", body["status"])

	table, err := f.store.GetTable(context.Background(), f.demo.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, models.TableFree, table.Status)
}

func TestAdvancedAnalyticsNeedPlan(t *testing.T) {
	f := setup(t)
	token := f.login(t, "http://bistro.tablelink.app", "owner", "secret2")

	for _, path := range []string{"top-items", "categories", "waiters", "item-trends/Tiramisu"} {
		status, body := f.do(t, http.MethodGet, "http://bistro.tablelink.app/business/analytics/"+path, nil, token)
		assert.Equal(t, http.StatusForbidden, status, path)
		assert.Contains(t, body["error"], "plan upgrade required", path)
	}

	status, _ := f.do(t, http.MethodGet, "http://bistro.tablelink.app/business/analytics/summary", nil, token)
	assert.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodGet, "http://bistro.tablelink.app/business/analytics/dashboard", nil, token)
	assert.Equal(t, http.StatusOK, status)
}

func TestAnalyticsQueryValidation(t *testing.T) {
	f := setup(t)
	token := f.login(t, "http://localhost", "admin", "secret1")

	tests := []struct {
		query string
		field string
	}{
		{"period=fortnight", "period"},
		{"date=12-03-2025", "date"},
		{"staff_id=abc", "staff_id"},
	}
	for _, tt := range tests {
		status, body := f.do(t, http.MethodGet, "http://localhost/business/analytics/summary?"+tt.query, nil, token)
		assert.Equal(t, http.StatusBadRequest, status, tt.query)
		assert.Equal(t, tt.field, body["field"], tt.query)
	}

	status, body := f.do(t, http.MethodGet, "http://localhost/business/analytics/top-items?limit=0", nil, token)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "limit", body["field"])
}

func TestTrialStatus(t *testing.T) {
	f := setup(t)
	token := f.login(t, "http://localhost", "admin", "secret1")

	status, body := f.do(t, http.MethodGet, "http://localhost/business/trial-status", nil, token)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["on_trial"])
	assert.EqualValues(t, 5, body["days_left"])
	assert.Equal(t, false, body["show_warning"])
}

func TestRequestIDHeader(t *testing.T) {
	f := setup(t)
	req := httptest.NewRequest(http.MethodGet, "http://localhost/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := f.srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
}

func TestMenuAdministration(t *testing.T) {
	f := setup(t)
	token := f.login(t, "http://localhost", "admin", "secret1")

	status, body := f.do(t, http.MethodPost, "http://localhost/business/menu/add",
		map[string]any{"name": "Minestrone", "ingredients": "Beans, Pasta", "price": "5.40"}, token)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "Food", body["category"])
	assert.Equal(t, true, body["active"])
	soupID := int64(body["id"].(float64))

	status, body = f.do(t, http.MethodPost, "http://localhost/business/menu/add",
		map[string]any{"name": "Free lunch", "price": "0"}, token)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "price", body["field"])

	status, body = f.do(t, http.MethodPost, "http://localhost/business/toggle_product/"+strconv.FormatInt(soupID, 10), nil, token)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, false, body["active"])

	status, body = f.do(t, http.MethodGet, "http://localhost/client/menu", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["items"], 4)

	status, body = f.do(t, http.MethodGet, "http://localhost/business/menu", nil, token)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["items"], 5)

	status, body = f.do(t, http.MethodPost, "http://localhost/client/order", map[string]any{
		"table": 1, "code": "123",
		"items": []map[string]any{{"menu_item_id": soupID, "qty": 1}},
	}, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "items[0].menu_item_id", body["field"])

	status, body = f.do(t, http.MethodPost, "http://localhost/business/menu/toggle", map[string]any{"item_id": soupID}, token)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["active"])

	status, _ = f.do(t, http.MethodPost, "http://localhost/business/toggle_product/99999", nil, token)
	assert.Equal(t, http.StatusNotFound, status)

	bistroItem := f.menuItem(t, f.bistro.ID, "Tiramisu")
	status, _ = f.do(t, http.MethodPost, "http://localhost/business/toggle_product/"+strconv.FormatInt(bistroItem.ID, 10), nil, token)
	assert.Equal(t, http.StatusNotFound, status)
	assert.True(t, f.menuItem(t, f.bistro.ID, "Tiramisu").Active)
}

func TestWaiterAdministration(t *testing.T) {
	f := setup(t)
	token := f.login(t, "http://localhost", "admin", "secret1")
	pizza := f.menuItem(t, f.demo.ID, "Margherita Pizza")

	status, body := f.do(t, http.MethodPost, "http://localhost/business/waiters/add", map[string]any{"name": "Giulia"}, token)
	require.Equal(t, http.StatusCreated, status, body)
	giulia := int64(body["id"].(float64))

	status, body = f.do(t, http.MethodGet, "http://localhost/business/waiters", nil, token)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["waiters"], 2)

	status, _ = f.do(t, http.MethodDelete, "http://localhost/business/waiters/"+strconv.FormatInt(giulia, 10), nil, token)
	require.Equal(t, http.StatusNoContent, status)

	status, body = f.do(t, http.MethodGet, "http://localhost/business/waiters", nil, token)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["waiters"], 1)

	kept, err := f.store.GetStaff(context.Background(), f.demo.ID, giulia)
	require.NoError(t, err)
	assert.False(t, kept.Active)

	status, body = f.do(t, http.MethodPost, "http://localhost/client/order", map[string]any{
		"table": 1, "code": "123",
		"items": []map[string]any{{"menu_item_id": pizza.ID, "qty": 1}},
	}, "")
	require.Equal(t, http.StatusCreated, status, body)

	status, _ = f.do(t, http.MethodPost, "http://localhost/business/finish_order",
		map[string]any{"table": 1, "staff_id": giulia}, token)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = f.do(t, http.MethodPost, "http://localhost/business/waiters/add", map[string]any{"name": ""}, token)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "name", body["field"])

	status, _ = f.do(t, http.MethodDelete, "http://localhost/business/waiters/0", nil, token)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAdministrationNeedsAdmin(t *testing.T) {
	f := setup(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("secret3"), bcrypt.MinCost)
	require.NoError(t, err)
	err = f.store.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.CreateUser(ctx, models.User{
			TenantID: f.demo.ID, Username: "marco", PasswordHash: string(hash), Role: models.RoleWaiter, Active: true,
		})
		return err
	})
	require.NoError(t, err)
	token := f.login(t, "http://localhost", "marco", "secret3")

	status, _ := f.do(t, http.MethodGet, "http://localhost/business/waiters", nil, token)
	assert.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodPost, "http://localhost/business/waiters/add", map[string]any{"name": "Intruder"}, token)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = f.do(t, http.MethodPost, "http://localhost/business/menu/add",
		map[string]any{"name": "Soup", "price": "4.00"}, token)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = f.do(t, http.MethodDelete, "http://localhost/business/waiters/1", nil, token)
	assert.Equal(t, http.StatusForbidden, status)

	staff, err := f.store.ListStaff(context.Background(), f.demo.ID)
	require.NoError(t, err)
	assert.Len(t, staff, 1)
}
