package httpapi

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/marshallshelly/tablelink/pkg/analytics"
	"github.com/marshallshelly/tablelink/pkg/ledger"
	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/runtime"
	"github.com/marshallshelly/tablelink/pkg/tenant"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type placeOrderRequest struct {
	Table int                  `json:"table"`
	Code  string               `json:"code"`
	Items []ledger.ItemRequest `json:"items"`
}

type checkoutRequest struct {
	Table  int                   `json:"table"`
	Method models.CheckoutMethod `json:"method"`
	Tip    decimal.Decimal       `json:"tip"`
}

type finishRequest struct {
	Table   int   `json:"table"`
	StaffID int64 `json:"staff_id"`
}

type appendRequest struct {
	Items []ledger.ItemRequest `json:"items"`
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	return nil
}

func tableParam(c *fiber.Ctx) (int, error) {
	n, err := c.ParamsInt("table")
	if err != nil || n <= 0 {
		return 0, &runtime.ValidationError{Field: "table", Message: "must be a positive table number"}
	}
	return n, nil
}

func (s *Server) scoped(c *fiber.Ctx) (ledger.Scoped, error) {
	return s.deps.Ledger.Scope(c.UserContext())
}

func (s *Server) login(c *fiber.Ctx) error {
	t, err := tenant.FromContext(c.UserContext())
	if err != nil {
		return err
	}
	var req loginRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	user, err := s.deps.Auth.Authenticate(c.UserContext(), t.ID, req.Username, req.Password)
	if err != nil {
		return err
	}
	token, err := s.deps.Auth.IssueToken(user)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"token": token, "user": user})
}

func (s *Server) clientMenu(c *fiber.Ctx) error {
	l, err := s.scoped(c)
	if err != nil {
		return err
	}
	items, err := l.Menu(c.UserContext())
	if err != nil {
		return err
	}

	body := fiber.Map{"items": items}
	if n := c.QueryInt("table"); n > 0 {
		table, err := l.Table(c.UserContext(), n)
		if err != nil {
			return err
		}
		body["table"] = table
	}
	return c.JSON(body)
}

func (s *Server) clientOrder(c *fiber.Ctx) error {
	return s.details(c)
}

func (s *Server) placeOrder(c *fiber.Ctx) error {
	l, err := s.scoped(c)
	if err != nil {
		return err
	}
	var req placeOrderRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Table <= 0 {
		return &runtime.ValidationError{Field: "table", Message: "must be a positive table number"}
	}

	order, err := l.PlaceOrder(c.UserContext(), req.Table, req.Code, req.Items)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(order)
}

func (s *Server) requestCheckout(c *fiber.Ctx) error {
	l, err := s.scoped(c)
	if err != nil {
		return err
	}
	var req checkoutRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := l.RequestCheckout(c.UserContext(), req.Table, req.Method, req.Tip); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "checkout_requested"})
}

func (s *Server) listTables(c *fiber.Ctx) error {
	l, err := s.scoped(c)
	if err != nil {
		return err
	}
	tables, err := l.Tables(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"tables": tables})
}

func (s *Server) orderDetails(c *fiber.Ctx) error {
	return s.details(c)
}

func (s *Server) details(c *fiber.Ctx) error {
	l, err := s.scoped(c)
	if err != nil {
		return err
	}
	n, err := tableParam(c)
	if err != nil {
		return err
	}
	d, err := l.OrderDetails(c.UserContext(), n)
	if err != nil {
		return err
	}
	return c.JSON(d)
}

func (s *Server) appendItems(c *fiber.Ctx) error {
	l, err := s.scoped(c)
	if err != nil {
		return err
	}
	orderID, err := c.ParamsInt("id")
	if err != nil || orderID <= 0 {
		return &runtime.ValidationError{Field: "id", Message: "must be a positive order id"}
	}
	var req appendRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := l.AppendItems(c.UserContext(), int64(orderID), req.Items); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "items_added"})
}

func (s *Server) finishOrder(c *fiber.Ctx) error {
	l, err := s.scoped(c)
	if err != nil {
		return err
	}
	var req finishRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	order, err := l.FinishOrder(c.UserContext(), req.Table, req.StaffID)
	if err != nil {
		return err
	}
	return c.JSON(order)
}

func (s *Server) checkoutTable(c *fiber.Ctx) error {
	l, err := s.scoped(c)
	if err != nil {
		return err
	}
	n, err := tableParam(c)
	if err != nil {
		return err
	}
	if err := l.CheckoutTable(c.UserContext(), n); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "free"})
}

func (s *Server) settleTable(c *fiber.Ctx) error {
	l, err := s.scoped(c)
	if err != nil {
		return err
	}
	n, err := tableParam(c)
	if err != nil {
		return err
	}
	var req finishRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}
	order, err := l.SettleTable(c.UserContext(), n, req.StaffID)
	if err != nil {
		return err
	}
	return c.JSON(order)
}

func (s *Server) markViewed(c *fiber.Ctx) error {
	l, err := s.scoped(c)
	if err != nil {
		return err
	}
	n, err := tableParam(c)
	if err != nil {
		return err
	}
	if err := l.MarkViewed(c.UserContext(), n); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) me(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	return c.JSON(user)
}

func (s *Server) trialStatus(c *fiber.Ctx) error {
	t, err := tenant.FromContext(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(tenant.TrialStatusOf(t, s.deps.Now()))
}

// reportQuery carries the filters shared by the analytics routes.
type reportQuery struct {
	tenantID int64
	period   analytics.Period
	date     time.Time
	staffID  *int64
}

func (s *Server) reportQuery(c *fiber.Ctx) (reportQuery, error) {
	id, err := tenant.IDFromContext(c.UserContext())
	if err != nil {
		return reportQuery{}, err
	}
	q := reportQuery{tenantID: id, period: analytics.Day, date: s.deps.Now()}

	if raw := c.Query("period"); raw != "" {
		p, err := analytics.ParsePeriod(raw)
		if err != nil {
			return reportQuery{}, &runtime.ValidationError{Field: "period", Message: err.Error()}
		}
		q.period = p
	}
	if raw := c.Query("date"); raw != "" {
		d, err := analytics.ParseDate(raw, s.deps.Analytics.Location())
		if err != nil {
			return reportQuery{}, &runtime.ValidationError{Field: "date", Message: "must be YYYY-MM-DD"}
		}
		q.date = d
	}
	if raw := c.Query("staff_id"); raw != "" {
		staff, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || staff <= 0 {
			return reportQuery{}, &runtime.ValidationError{Field: "staff_id", Message: "must be a positive id"}
		}
		q.staffID = &staff
	}
	return q, nil
}

// Report results carry their own error string; a failed query still
// answers 200 with zeroed figures.
func (s *Server) summary(c *fiber.Ctx) error {
	q, err := s.reportQuery(c)
	if err != nil {
		return err
	}
	return c.JSON(s.deps.Analytics.PeriodSummary(c.UserContext(), q.tenantID, q.date, q.period, q.staffID))
}

func (s *Server) dashboard(c *fiber.Ctx) error {
	q, err := s.reportQuery(c)
	if err != nil {
		return err
	}
	return c.JSON(s.deps.Analytics.Dashboard(c.UserContext(), q.tenantID, q.date, q.period, q.staffID))
}

func (s *Server) topItems(c *fiber.Ctx) error {
	q, err := s.reportQuery(c)
	if err != nil {
		return err
	}
	limit := c.QueryInt("limit", analytics.DefaultTopItems)
	if limit <= 0 || limit > 100 {
		return &runtime.ValidationError{Field: "limit", Message: "must be between 1 and 100"}
	}
	return c.JSON(s.deps.Analytics.TopItems(c.UserContext(), q.tenantID, q.period, q.date, limit, q.staffID))
}

func (s *Server) categories(c *fiber.Ctx) error {
	q, err := s.reportQuery(c)
	if err != nil {
		return err
	}
	return c.JSON(s.deps.Analytics.CategoryComparison(c.UserContext(), q.tenantID, q.period, q.date, q.staffID))
}

func (s *Server) waiters(c *fiber.Ctx) error {
	q, err := s.reportQuery(c)
	if err != nil {
		return err
	}
	return c.JSON(s.deps.Analytics.WaiterPerformance(c.UserContext(), q.tenantID, q.period, q.date))
}

func (s *Server) itemTrend(c *fiber.Ctx) error {
	id, err := tenant.IDFromContext(c.UserContext())
	if err != nil {
		return err
	}
	name := c.Params("name")
	if name == "" {
		return &runtime.ValidationError{Field: "name", Message: "is required"}
	}
	days := c.QueryInt("days", 30)
	if days < 1 || days > 366 {
		return &runtime.ValidationError{Field: "days", Message: fmt.Sprintf("must be between 1 and 366, got %d", days)}
	}
	return c.JSON(s.deps.Analytics.ItemTrend(c.UserContext(), id, name, days))
}
