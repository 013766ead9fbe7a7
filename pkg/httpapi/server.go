// Package httpapi is the HTTP boundary: it resolves the tenant once per
// request, authenticates staff and translates JSON requests into ledger and
// analytics calls.
package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/marshallshelly/tablelink/pkg/analytics"
	"github.com/marshallshelly/tablelink/pkg/auth"
	"github.com/marshallshelly/tablelink/pkg/catalog"
	"github.com/marshallshelly/tablelink/pkg/ledger"
	"github.com/marshallshelly/tablelink/pkg/logger"
	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/runtime"
	"github.com/marshallshelly/tablelink/pkg/tenant"
)

const requestIDKey = "requestid"

// Deps are the services the routes call.
type Deps struct {
	Resolver  *tenant.Resolver
	Ledger    *ledger.Ledger
	Analytics *analytics.Aggregator
	Auth      *auth.Service
	Catalog   *catalog.Service
	// Now defaults to time.Now.
	Now func() time.Time
}

// Server wraps the fiber application.
type Server struct {
	app  *fiber.App
	deps Deps
	log  *logrus.Entry
}

// New builds the application with all routes registered.
func New(deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{deps: deps, log: logger.Component("http")}

	s.app = fiber.New(fiber.Config{
		AppName:               "tablelink",
		ErrorHandler:          s.errorHandler,
		DisableStartupMessage: true,
		UnescapePath:          true,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	s.app.Use(requestid.New(requestid.Config{
		Header:     fiber.HeaderXRequestID,
		Generator:  uuid.NewString,
		ContextKey: requestIDKey,
	}))
	s.app.Use(recover.New())
	s.app.Use(s.accessLog)
	s.app.Use(s.resolveTenant)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	s.app.Post("/auth/login", s.login)

	client := s.app.Group("/client")
	client.Get("/menu", s.clientMenu)
	client.Get("/order/:table", s.clientOrder)
	client.Post("/order", s.placeOrder)
	client.Post("/checkout", s.requestCheckout)

	business := s.app.Group("/business", s.authenticate)
	business.Get("/me", s.me)
	business.Get("/tables", s.listTables)
	business.Get("/order/:table", s.orderDetails)
	business.Post("/order/:id/items", s.appendItems)
	business.Post("/finish_order", s.finishOrder)
	business.Post("/checkout_table/:table", s.checkoutTable)
	business.Post("/settle_table/:table", s.settleTable)
	business.Post("/mark_viewed/:table", s.markViewed)
	business.Get("/trial-status", s.trialStatus)

	business.Get("/menu", s.menuItems)
	business.Post("/menu/add", s.requireAdmin, s.addMenuItem)
	business.Post("/menu/toggle", s.requireAdmin, s.toggleMenuItem)
	business.Post("/toggle_product/:id", s.requireAdmin, s.toggleMenuItem)
	business.Get("/waiters", s.listWaiters)
	business.Post("/waiters/add", s.requireAdmin, s.addWaiter)
	business.Delete("/waiters/:id", s.requireAdmin, s.removeWaiter)

	stats := business.Group("/analytics")
	stats.Get("/summary", s.summary)
	stats.Get("/dashboard", s.dashboard)

	pro := s.requirePlan(models.PlanProfessional)
	stats.Get("/top-items", pro, s.topItems)
	stats.Get("/categories", pro, s.categories)
	stats.Get("/waiters", pro, s.waiters)
	stats.Get("/item-trends/:name", pro, s.itemTrend)
}

// App exposes the fiber application, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until Shutdown.
func (s *Server) Listen(addr string) error {
	s.log.WithField("address", addr).Info("http server listening")
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var fe *fiber.Error
	var ve *runtime.ValidationError
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.As(err, &ve):
		return fiber.StatusBadRequest
	case errors.Is(err, runtime.ErrTenantNotFound), errors.Is(err, runtime.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, runtime.ErrInvalidCode):
		return fiber.StatusBadRequest
	case errors.Is(err, runtime.ErrCheckoutAlreadyRequested),
		errors.Is(err, runtime.ErrNoActiveOrder),
		errors.Is(err, runtime.ErrOrderStillActive),
		errors.Is(err, runtime.ErrDuplicateKey):
		return fiber.StatusConflict
	case errors.Is(err, runtime.ErrPlanRequired), errors.Is(err, runtime.ErrDemoTenantProtected):
		return fiber.StatusForbidden
	case errors.Is(err, runtime.ErrInvalidCredentials):
		return fiber.StatusUnauthorized
	case runtime.IsRetryable(err):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := statusOf(err)
	message := err.Error()

	entry := logger.WithContext(c.UserContext(), s.log).WithFields(logrus.Fields{
		"status": code,
		"method": c.Method(),
		"path":   c.Path(),
	})
	if code >= fiber.StatusInternalServerError {
		entry.WithError(err).Error("request failed")
		if code == fiber.StatusInternalServerError {
			message = "internal server error"
		}
	} else {
		entry.WithError(err).Debug("request rejected")
	}

	body := fiber.Map{
		"error":  message,
		"status": code,
		"path":   c.Path(),
		"method": c.Method(),
	}
	var ve *runtime.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
	}
	if code == fiber.StatusServiceUnavailable {
		c.Set(fiber.HeaderRetryAfter, "1")
	}
	return c.Status(code).JSON(body)
}
