package httpapi

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/marshallshelly/tablelink/pkg/auth"
	"github.com/marshallshelly/tablelink/pkg/logger"
	"github.com/marshallshelly/tablelink/pkg/models"
	"github.com/marshallshelly/tablelink/pkg/runtime"
	"github.com/marshallshelly/tablelink/pkg/tenant"
)

// untenanted paths are served without resolving a tenant.
var untenanted = []string{"/static/", "/favicon.ico", "/robots.txt", "/health", "/admin"}

func skipTenant(path string) bool {
	for _, p := range untenanted {
		if path == strings.TrimSuffix(p, "/") || strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (s *Server) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	if rid, ok := c.Locals(requestIDKey).(string); ok {
		c.SetUserContext(logger.WithFields(c.UserContext(), logrus.Fields{"request_id": rid}))
	}
	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		status = statusOf(err)
	}
	logger.WithContext(c.UserContext(), s.log).WithFields(logrus.Fields{
		"method":   c.Method(),
		"path":     c.OriginalURL(),
		"status":   status,
		"duration": time.Since(start).String(),
		"ip":       c.IP(),
	}).Info("request")
	return err
}

// resolveTenant resolves the tenant once, stores it on the request context
// and rewrites /r/<subdomain>/... paths before routing continues.
func (s *Server) resolveTenant(c *fiber.Ctx) error {
	path := c.Path()
	if skipTenant(path) {
		return c.Next()
	}

	res, err := s.deps.Resolver.Resolve(c.UserContext(), c.Hostname(), path, c.Get(fiber.HeaderReferer))
	if err != nil {
		return err
	}

	ctx := tenant.WithTenant(c.UserContext(), res.Tenant)
	ctx = logger.WithFields(ctx, logrus.Fields{"tenant_id": res.Tenant.ID, "tenant": res.Tenant.Subdomain})
	c.SetUserContext(ctx)

	if res.Path != path {
		c.Path(res.Path)
	}
	return c.Next()
}

// authenticate requires a bearer token issued for the request's tenant.
func (s *Server) authenticate(c *fiber.Ctx) error {
	t, err := tenant.FromContext(c.UserContext())
	if err != nil {
		return err
	}

	header := c.Get(fiber.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
	}
	user, err := s.deps.Auth.ParseToken(token, t.ID)
	if err != nil {
		return err
	}

	ctx := auth.WithUser(c.UserContext(), user)
	c.SetUserContext(logger.WithFields(ctx, logrus.Fields{"user_id": user.ID}))
	return c.Next()
}

// requirePlan rejects tenants whose plan lacks the feature.
func (s *Server) requirePlan(plan models.Plan) fiber.Handler {
	return func(c *fiber.Ctx) error {
		t, err := tenant.FromContext(c.UserContext())
		if err != nil {
			return err
		}
		if err := tenant.RequirePlan(t, plan); err != nil {
			return err
		}
		return c.Next()
	}
}

func currentUser(c *fiber.Ctx) (auth.AuthenticatedUser, error) {
	u, ok := auth.UserFromContext(c.UserContext())
	if !ok {
		return auth.AuthenticatedUser{}, runtime.ErrInvalidCredentials
	}
	return u, nil
}
