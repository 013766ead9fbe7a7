package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/marshallshelly/tablelink/pkg/catalog"
	"github.com/marshallshelly/tablelink/pkg/runtime"
	"github.com/marshallshelly/tablelink/pkg/tenant"
)

type toggleRequest struct {
	ItemID int64 `json:"item_id" form:"item_id"`
}

// requireAdmin lets only the tenant's admin accounts through.
func (s *Server) requireAdmin(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	if !user.IsAdmin() {
		return fiber.NewError(fiber.StatusForbidden, "admin role required")
	}
	return c.Next()
}

func idParam(c *fiber.Ctx, name string) (int64, error) {
	n, err := c.ParamsInt(name)
	if err != nil || n <= 0 {
		return 0, &runtime.ValidationError{Field: name, Message: "must be a positive id"}
	}
	return int64(n), nil
}

func (s *Server) menuItems(c *fiber.Ctx) error {
	id, err := tenant.IDFromContext(c.UserContext())
	if err != nil {
		return err
	}
	items, err := s.deps.Catalog.Items(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": items})
}

func (s *Server) addMenuItem(c *fiber.Ctx) error {
	id, err := tenant.IDFromContext(c.UserContext())
	if err != nil {
		return err
	}
	var req catalog.NewItem
	if err := parseBody(c, &req); err != nil {
		return err
	}
	item, err := s.deps.Catalog.AddItem(c.UserContext(), id, req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(item)
}

// toggleMenuItem takes the item id from the path or, on /menu/toggle, from
// the body.
func (s *Server) toggleMenuItem(c *fiber.Ctx) error {
	id, err := tenant.IDFromContext(c.UserContext())
	if err != nil {
		return err
	}
	var itemID int64
	if c.Params("id") != "" {
		if itemID, err = idParam(c, "id"); err != nil {
			return err
		}
	} else {
		var req toggleRequest
		if err := parseBody(c, &req); err != nil {
			return err
		}
		if req.ItemID <= 0 {
			return &runtime.ValidationError{Field: "item_id", Message: "must be a positive id"}
		}
		itemID = req.ItemID
	}
	item, err := s.deps.Catalog.ToggleItem(c.UserContext(), id, itemID)
	if err != nil {
		return err
	}
	return c.JSON(item)
}

func (s *Server) listWaiters(c *fiber.Ctx) error {
	id, err := tenant.IDFromContext(c.UserContext())
	if err != nil {
		return err
	}
	staff, err := s.deps.Catalog.Staff(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"waiters": staff})
}

func (s *Server) addWaiter(c *fiber.Ctx) error {
	id, err := tenant.IDFromContext(c.UserContext())
	if err != nil {
		return err
	}
	var req catalog.NewStaff
	if err := parseBody(c, &req); err != nil {
		return err
	}
	st, err := s.deps.Catalog.AddStaff(c.UserContext(), id, req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(st)
}

func (s *Server) removeWaiter(c *fiber.Ctx) error {
	id, err := tenant.IDFromContext(c.UserContext())
	if err != nil {
		return err
	}
	staffID, err := idParam(c, "id")
	if err != nil {
		return err
	}
	if _, err := s.deps.Catalog.SetStaffActive(c.UserContext(), id, staffID, false); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
