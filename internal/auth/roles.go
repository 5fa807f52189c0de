package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-relay/internal/domain"
	apperrors "github.com/spec-kit/ticket-relay/pkg/util"
)

// RequireStaffRole ensures the authenticated actor ranks at least min.
func RequireStaffRole(min domain.StaffRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := ActorFromContext(c)
		if !ok || !actor.IsStaff() {
			return apperrors.NewForbidden("staff role required")
		}
		if !actor.Role.AtLeast(min) {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}
