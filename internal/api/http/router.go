package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-relay/internal/api/http/handlers"
	"github.com/spec-kit/ticket-relay/internal/auth"
	"github.com/spec-kit/ticket-relay/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.StaffTicketsHandler
	Metrics        *handlers.MetricsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	staff := app.Group("/staff", cfg.AuthMiddleware.Handle, auth.RequireStaffRole(domain.StaffRoleAgent))
	if cfg.Metrics != nil {
		staff.Get("/metrics", auth.RequireStaffRole(domain.StaffRoleAdmin), cfg.Metrics.Snapshot)
	}

	tickets := staff.Group("/tickets")
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Patch("/:id", cfg.Tickets.Update)
	tickets.Get("/:id/transcript", cfg.Tickets.Transcript)
	tickets.Post("/:id/claim", cfg.Tickets.Claim)
	tickets.Post("/:id/close", cfg.Tickets.Close)
	tickets.Post("/:id/reopen", cfg.Tickets.Reopen)
	tickets.Post("/:id/escalate", cfg.Tickets.Escalate)
	tickets.Post("/:id/forward", cfg.Tickets.Forward)
	tickets.Post("/:id/participants", cfg.Tickets.AddParticipant)
}
