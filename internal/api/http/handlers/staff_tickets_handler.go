package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-relay/internal/api/dto"
	"github.com/spec-kit/ticket-relay/internal/auth"
	"github.com/spec-kit/ticket-relay/internal/domain"
	"github.com/spec-kit/ticket-relay/internal/service"
	apperrors "github.com/spec-kit/ticket-relay/pkg/util"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// StaffTicketsHandler exposes ticket lifecycle operations to authenticated staff.
type StaffTicketsHandler struct {
	lifecycle *service.LifecycleService
	relay     *service.RelayService
}

// NewStaffTicketsHandler constructs handler.
func NewStaffTicketsHandler(lifecycle *service.LifecycleService, relay *service.RelayService) *StaffTicketsHandler {
	return &StaffTicketsHandler{lifecycle: lifecycle, relay: relay}
}

// ListTickets GET /staff/tickets.
func (h *StaffTicketsHandler) ListTickets(c *fiber.Ctx) error {
	limit := parseInt(c.Query("limit"), defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	tickets, err := h.lifecycle.ListActive(c.UserContext(), limit)
	if err != nil {
		return err
	}
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, dto.NewTicketSummary(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /staff/tickets/:id.
func (h *StaffTicketsHandler) GetTicket(c *fiber.Ctx) error {
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	detail, err := h.lifecycle.Detail(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketDetail(detail.Ticket, detail.Participants)})
}

// Claim POST /staff/tickets/:id/claim. Claiming an own claim releases it.
func (h *StaffTicketsHandler) Claim(c *fiber.Ctx) error {
	return h.act(c, func(id int64, actor *domain.Actor) (*domain.Ticket, error) {
		return h.lifecycle.Claim(c.UserContext(), id, actor)
	})
}

// Close POST /staff/tickets/:id/close.
func (h *StaffTicketsHandler) Close(c *fiber.Ctx) error {
	var req dto.CloseTicketRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return invalidPayload()
		}
	}
	return h.act(c, func(id int64, actor *domain.Actor) (*domain.Ticket, error) {
		return h.lifecycle.Close(c.UserContext(), id, actor, strings.TrimSpace(req.Reason))
	})
}

// Reopen POST /staff/tickets/:id/reopen.
func (h *StaffTicketsHandler) Reopen(c *fiber.Ctx) error {
	return h.act(c, func(id int64, actor *domain.Actor) (*domain.Ticket, error) {
		return h.lifecycle.Reopen(c.UserContext(), id, actor)
	})
}

// Escalate POST /staff/tickets/:id/escalate.
func (h *StaffTicketsHandler) Escalate(c *fiber.Ctx) error {
	var req dto.EscalateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidPayload()
	}
	if req.Level == nil {
		return apperrors.NewValidationError("level required", nil)
	}
	return h.act(c, func(id int64, actor *domain.Actor) (*domain.Ticket, error) {
		return h.lifecycle.Escalate(c.UserContext(), id, actor, *req.Level)
	})
}

// Forward POST /staff/tickets/:id/forward.
func (h *StaffTicketsHandler) Forward(c *fiber.Ctx) error {
	var req dto.ForwardTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidPayload()
	}
	target := strings.TrimSpace(req.StaffID)
	if target == "" {
		return apperrors.NewValidationError("staff_id required", nil)
	}
	return h.act(c, func(id int64, actor *domain.Actor) (*domain.Ticket, error) {
		return h.lifecycle.Forward(c.UserContext(), id, actor, target)
	})
}

// AddParticipant POST /staff/tickets/:id/participants.
func (h *StaffTicketsHandler) AddParticipant(c *fiber.Ctx) error {
	var req dto.AddParticipantRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidPayload()
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return apperrors.NewValidationError("user_id required", nil)
	}
	return h.act(c, func(id int64, actor *domain.Actor) (*domain.Ticket, error) {
		return h.relay.AddParticipant(c.UserContext(), id, userID, actor)
	})
}

// Update PATCH /staff/tickets/:id. Every field is validated before any is applied.
func (h *StaffTicketsHandler) Update(c *fiber.Ctx) error {
	var req dto.UpdateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidPayload()
	}
	if req.Empty() {
		return apperrors.NewValidationError("no fields to update", nil)
	}
	return h.act(c, func(id int64, actor *domain.Actor) (*domain.Ticket, error) {
		return h.lifecycle.Update(c.UserContext(), id, actor, service.TicketUpdate{
			Priority:    req.Priority,
			StatusLabel: req.StatusLabel,
			Category:    req.Category,
		})
	})
}

// Transcript GET /staff/tickets/:id/transcript.
func (h *StaffTicketsHandler) Transcript(c *fiber.Ctx) error {
	actor, err := staffActor(c)
	if err != nil {
		return err
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	artifact, err := h.lifecycle.Transcript(c.UserContext(), id, actor)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	c.Set(fiber.HeaderContentDisposition, `inline; filename="`+artifact.FileName+`"`)
	return c.Send(artifact.Data)
}

func (h *StaffTicketsHandler) act(c *fiber.Ctx, fn func(id int64, actor *domain.Actor) (*domain.Ticket, error)) error {
	actor, err := staffActor(c)
	if err != nil {
		return err
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	ticket, err := fn(id, actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketSummary(ticket)})
}

func staffActor(c *fiber.Ctx) (*domain.Actor, error) {
	actor, ok := auth.ActorFromContext(c)
	if !ok || !actor.IsStaff() {
		return nil, apperrors.NewUnauthorized("staff required")
	}
	return actor, nil
}

func ticketID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("invalid ticket id", map[string]any{"id": c.Params("id")})
	}
	return id, nil
}

func invalidPayload() error {
	return apperrors.NewValidationError("invalid payload", nil)
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
