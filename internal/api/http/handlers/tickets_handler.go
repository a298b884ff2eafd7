package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-lifecycle/internal/api/dto"
	"github.com/spec-kit/ticket-lifecycle/internal/auth"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/lifecycle"
	"github.com/spec-kit/ticket-lifecycle/internal/service"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// TicketUseCases is the ticket service surface the HTTP layer drives.
type TicketUseCases interface {
	CreateTicket(ctx context.Context, actor domain.Actor, input service.TicketCreateInput) (*domain.Ticket, error)
	GetTicket(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error)
	ListAudit(ctx context.Context, actor domain.Actor, ticketID string) ([]domain.AuditEvent, error)
	UpdateTicket(ctx context.Context, actor domain.Actor, ticketID string, req lifecycle.Request) (*domain.Ticket, error)
	RecordFirstResponse(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error)
	BulkUpdate(ctx context.Context, actor domain.Actor, input service.BulkUpdateInput) (service.BulkResult, error)
}

// TicketsHandler serves the ticket endpoints for every role.
type TicketsHandler struct {
	service TicketUseCases
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService TicketUseCases) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /api/tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.CreateTicket(c.UserContext(), actor, req.Input())
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// GetTicket GET /api/tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.GetTicket(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// ListAudit GET /api/tickets/:id/audit.
func (h *TicketsHandler) ListAudit(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	events, err := h.service.ListAudit(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAuditEventResponses(events)})
}

// UpdateTicket PATCH /api/tickets/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req dto.UpdateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.UpdateTicket(c.UserContext(), actor, c.Params("id"), req.LifecycleRequest())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// RecordFirstResponse POST /api/tickets/:id/first-response.
func (h *TicketsHandler) RecordFirstResponse(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.RecordFirstResponse(c.UserContext(), actor, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// BulkUpdate POST /api/tickets/bulk. The response counts every requested id once, in
// updated or errors; unchanged reports how many of the updated tickets already matched.
func (h *TicketsHandler) BulkUpdate(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req dto.BulkUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	result, err := h.service.BulkUpdate(c.UserContext(), actor, req.Input())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}

func currentActor(c *fiber.Ctx) (domain.Actor, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return domain.Actor{}, apperrors.NewUnauthorized("authentication required")
	}
	return principal.Actor(), nil
}
