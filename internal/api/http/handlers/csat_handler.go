package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-lifecycle/internal/api/dto"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/service"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// CsatUseCases records survey answers.
type CsatUseCases interface {
	SubmitResponse(ctx context.Context, token string, input service.CsatResponseInput) (*domain.CsatRequest, error)
}

// CsatHandler serves the unauthenticated survey endpoint; the token is the credential.
type CsatHandler struct {
	csat CsatUseCases
}

func NewCsatHandler(csat CsatUseCases) *CsatHandler {
	return &CsatHandler{csat: csat}
}

// Submit POST /csat/:token.
func (h *CsatHandler) Submit(c *fiber.Ctx) error {
	var req dto.CsatAnswerRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	answer, err := h.csat.SubmitResponse(c.UserContext(), c.Params("token"), service.CsatResponseInput{
		Rating:  req.Rating,
		Comment: req.Comment,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewCsatAnswerResponse(answer)})
}
