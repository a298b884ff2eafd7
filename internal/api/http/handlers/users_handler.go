package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-lifecycle/internal/api/dto"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/service"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// PreferenceUseCases reads and writes notification preferences.
type PreferenceUseCases interface {
	GetPreferences(ctx context.Context, userID string) (*domain.NotificationPreference, error)
	UpdatePreferences(ctx context.Context, userID string, input service.PreferenceInput) (*domain.NotificationPreference, error)
}

// UsersHandler exposes the caller's own settings.
type UsersHandler struct {
	preferences PreferenceUseCases
}

// NewUsersHandler constructs handler.
func NewUsersHandler(preferences PreferenceUseCases) *UsersHandler {
	return &UsersHandler{preferences: preferences}
}

// GetPreferences GET /api/me/notification-preferences.
func (h *UsersHandler) GetPreferences(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	pref, err := h.preferences.GetPreferences(c.UserContext(), actor.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewPreferenceResponse(pref)})
}

// UpdatePreferences PUT /api/me/notification-preferences.
func (h *UsersHandler) UpdatePreferences(c *fiber.Ctx) error {
	actor, err := currentActor(c)
	if err != nil {
		return err
	}
	var req dto.PreferenceRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	pref, err := h.preferences.UpdatePreferences(c.UserContext(), actor.ID, req.Input())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewPreferenceResponse(pref)})
}
