package service

import (
	"context"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
)

// PreferenceInput updates a user's notification switches; nil leaves a switch unchanged.
type PreferenceInput struct {
	InAppTicketUpdates *bool
	EmailTicketUpdates *bool
}

// NotificationService manages per-user notification preferences.
type NotificationService struct {
	notifications repository.NotificationRepository
}

// NewNotificationService creates the service.
func NewNotificationService(notifications repository.NotificationRepository) *NotificationService {
	return &NotificationService{notifications: notifications}
}

// GetPreferences returns the stored preferences, or the defaults (everything on).
func (n *NotificationService) GetPreferences(ctx context.Context, userID string) (*domain.NotificationPreference, error) {
	pref, err := n.notifications.GetPreference(ctx, userID)
	if err != nil {
		return nil, err
	}
	if pref == nil {
		return &domain.NotificationPreference{UserID: userID, InAppTicketUpdates: true, EmailTicketUpdates: true}, nil
	}
	return pref, nil
}

// UpdatePreferences applies input over the current preferences.
func (n *NotificationService) UpdatePreferences(ctx context.Context, userID string, input PreferenceInput) (*domain.NotificationPreference, error) {
	pref, err := n.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	if input.InAppTicketUpdates != nil {
		pref.InAppTicketUpdates = *input.InAppTicketUpdates
	}
	if input.EmailTicketUpdates != nil {
		pref.EmailTicketUpdates = *input.EmailTicketUpdates
	}
	if err := n.notifications.UpsertPreference(ctx, pref); err != nil {
		return nil, err
	}
	return pref, nil
}
