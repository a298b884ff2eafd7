package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// NotificationRepository stores in-app notifications and delivery preferences.
type NotificationRepository interface {
	Create(ctx context.Context, notification *domain.Notification) error
	GetPreference(ctx context.Context, userID string) (*domain.NotificationPreference, error)
	UpsertPreference(ctx context.Context, pref *domain.NotificationPreference) error
}

type notificationRepository struct {
	pool *pgxpool.Pool
}

// NewNotificationRepository builds repository.
func NewNotificationRepository(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepository{pool: pool}
}

func (r *notificationRepository) Create(ctx context.Context, notification *domain.Notification) error {
	data, err := json.Marshal(notification.Data)
	if err != nil {
		return fmt.Errorf("marshal notification data: %w", err)
	}
	const query = `
        INSERT INTO notifications (id, user_id, title, body, data, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)`
	_, err = r.pool.Exec(ctx, query,
		notification.ID,
		notification.UserID,
		notification.Title,
		notification.Body,
		data,
		notification.CreatedAt,
	)
	return err
}

// GetPreference returns nil when the user never saved preferences.
func (r *notificationRepository) GetPreference(ctx context.Context, userID string) (*domain.NotificationPreference, error) {
	const query = `
        SELECT user_id, in_app_ticket_updates, email_ticket_updates, updated_at
        FROM notification_preferences WHERE user_id=$1`
	var pref domain.NotificationPreference
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&pref.UserID,
		&pref.InAppTicketUpdates,
		&pref.EmailTicketUpdates,
		&pref.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pref, nil
}

func (r *notificationRepository) UpsertPreference(ctx context.Context, pref *domain.NotificationPreference) error {
	const query = `
        INSERT INTO notification_preferences (user_id, in_app_ticket_updates, email_ticket_updates, updated_at)
        VALUES ($1,$2,$3,NOW())
        ON CONFLICT (user_id) DO UPDATE
            SET in_app_ticket_updates=EXCLUDED.in_app_ticket_updates,
                email_ticket_updates=EXCLUDED.email_ticket_updates,
                updated_at=NOW()
        RETURNING updated_at`
	return r.pool.QueryRow(ctx, query, pref.UserID, pref.InAppTicketUpdates, pref.EmailTicketUpdates).Scan(&pref.UpdatedAt)
}
