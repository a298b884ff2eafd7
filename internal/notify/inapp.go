package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// NotificationStore persists in-app notification rows.
type NotificationStore interface {
	Create(ctx context.Context, notification *domain.Notification) error
}

// InAppChannel writes a notification row the client polls.
type InAppChannel struct {
	store NotificationStore
	now   func() time.Time
}

// NewInAppChannel builds the in-app channel.
func NewInAppChannel(store NotificationStore) *InAppChannel {
	return &InAppChannel{store: store, now: time.Now}
}

func (c *InAppChannel) Deliver(ctx context.Context, msg domain.NotificationMessage) (domain.DeliveryResult, error) {
	data := make(map[string]any, len(msg.Data)+1)
	for k, v := range msg.Data {
		data[k] = v
	}
	if msg.TemplateID != "" {
		data["templateId"] = msg.TemplateID
	}
	row := &domain.Notification{
		ID:        uuid.NewString(),
		UserID:    msg.To,
		Title:     msg.Subject,
		Body:      msg.Body,
		Data:      data,
		CreatedAt: c.now().UTC(),
	}
	if err := c.store.Create(ctx, row); err != nil {
		return domain.DeliveryResult{}, err
	}
	return domain.DeliveryResult{ID: row.ID, Status: domain.DeliverySent}, nil
}
