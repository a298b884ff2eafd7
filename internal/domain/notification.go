package domain

import "time"

// NotificationChannel selects the delivery adapter.
type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelInApp NotificationChannel = "inapp"
)

// DeliveryStatus reports what the dispatcher did with a message.
type DeliveryStatus string

const (
	DeliveryQueued     DeliveryStatus = "queued"
	DeliverySent       DeliveryStatus = "sent"
	DeliverySuppressed DeliveryStatus = "suppressed"
)

// NotificationMessage is the dispatcher input.
type NotificationMessage struct {
	Channel        NotificationChannel
	To             string
	Subject        string
	Body           string
	TemplateID     string
	Data           map[string]any
	IdempotencyKey string
	Metadata       map[string]any
}

// DeliveryResult is the dispatcher output.
type DeliveryResult struct {
	ID      string         `json:"id"`
	Status  DeliveryStatus `json:"status"`
	Deduped bool           `json:"deduped,omitempty"`
}

// Notification is a persisted in-app notification row.
type Notification struct {
	ID        string
	UserID    string
	Title     string
	Body      string
	Data      map[string]any
	ReadAt    *time.Time
	CreatedAt time.Time
}

// NotificationPreference holds per-user delivery switches.
type NotificationPreference struct {
	UserID             string
	InAppTicketUpdates bool
	EmailTicketUpdates bool
	UpdatedAt          time.Time
}
