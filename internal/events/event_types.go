package events

import (
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated EventType = "ticket_created"
	EventTicketUpdated EventType = "ticket_updated"
)

// Event represents a domain event emitted by services after a committed write.
type Event struct {
	ID             string       `json:"id"`
	Type           EventType    `json:"type"`
	TicketID       string       `json:"ticket_id"`
	OrganizationID string       `json:"organization_id"`
	Actor          domain.Actor `json:"actor"`
	Timestamp      time.Time    `json:"timestamp"`
	Payload        interface{}  `json:"payload"`
}

// TicketChangedPayload carries the ticket after the write, the ticket before it (nil on
// create) and the ordered change-set.
type TicketChangedPayload struct {
	Ticket   *domain.Ticket   `json:"ticket"`
	Previous *domain.Ticket   `json:"previous,omitempty"`
	Changes  domain.ChangeSet `json:"changes,omitempty"`
}
