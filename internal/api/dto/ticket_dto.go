package dto

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/lifecycle"
	"github.com/spec-kit/ticket-lifecycle/internal/service"
)

// NullableString tells an absent key apart from an explicit null.
type NullableString struct {
	Set   bool
	Value *string
}

// UnmarshalJSON marks the field as provided; null clears it.
func (n *NullableString) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

// Optional converts to the domain wrapper.
func (n NullableString) Optional() domain.Optional[*string] {
	if !n.Set {
		return domain.Optional[*string]{}
	}
	return domain.Some(n.Value)
}

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	RequesterID    *string               `json:"requesterId"`
	Title          string                `json:"title"`
	Category       *string               `json:"category"`
	Priority       domain.TicketPriority `json:"priority"`
	AssigneeUserID *string               `json:"assigneeUserId"`
	AssigneeTeamID *string               `json:"assigneeTeamId"`
	Tags           []string              `json:"tags"`
}

// Input maps the payload to the service input.
func (r CreateTicketRequest) Input() service.TicketCreateInput {
	return service.TicketCreateInput{
		RequesterID:    r.RequesterID,
		Title:          r.Title,
		Category:       r.Category,
		Priority:       r.Priority,
		AssigneeUserID: r.AssigneeUserID,
		AssigneeTeamID: r.AssigneeTeamID,
		Tags:           r.Tags,
	}
}

// UpdateTicketRequest payload of PATCH /tickets/:id.
type UpdateTicketRequest struct {
	Status         *domain.TicketStatus   `json:"status"`
	Priority       *domain.TicketPriority `json:"priority"`
	AssigneeUserID NullableString         `json:"assigneeUserId"`
	AssigneeTeamID NullableString         `json:"assigneeTeamId"`
	ReopenReason   string                 `json:"reopenReason"`
}

// LifecycleRequest maps the payload to a lifecycle request.
func (r UpdateTicketRequest) LifecycleRequest() lifecycle.Request {
	var req lifecycle.Request
	if r.Status != nil {
		req.Status = domain.Some(*r.Status)
	}
	if r.Priority != nil {
		req.Priority = domain.Some(*r.Priority)
	}
	req.AssigneeUserID = r.AssigneeUserID.Optional()
	req.AssigneeTeamID = r.AssigneeTeamID.Optional()
	req.ReopenReason = r.ReopenReason
	return req
}

// BulkUpdateRequest payload of POST /tickets/bulk.
type BulkUpdateRequest struct {
	TicketIDs      []string             `json:"ticketIds"`
	Status         *domain.TicketStatus `json:"status"`
	AssigneeUserID NullableString       `json:"assigneeUserId"`
	AssigneeTeamID NullableString       `json:"assigneeTeamId"`
}

// Input maps the payload to the service input.
func (r BulkUpdateRequest) Input() service.BulkUpdateInput {
	input := service.BulkUpdateInput{
		TicketIDs:      r.TicketIDs,
		AssigneeUserID: r.AssigneeUserID.Optional(),
		AssigneeTeamID: r.AssigneeTeamID.Optional(),
	}
	if r.Status != nil {
		input.Status = domain.Some(*r.Status)
	}
	return input
}

// TicketResponse is the full ticket representation.
type TicketResponse struct {
	ID                   string                `json:"id"`
	OrganizationID       string                `json:"organizationId"`
	RequesterID          string                `json:"requesterId"`
	Title                string                `json:"title"`
	Category             *string               `json:"category"`
	Status               domain.TicketStatus   `json:"status"`
	Priority             domain.TicketPriority `json:"priority"`
	AssigneeUserID       *string               `json:"assigneeUserId"`
	AssigneeTeamID       *string               `json:"assigneeTeamId"`
	Tags                 []string              `json:"tags"`
	CreatedAt            time.Time             `json:"createdAt"`
	UpdatedAt            time.Time             `json:"updatedAt"`
	FirstResponseAt      *time.Time            `json:"firstResponseAt"`
	FirstResponseDue     *time.Time            `json:"firstResponseDue"`
	ResolveDue           *time.Time            `json:"resolveDue"`
	ResolvedAt           *time.Time            `json:"resolvedAt"`
	ClosedAt             *time.Time            `json:"closedAt"`
	LastReopenedAt       *time.Time            `json:"lastReopenedAt"`
	SlaPausedAt          *time.Time            `json:"slaPausedAt"`
	SlaPauseTotalSeconds int64                 `json:"slaPauseTotalSeconds"`
}

// NewTicketResponse renders t.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return TicketResponse{
		ID:                   t.ID,
		OrganizationID:       t.OrganizationID,
		RequesterID:          t.RequesterID,
		Title:                t.Title,
		Category:             t.Category,
		Status:               t.Status,
		Priority:             t.Priority,
		AssigneeUserID:       t.AssigneeUserID,
		AssigneeTeamID:       t.AssigneeTeamID,
		Tags:                 tags,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
		FirstResponseAt:      t.FirstResponseAt,
		FirstResponseDue:     t.FirstResponseDue,
		ResolveDue:           t.ResolveDue,
		ResolvedAt:           t.ResolvedAt,
		ClosedAt:             t.ClosedAt,
		LastReopenedAt:       t.LastReopenedAt,
		SlaPausedAt:          t.SlaPausedAt,
		SlaPauseTotalSeconds: t.SlaPauseTotalSeconds,
	}
}

// AuditEventResponse is one audit trail entry.
type AuditEventResponse struct {
	ID        string         `json:"id"`
	ActorID   string         `json:"actorId"`
	Action    string         `json:"action"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"createdAt"`
}

// NewAuditEventResponses renders an audit trail.
func NewAuditEventResponses(events []domain.AuditEvent) []AuditEventResponse {
	out := make([]AuditEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, AuditEventResponse{ID: e.ID, ActorID: e.ActorID, Action: e.Action, Data: e.Data, CreatedAt: e.CreatedAt})
	}
	return out
}
