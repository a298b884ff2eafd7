package dto

import (
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/service"
)

// PreferenceRequest updates the caller's notification switches.
type PreferenceRequest struct {
	InAppTicketUpdates *bool `json:"inAppTicketUpdates"`
	EmailTicketUpdates *bool `json:"emailTicketUpdates"`
}

// Input maps the payload to the service input.
func (r PreferenceRequest) Input() service.PreferenceInput {
	return service.PreferenceInput{InAppTicketUpdates: r.InAppTicketUpdates, EmailTicketUpdates: r.EmailTicketUpdates}
}

// PreferenceResponse renders notification preferences.
type PreferenceResponse struct {
	InAppTicketUpdates bool       `json:"inAppTicketUpdates"`
	EmailTicketUpdates bool       `json:"emailTicketUpdates"`
	UpdatedAt          *time.Time `json:"updatedAt,omitempty"`
}

// NewPreferenceResponse renders p.
func NewPreferenceResponse(p *domain.NotificationPreference) PreferenceResponse {
	resp := PreferenceResponse{InAppTicketUpdates: p.InAppTicketUpdates, EmailTicketUpdates: p.EmailTicketUpdates}
	if !p.UpdatedAt.IsZero() {
		updated := p.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}

// CsatAnswerRequest is the survey answer.
type CsatAnswerRequest struct {
	Rating  int     `json:"rating"`
	Comment *string `json:"comment"`
}

// CsatAnswerResponse confirms a recorded answer.
type CsatAnswerResponse struct {
	TicketID    string     `json:"ticketId"`
	Rating      int        `json:"rating"`
	RespondedAt *time.Time `json:"respondedAt"`
}

// NewCsatAnswerResponse renders req.
func NewCsatAnswerResponse(req *domain.CsatRequest) CsatAnswerResponse {
	resp := CsatAnswerResponse{TicketID: req.TicketID, RespondedAt: req.RespondedAt}
	if req.Rating != nil {
		resp.Rating = *req.Rating
	}
	return resp
}
