package domain

import "time"

// CsatRequest is the one-per-ticket satisfaction survey.
type CsatRequest struct {
	ID          string
	TicketID    string
	Token       string
	ExpiresAt   time.Time
	Rating      *int
	Comment     *string
	RespondedAt *time.Time
	CreatedAt   time.Time
}
