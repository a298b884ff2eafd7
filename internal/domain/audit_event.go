package domain

import "time"

// Audit actions written by the lifecycle core.
const (
	AuditTicketCreated     = "TICKET_CREATED"
	AuditTicketUpdated     = "TICKET_UPDATED"
	AuditFirstResponse     = "FIRST_RESPONSE_RECORDED"
	AuditSlaBreached       = "SLA_BREACHED"
	AuditAutomationApplied = "AUTOMATION_APPLIED"
	AuditCsatRequested     = "CSAT_REQUESTED"
	AuditCsatResponded     = "CSAT_RESPONDED"
)

// AuditEvent is an append-only trail entry; never mutated or deleted.
type AuditEvent struct {
	ID       string
	TicketID string
	ActorID  string
	Action   string
	Data     map[string]any
	// IdempotencyKey, when set, allows at most one event per key.
	IdempotencyKey *string
	CreatedAt      time.Time
}
