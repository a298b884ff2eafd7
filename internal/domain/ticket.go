package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusNew           TicketStatus = "NEW"
	TicketStatusInProgress    TicketStatus = "IN_PROGRESS"
	TicketStatusWaitingOnUser TicketStatus = "WAITING_ON_USER"
	TicketStatusOnHold        TicketStatus = "ON_HOLD"
	TicketStatusResolved      TicketStatus = "RESOLVED"
	TicketStatusClosed        TicketStatus = "CLOSED"
	TicketStatusReopened      TicketStatus = "REOPENED"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusNew, TicketStatusInProgress, TicketStatusWaitingOnUser, TicketStatusOnHold,
		TicketStatusResolved, TicketStatusClosed, TicketStatusReopened:
		return true
	}
	return false
}

// Terminal reports whether s is RESOLVED or CLOSED.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
	TicketPriorityUrgent TicketPriority = "URGENT"
)

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityUrgent:
		return true
	}
	return false
}

// Ticket is the tenant-scoped aggregate for support requests.
type Ticket struct {
	ID             string
	OrganizationID string
	RequesterID    string
	Title          string
	Category       *string
	Status         TicketStatus
	Priority       TicketPriority
	AssigneeUserID *string
	AssigneeTeamID *string
	Tags           []string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	FirstResponseAt  *time.Time
	FirstResponseDue *time.Time
	ResolveDue       *time.Time
	ResolvedAt       *time.Time
	ClosedAt         *time.Time
	LastReopenedAt   *time.Time

	SlaPausedAt          *time.Time
	SlaPauseTotalSeconds int64
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.Category = cloneString(t.Category)
	c.AssigneeUserID = cloneString(t.AssigneeUserID)
	c.AssigneeTeamID = cloneString(t.AssigneeTeamID)
	c.Tags = append([]string(nil), t.Tags...)
	c.FirstResponseAt = cloneTime(t.FirstResponseAt)
	c.FirstResponseDue = cloneTime(t.FirstResponseDue)
	c.ResolveDue = cloneTime(t.ResolveDue)
	c.ResolvedAt = cloneTime(t.ResolvedAt)
	c.ClosedAt = cloneTime(t.ClosedAt)
	c.LastReopenedAt = cloneTime(t.LastReopenedAt)
	c.SlaPausedAt = cloneTime(t.SlaPausedAt)
	return &c
}

// HasTag reports whether the ticket already carries tag.
func (t *Ticket) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
