package domain

import (
	"fmt"
	"time"
)

// SlaPolicy maps (priority, category?) to targets for one organization.
type SlaPolicy struct {
	ID                 string
	OrganizationID     string
	Priority           TicketPriority
	Category           *string
	FirstResponseHours int
	ResolveHours       int
}

// SlaTargets are the hours allowed for first response and resolution.
type SlaTargets struct {
	FirstResponseHours int `yaml:"first_response_hours"`
	ResolveHours       int `yaml:"resolve_hours"`
}

// SlaJobType distinguishes deadline and reminder jobs.
type SlaJobType string

const (
	SlaJobFirstResponse SlaJobType = "first-response"
	SlaJobResolve       SlaJobType = "resolve"
	SlaJobReminder      SlaJobType = "reminder"
)

// SlaJob is a scheduled unit of work; its identity includes the due date it was scheduled against.
type SlaJob struct {
	JobID          string         `json:"jobId"`
	JobType        SlaJobType     `json:"jobType"`
	TicketID       string         `json:"ticketId"`
	OrganizationID string         `json:"organizationId"`
	DueAt          time.Time      `json:"dueAt"`
	Priority       TicketPriority `json:"priority"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	// RunAt is when the runtime should deliver the job; equals DueAt for deadline jobs.
	RunAt time.Time `json:"runAt"`
}

// SlaJobID derives the deterministic identity of a job.
func SlaJobID(ticketID string, jobType SlaJobType, dueAt time.Time) string {
	return fmt.Sprintf("%s:%s:%d", ticketID, jobType, dueAt.UTC().Unix())
}

// SlaReminderJobID derives the identity of the reminder for the reminderFor deadline.
func SlaReminderJobID(ticketID string, reminderFor SlaJobType, dueAt time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%d", ticketID, SlaJobReminder, reminderFor, dueAt.UTC().Unix())
}

// MetadataString reads a string metadata value.
func (j SlaJob) MetadataString(key string) string {
	if j.Metadata == nil {
		return ""
	}
	if v, ok := j.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// SlaJobResult is returned by job handlers for observability and tests.
type SlaJobResult struct {
	Skipped        bool   `json:"skipped"`
	Reason         string `json:"reason,omitempty"`
	AuditID        string `json:"auditId,omitempty"`
	NotificationID string `json:"notificationId,omitempty"`
}
