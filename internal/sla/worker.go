package sla

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// Skip reasons reported by the workers.
const (
	ReasonTicketNotFound        = "ticket not found"
	ReasonTicketClosed          = "ticket closed/resolved"
	ReasonWaitingOnRequester    = "waiting on requester"
	ReasonFirstResponseRecorded = "first response already recorded"
	ReasonAlreadyResolved       = "already resolved"
	ReasonDueRescheduled        = "due rescheduled"
	ReasonDueNotReached         = "due date not reached"
	ReasonUnsupportedJob        = "unsupported job type"
	ReasonNotReminder           = "not a reminder job"
	ReasonNoRecipient           = "no recipient"
)

// TicketReader loads a ticket inside its organization.
type TicketReader interface {
	GetByID(ctx context.Context, organizationID, ticketID string) (*domain.Ticket, error)
}

// AuditAppender appends audit events keyed by IdempotencyKey. On a duplicate key it reports
// created=false and fills event.ID with the existing row id.
type AuditAppender interface {
	AppendIdempotent(ctx context.Context, event *domain.AuditEvent) (bool, error)
}

// Notifier delivers a notification at most once per idempotency key.
type Notifier interface {
	Send(ctx context.Context, msg domain.NotificationMessage) (domain.DeliveryResult, error)
}

// Worker handles first-response and resolve deadline jobs.
type Worker struct {
	tickets  TicketReader
	audit    AuditAppender
	notifier Notifier
	logger   *zap.Logger
}

// NewWorker builds the breach worker.
func NewWorker(tickets TicketReader, audit AuditAppender, notifier Notifier, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{tickets: tickets, audit: audit, notifier: notifier, logger: logger}
}

// Handle decides whether the job is still a breach as of now. The checks run in a fixed
// order and the first match wins; every branch is safe to evaluate again on redelivery.
// Infrastructure failures are returned so the runtime retries the job.
func (w *Worker) Handle(ctx context.Context, job domain.SlaJob, now time.Time) (domain.SlaJobResult, error) {
	if job.JobType != domain.SlaJobFirstResponse && job.JobType != domain.SlaJobResolve {
		return skipped(ReasonUnsupportedJob), nil
	}

	ticket, err := w.tickets.GetByID(ctx, job.OrganizationID, job.TicketID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return skipped(ReasonTicketNotFound), nil
		}
		return domain.SlaJobResult{}, fmt.Errorf("load ticket %s: %w", job.TicketID, err)
	}
	if ticket == nil {
		return skipped(ReasonTicketNotFound), nil
	}

	if reason, skip := skipReason(ticket, job, now); skip {
		w.logger.Debug("sla job skipped",
			zap.String("job_id", job.JobID),
			zap.String("ticket_id", job.TicketID),
			zap.String("reason", reason))
		return skipped(reason), nil
	}

	key := BreachKey(job)
	event := &domain.AuditEvent{
		TicketID:       ticket.ID,
		ActorID:        domain.SystemActorID,
		Action:         domain.AuditSlaBreached,
		Data:           map[string]any{"jobType": string(job.JobType), "dueAt": job.DueAt.UTC().Format(time.RFC3339)},
		IdempotencyKey: &key,
		CreatedAt:      now,
	}
	created, err := w.audit.AppendIdempotent(ctx, event)
	if err != nil {
		return domain.SlaJobResult{}, fmt.Errorf("append breach audit: %w", err)
	}

	subject := "SLA response breached"
	if job.JobType == domain.SlaJobResolve {
		subject = "SLA resolution breached"
	}
	delivery, err := w.notifier.Send(ctx, domain.NotificationMessage{
		Channel:        domain.ChannelInApp,
		To:             ticket.RequesterID,
		Subject:        subject,
		Body:           fmt.Sprintf("Ticket %q missed its %s target.", ticket.Title, job.JobType),
		Data:           map[string]any{"ticketId": ticket.ID, "jobType": string(job.JobType), "priority": string(ticket.Priority)},
		IdempotencyKey: key,
		Metadata:       map[string]any{"organizationId": ticket.OrganizationID, "jobId": job.JobID},
	})
	if err != nil {
		return domain.SlaJobResult{}, fmt.Errorf("send breach notification: %w", err)
	}

	w.logger.Info("sla breached",
		zap.String("job_id", job.JobID),
		zap.String("ticket_id", ticket.ID),
		zap.String("organization_id", ticket.OrganizationID),
		zap.String("job_type", string(job.JobType)),
		zap.Bool("audit_created", created),
		zap.String("delivery_status", string(delivery.Status)))

	return domain.SlaJobResult{AuditID: event.ID, NotificationID: delivery.ID}, nil
}

// BreachKey is the idempotency key shared by the breach audit event and its notification.
func BreachKey(job domain.SlaJob) string {
	return fmt.Sprintf("sla-breach:%s:%s:%d", job.TicketID, job.JobType, job.DueAt.UTC().Unix())
}

func skipReason(ticket *domain.Ticket, job domain.SlaJob, now time.Time) (string, bool) {
	if reason, stale := staleReason(ticket, job.JobType, job.DueAt); stale {
		return reason, true
	}
	if now.Before(job.DueAt) {
		return ReasonDueNotReached, true
	}
	return "", false
}

// staleReason reports why a job for the jobType deadline scheduled at dueAt no longer
// applies to ticket.
func staleReason(ticket *domain.Ticket, jobType domain.SlaJobType, dueAt time.Time) (string, bool) {
	switch {
	case ticket.Status.Terminal():
		return ReasonTicketClosed, true
	case ticket.Status == domain.TicketStatusWaitingOnUser:
		return ReasonWaitingOnRequester, true
	case jobType == domain.SlaJobFirstResponse && ticket.FirstResponseAt != nil:
		return ReasonFirstResponseRecorded, true
	case jobType == domain.SlaJobResolve && ticket.ResolvedAt != nil:
		return ReasonAlreadyResolved, true
	case !sameSecond(currentDue(ticket, jobType), dueAt):
		return ReasonDueRescheduled, true
	}
	return "", false
}

func currentDue(ticket *domain.Ticket, jobType domain.SlaJobType) *time.Time {
	if jobType == domain.SlaJobFirstResponse {
		return ticket.FirstResponseDue
	}
	return ticket.ResolveDue
}

// sameSecond compares at second precision; job ids carry unix seconds.
func sameSecond(current *time.Time, scheduled time.Time) bool {
	if current == nil {
		return false
	}
	return current.Unix() == scheduled.Unix()
}

func skipped(reason string) domain.SlaJobResult {
	return domain.SlaJobResult{Skipped: true, Reason: reason}
}
