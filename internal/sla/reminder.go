package sla

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// ReminderWorker sends pre-breach reminders.
type ReminderWorker struct {
	tickets  TicketReader
	notifier Notifier
	logger   *zap.Logger
}

// NewReminderWorker builds the reminder worker.
func NewReminderWorker(tickets TicketReader, notifier Notifier, logger *zap.Logger) *ReminderWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReminderWorker{tickets: tickets, notifier: notifier, logger: logger}
}

// Handle sends one in-app reminder to metadata.requesterId, keyed by the job id. A reminder
// whose deadline no longer applies, because the ticket was settled, paused or rescheduled,
// is skipped.
func (w *ReminderWorker) Handle(ctx context.Context, job domain.SlaJob, _ time.Time) (domain.SlaJobResult, error) {
	if job.JobType != domain.SlaJobReminder {
		return skipped(ReasonNotReminder), nil
	}
	recipient := job.MetadataString("requesterId")
	if recipient == "" {
		return skipped(ReasonNoRecipient), nil
	}
	reminderFor := job.MetadataString("reminderFor")

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
	if reason, stale := staleReason(ticket, domain.SlaJobType(reminderFor), job.DueAt); stale {
		w.logger.Debug("sla reminder skipped",
			zap.String("job_id", job.JobID),
			zap.String("ticket_id", job.TicketID),
			zap.String("reason", reason))
		return skipped(reason), nil
	}

	delivery, err := w.notifier.Send(ctx, domain.NotificationMessage{
		Channel: domain.ChannelInApp,
		To:      recipient,
		Subject: "SLA deadline approaching",
		Body:    fmt.Sprintf("The %s deadline is due at %s.", reminderFor, job.DueAt.UTC().Format(time.RFC3339)),
		Data: map[string]any{
			"ticketId": job.TicketID,
			"jobType":  reminderFor,
			"priority": string(job.Priority),
		},
		IdempotencyKey: "sla-reminder:" + job.JobID,
		Metadata:       map[string]any{"organizationId": job.OrganizationID, "jobId": job.JobID},
	})
	if err != nil {
		return domain.SlaJobResult{}, fmt.Errorf("send reminder: %w", err)
	}
	w.logger.Debug("sla reminder sent", zap.String("job_id", job.JobID), zap.String("ticket_id", job.TicketID))
	return domain.SlaJobResult{NotificationID: delivery.ID}, nil
}
