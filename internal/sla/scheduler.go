package sla

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// JobQueue registers SLA jobs with the job runtime. Enqueueing a job id that is already
// registered is a no-op.
type JobQueue interface {
	Enqueue(ctx context.Context, job domain.SlaJob) error
}

// SchedulerConfig controls reminder jobs.
type SchedulerConfig struct {
	RemindersEnabled bool
	ReminderLead     time.Duration
}

// Scheduler (re)registers the deadline jobs of a ticket.
type Scheduler struct {
	queue  JobQueue
	cfg    SchedulerConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewScheduler builds a Scheduler.
func NewScheduler(queue JobQueue, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{queue: queue, cfg: cfg, logger: logger, now: time.Now}
}

// Schedule registers the first-response and resolve jobs for the ticket's current due dates,
// plus reminder jobs ahead of each unmet deadline. Jobs registered against earlier due dates
// are left in place; the worker skips them as rescheduled.
func (s *Scheduler) Schedule(ctx context.Context, ticket *domain.Ticket) ([]domain.SlaJob, error) {
	jobs := s.Plan(ticket)
	for _, job := range jobs {
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return nil, fmt.Errorf("enqueue %s: %w", job.JobID, err)
		}
	}
	s.logger.Debug("sla jobs scheduled",
		zap.String("ticket_id", ticket.ID),
		zap.String("organization_id", ticket.OrganizationID),
		zap.Int("jobs", len(jobs)))
	return jobs, nil
}

// Plan computes the jobs Schedule would register without enqueueing them.
func (s *Scheduler) Plan(ticket *domain.Ticket) []domain.SlaJob {
	var jobs []domain.SlaJob
	now := s.now()
	add := func(jobType domain.SlaJobType, due *time.Time, met bool) {
		if due == nil {
			return
		}
		dueAt := due.UTC()
		jobs = append(jobs, domain.SlaJob{
			JobID:          domain.SlaJobID(ticket.ID, jobType, dueAt),
			JobType:        jobType,
			TicketID:       ticket.ID,
			OrganizationID: ticket.OrganizationID,
			DueAt:          dueAt,
			Priority:       ticket.Priority,
			RunAt:          dueAt,
		})
		if met || !s.cfg.RemindersEnabled || s.cfg.ReminderLead <= 0 {
			return
		}
		runAt := dueAt.Add(-s.cfg.ReminderLead)
		if !runAt.After(now) {
			return
		}
		jobs = append(jobs, domain.SlaJob{
			JobID:          domain.SlaReminderJobID(ticket.ID, jobType, dueAt),
			JobType:        domain.SlaJobReminder,
			TicketID:       ticket.ID,
			OrganizationID: ticket.OrganizationID,
			DueAt:          dueAt,
			Priority:       ticket.Priority,
			RunAt:          runAt,
			Metadata: map[string]any{
				"requesterId": ticket.RequesterID,
				"reminderFor": string(jobType),
			},
		})
	}
	add(domain.SlaJobFirstResponse, ticket.FirstResponseDue, ticket.FirstResponseAt != nil)
	add(domain.SlaJobResolve, ticket.ResolveDue, ticket.ResolvedAt != nil)
	return jobs
}
