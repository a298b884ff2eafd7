package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/automation"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/lifecycle"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	"github.com/spec-kit/ticket-lifecycle/internal/sla"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

const maxTitleLength = 200

// maxStaleRetries bounds how often a change is recomputed from a fresh read after a
// concurrent write to the same ticket.
const maxStaleRetries = 1

// TicketService coordinates ticket workflows: every change runs through the lifecycle,
// is persisted with its audit event, and then reschedules SLA jobs and triggers CSAT.
type TicketService struct {
	tickets    repository.TicketRepository
	audit      repository.AuditRepository
	users      repository.UserRepository
	teams      repository.TeamRepository
	lifecycle  *lifecycle.Lifecycle
	resolver   *sla.Resolver
	scheduler  *sla.Scheduler
	csat       *CsatService
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	bulkLimit  int
	now        func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	AuditRepo  repository.AuditRepository
	UserRepo   repository.UserRepository
	TeamRepo   repository.TeamRepository
	Lifecycle  *lifecycle.Lifecycle
	Resolver   *sla.Resolver
	Scheduler  *sla.Scheduler
	Csat       *CsatService
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	// BulkConcurrency bounds how many tickets a bulk update processes at once.
	BulkConcurrency int
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	// RequesterID lets staff open a ticket on behalf of a requester.
	RequesterID    *string
	Title          string
	Category       *string
	Priority       domain.TicketPriority
	AssigneeUserID *string
	AssigneeTeamID *string
	Tags           []string
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bulkLimit := deps.BulkConcurrency
	if bulkLimit <= 0 {
		bulkLimit = 8
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		audit:      deps.AuditRepo,
		users:      deps.UserRepo,
		teams:      deps.TeamRepo,
		lifecycle:  deps.Lifecycle,
		resolver:   deps.Resolver,
		scheduler:  deps.Scheduler,
		csat:       deps.Csat,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		bulkLimit:  bulkLimit,
		now:        time.Now,
	}
}

// CreateTicket opens a ticket, seeds its SLA due dates and registers the deadline jobs.
func (s *TicketService) CreateTicket(ctx context.Context, actor domain.Actor, input TicketCreateInput) (*domain.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" || len(title) > maxTitleLength {
		return nil, apperrors.NewValidationError("title is required and must be at most 200 characters", nil)
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": priority})
	}

	requesterID := actor.ID
	if actor.Role == domain.RoleRequester {
		if input.RequesterID != nil && *input.RequesterID != actor.ID {
			return nil, apperrors.NewForbidden("requesters may only open tickets for themselves")
		}
		if input.AssigneeUserID != nil || input.AssigneeTeamID != nil {
			return nil, apperrors.NewForbidden("requesters may not assign tickets")
		}
	} else if input.RequesterID != nil {
		requester, err := s.users.GetByID(ctx, actor.OrganizationID, *input.RequesterID)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return nil, apperrors.NewValidationError("requester not found", map[string]any{"requesterId": *input.RequesterID})
			}
			return nil, err
		}
		requesterID = requester.ID
	}
	if err := s.validateAssignees(ctx, actor.OrganizationID, optionalPtr(input.AssigneeUserID), optionalPtr(input.AssigneeTeamID)); err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Second)
	ticket := &domain.Ticket{
		OrganizationID: actor.OrganizationID,
		RequesterID:    requesterID,
		Title:          title,
		Category:       trimmedOrNil(input.Category),
		Status:         domain.TicketStatusNew,
		Priority:       priority,
		AssigneeUserID: input.AssigneeUserID,
		AssigneeTeamID: input.AssigneeTeamID,
		Tags:           dedupeStrings(input.Tags),
		CreatedAt:      now,
	}
	due, err := s.resolver.DueDates(ctx, ticket)
	if err != nil {
		return nil, fmt.Errorf("resolve sla targets: %w", err)
	}
	ticket = due.Apply(ticket)

	event := &domain.AuditEvent{
		ActorID: actor.ID,
		Action:  domain.AuditTicketCreated,
		Data: map[string]any{
			"status":           ticket.Status,
			"priority":         ticket.Priority,
			"firstResponseDue": ticket.FirstResponseDue,
			"resolveDue":       ticket.ResolveDue,
		},
		CreatedAt: now,
	}
	res, err := s.tickets.Create(ctx, ticket, event)
	if err != nil {
		return nil, err
	}
	if res.AuditErr != nil {
		s.retryAudit(ctx, event, res.AuditErr)
	}
	created := res.Ticket

	s.schedule(ctx, created)
	s.publishEvent(ctx, events.Event{
		Type:           events.EventTicketCreated,
		TicketID:       created.ID,
		OrganizationID: created.OrganizationID,
		Actor:          actor,
		Payload:        events.TicketChangedPayload{Ticket: created},
	})
	return created, nil
}

// GetTicket returns a ticket visible to actor. Requesters only see their own tickets;
// anything else is reported as not found.
func (s *TicketService) GetTicket(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, actor.OrganizationID, ticketID)
	if err != nil {
		return nil, err
	}
	if actor.Role == domain.RoleRequester && ticket.RequesterID != actor.ID {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}

// ListAudit returns the audit trail of a ticket visible to actor.
func (s *TicketService) ListAudit(ctx context.Context, actor domain.Actor, ticketID string) ([]domain.AuditEvent, error) {
	ticket, err := s.GetTicket(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}
	return s.audit.ListByTicket(ctx, ticket.ID)
}

// UpdateTicket applies a status/priority/assignment change requested by actor.
func (s *TicketService) UpdateTicket(ctx context.Context, actor domain.Actor, ticketID string, req lifecycle.Request) (*domain.Ticket, error) {
	ticket, err := s.GetTicket(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}
	if actor.Role.Staff() {
		if err := s.validateAssignees(ctx, actor.OrganizationID, req.AssigneeUserID, req.AssigneeTeamID); err != nil {
			return nil, err
		}
	}

	out, err := s.applyChange(ctx, ticket, req, actor, domain.AuditTicketUpdated, nil)
	if err != nil {
		return nil, err
	}
	if !out.noOp() {
		s.publishUpdated(ctx, actor, out)
	}
	return out.ticket, nil
}

// RecordFirstResponse stamps firstResponseAt once; later calls return the ticket unchanged.
func (s *TicketService) RecordFirstResponse(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	if !actor.Role.Staff() {
		return nil, apperrors.NewForbidden("only agents can record a first response")
	}
	for attempt := 0; ; attempt++ {
		ticket, err := s.tickets.GetByID(ctx, actor.OrganizationID, ticketID)
		if err != nil {
			return nil, err
		}
		if ticket.FirstResponseAt != nil {
			return ticket, nil
		}

		now := s.now().UTC()
		patch := domain.TicketPatch{FirstResponseAt: domain.Some(&now)}
		changes := patch.Diff(ticket)
		event := &domain.AuditEvent{
			TicketID:  ticket.ID,
			ActorID:   actor.ID,
			Action:    domain.AuditFirstResponse,
			Data:      changes.AuditData(),
			CreatedAt: now,
		}
		res, err := s.tickets.UpdateWithAudit(ctx, ticket.OrganizationID, ticket.ID, ticket.UpdatedAt, patch, event)
		if errors.Is(err, repository.ErrStaleTicket) && attempt < maxStaleRetries {
			continue
		}
		if err != nil {
			return nil, err
		}
		if res.AuditErr != nil {
			s.retryAudit(ctx, event, res.AuditErr)
		}
		s.publishUpdated(ctx, actor, changeOutcome{previous: ticket, ticket: res.Ticket, changes: changes})
		return res.Ticket, nil
	}
}

// ApplyAutomation applies matched rule actions as the system actor. Each action is checked
// against the organization and the lifecycle on top of the ones before it; a rule naming a
// missing or inactive assignee, or asking for a transition that is refused, is dropped and
// the rest still apply. The result is not published, so automation never triggers further
// automation.
func (s *TicketService) ApplyAutomation(ctx context.Context, organizationID, ticketID string, actions []automation.RuleAction) error {
	ticket, err := s.tickets.GetByID(ctx, organizationID, ticketID)
	if err != nil {
		return err
	}
	system := domain.SystemActor(organizationID)
	now := s.now().UTC()

	var req lifecycle.Request
	var ruleIDs []string
	for _, action := range actions {
		candidate := req.Merge(action.Request)
		err := s.validateAssignees(ctx, organizationID, action.Request.AssigneeUserID, action.Request.AssigneeTeamID)
		if err == nil {
			_, err = s.lifecycle.ApplyTransition(ticket, candidate, system, now)
		}
		if err != nil {
			if apperrors.ToDomainError(err).HTTPStatus >= 500 {
				return err
			}
			s.logger.Warn("skipping automation rule",
				zap.String("rule_id", action.RuleID),
				zap.String("ticket_id", ticketID),
				zap.String("organization_id", organizationID),
				zap.Error(err))
			continue
		}
		req = candidate
		ruleIDs = append(ruleIDs, action.RuleID)
	}
	if len(ruleIDs) == 0 {
		return nil
	}

	out, err := s.applyChange(ctx, ticket, req, system, domain.AuditAutomationApplied,
		map[string]any{"ruleIds": ruleIDs})
	if err != nil {
		return err
	}
	if !out.noOp() {
		s.logger.Info("automation applied",
			zap.String("ticket_id", ticketID),
			zap.String("organization_id", organizationID),
			zap.Strings("rule_ids", ruleIDs))
	}
	return nil
}

type changeOutcome struct {
	previous *domain.Ticket
	ticket   *domain.Ticket
	changes  domain.ChangeSet
}

func (o changeOutcome) noOp() bool {
	return len(o.changes) == 0
}

// applyChange runs the lifecycle, persists the patch with its audit event and performs the
// post-commit SLA and CSAT work. Those follow-ups are logged on failure, never returned.
// When another write lands between the read and the update, the change is recomputed
// from the fresh row so the decision never rests on a stale snapshot.
func (s *TicketService) applyChange(ctx context.Context, ticket *domain.Ticket, req lifecycle.Request, actor domain.Actor, action string, extra map[string]any) (changeOutcome, error) {
	out, err := s.commitChange(ctx, ticket, req, actor, action, extra)
	for attempt := 0; errors.Is(err, repository.ErrStaleTicket) && attempt < maxStaleRetries; attempt++ {
		s.logger.Debug("ticket changed concurrently, recomputing",
			zap.String("ticket_id", ticket.ID),
			zap.String("organization_id", ticket.OrganizationID))
		fresh, getErr := s.tickets.GetByID(ctx, ticket.OrganizationID, ticket.ID)
		if getErr != nil {
			return changeOutcome{}, getErr
		}
		out, err = s.commitChange(ctx, fresh, req, actor, action, extra)
	}
	if err != nil || out.noOp() {
		return out, err
	}

	if out.changes.Has(domain.FieldStatus) || out.changes.DueDatesChanged() {
		s.schedule(ctx, out.ticket)
	}
	if out.changes.Has(domain.FieldStatus) && s.csat != nil {
		if err := s.csat.Trigger(ctx, out.previous, out.ticket); err != nil {
			s.logger.Warn("csat trigger failed",
				zap.String("ticket_id", ticket.ID),
				zap.String("organization_id", ticket.OrganizationID),
				zap.Error(err))
		}
	}
	return out, nil
}

func (s *TicketService) commitChange(ctx context.Context, ticket *domain.Ticket, req lifecycle.Request, actor domain.Actor, action string, extra map[string]any) (changeOutcome, error) {
	now := s.now().UTC()
	result, err := s.lifecycle.ApplyTransition(ticket, req, actor, now)
	if err != nil {
		return changeOutcome{}, err
	}

	patch := result.Patch
	if result.Changes.Has(domain.FieldPriority) {
		due, err := s.resolver.DueDates(ctx, result.Ticket)
		if err != nil {
			return changeOutcome{}, fmt.Errorf("resolve sla targets: %w", err)
		}
		patch.Merge(due)
	}
	changes := patch.Diff(ticket)
	if len(changes) == 0 {
		return changeOutcome{previous: ticket, ticket: ticket}, nil
	}

	data := changes.AuditData()
	for k, v := range extra {
		data[k] = v
	}
	if changes.Has(domain.FieldStatus) && req.Status.Value == domain.TicketStatusReopened {
		data["reopenReason"] = strings.TrimSpace(req.ReopenReason)
	}
	event := &domain.AuditEvent{
		TicketID:  ticket.ID,
		ActorID:   actor.ID,
		Action:    action,
		Data:      data,
		CreatedAt: now,
	}
	res, err := s.tickets.UpdateWithAudit(ctx, ticket.OrganizationID, ticket.ID, ticket.UpdatedAt, patch, event)
	if err != nil {
		return changeOutcome{}, err
	}
	if res.AuditErr != nil {
		s.retryAudit(ctx, event, res.AuditErr)
	}
	return changeOutcome{previous: ticket, ticket: res.Ticket, changes: changes}, nil
}

func (s *TicketService) validateAssignees(ctx context.Context, organizationID string, userID, teamID domain.Optional[*string]) error {
	if userID.Set && userID.Value != nil {
		user, err := s.users.GetByID(ctx, organizationID, *userID.Value)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return apperrors.NewValidationError("assignee not found", map[string]any{"assigneeUserId": *userID.Value})
			}
			return err
		}
		if !user.Active || !user.Role.Staff() {
			return apperrors.NewValidationError("assignee must be an active agent or admin", map[string]any{"assigneeUserId": user.ID})
		}
	}
	if teamID.Set && teamID.Value != nil {
		team, err := s.teams.GetByID(ctx, organizationID, *teamID.Value)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return apperrors.NewValidationError("team not found", map[string]any{"assigneeTeamId": *teamID.Value})
			}
			return err
		}
		if !team.IsActive {
			return apperrors.NewValidationError("team inactive", map[string]any{"assigneeTeamId": team.ID})
		}
	}
	return nil
}

func (s *TicketService) schedule(ctx context.Context, ticket *domain.Ticket) {
	if s.scheduler == nil {
		return
	}
	if _, err := s.scheduler.Schedule(ctx, ticket); err != nil {
		s.logger.Error("sla scheduling failed",
			zap.String("ticket_id", ticket.ID),
			zap.String("organization_id", ticket.OrganizationID),
			zap.Error(err))
	}
}

// retryAudit writes an audit event whose transactional insert failed. The ticket change
// is already committed and stays committed either way.
func (s *TicketService) retryAudit(ctx context.Context, event *domain.AuditEvent, cause error) {
	s.logger.Warn("audit write failed with ticket update, retrying",
		zap.String("ticket_id", event.TicketID),
		zap.String("action", event.Action),
		zap.Error(cause))
	if err := s.audit.Append(ctx, event); err != nil {
		s.logger.Error("audit event lost",
			zap.String("ticket_id", event.TicketID),
			zap.String("action", event.Action),
			zap.Any("data", event.Data),
			zap.Error(err))
	}
}

func (s *TicketService) publishUpdated(ctx context.Context, actor domain.Actor, out changeOutcome) {
	s.publishEvent(ctx, events.Event{
		Type:           events.EventTicketUpdated,
		TicketID:       out.ticket.ID,
		OrganizationID: out.ticket.OrganizationID,
		Actor:          actor,
		Payload:        events.TicketChangedPayload{Ticket: out.ticket, Previous: out.previous, Changes: out.changes},
	})
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func optionalPtr(v *string) domain.Optional[*string] {
	if v == nil {
		return domain.Optional[*string]{}
	}
	return domain.Some(v)
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func dedupeStrings(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
