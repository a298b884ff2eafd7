package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-lifecycle/internal/automation"
	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/lifecycle"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	"github.com/spec-kit/ticket-lifecycle/internal/sla"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

var (
	requester      = domain.Actor{ID: "requester-1", OrganizationID: "org-1", Role: domain.RoleRequester}
	otherRequester = domain.Actor{ID: "requester-2", OrganizationID: "org-1", Role: domain.RoleRequester}
	agent          = domain.Actor{ID: "agent-1", OrganizationID: "org-1", Role: domain.RoleAgent}
)

type harness struct {
	svc        *TicketService
	csat       *CsatService
	tickets    *stubTickets
	audit      *stubAudit
	queue      *stubQueue
	notifier   *stubNotifier
	csatRows   *stubCsat
	dispatcher *recordingDispatcher
	clock      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{clock: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	h.audit = &stubAudit{}
	h.tickets = newStubTickets(h.audit)
	h.queue = &stubQueue{}
	h.notifier = &stubNotifier{}
	h.csatRows = newStubCsat()
	h.dispatcher = &recordingDispatcher{}

	users := &stubUsers{users: map[string]*domain.User{
		"requester-1": {ID: "requester-1", OrganizationID: "org-1", Email: "r1@example.com", Role: domain.RoleRequester, Active: true},
		"requester-2": {ID: "requester-2", OrganizationID: "org-1", Email: "r2@example.com", Role: domain.RoleRequester, Active: true},
		"agent-1":     {ID: "agent-1", OrganizationID: "org-1", Role: domain.RoleAgent, Active: true},
		"agent-off":   {ID: "agent-off", OrganizationID: "org-1", Role: domain.RoleAgent, Active: false},
	}}
	teams := &stubTeams{teams: map[string]*domain.Team{
		"team-1": {ID: "team-1", OrganizationID: "org-1", IsActive: true},
	}}

	h.csat = NewCsatService(CsatDependencies{
		CsatRepo:  h.csatRows,
		UserRepo:  users,
		AuditRepo: h.audit,
		Notifier:  h.notifier,
		Config:    config.CSATConfig{Secret: "csat-secret", ValidityDays: 30, BaseURL: "https://help.example.com"},
	})
	h.csat.now = func() time.Time { return h.clock }

	h.svc = NewTicketService(TicketDependencies{
		TicketRepo: h.tickets,
		AuditRepo:  h.audit,
		UserRepo:   users,
		TeamRepo:   teams,
		Lifecycle:  lifecycle.New(lifecycle.DefaultReopenPolicy()),
		Resolver:   sla.NewResolver(nil, nil),
		Scheduler:  sla.NewScheduler(h.queue, sla.SchedulerConfig{}, nil),
		Csat:       h.csat,
		Dispatcher: h.dispatcher,
		Metrics:    observability.NewMetrics(),
	})
	h.svc.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) seed(mutate func(*domain.Ticket)) *domain.Ticket {
	createdAt := h.clock.Add(-time.Hour)
	frDue := createdAt.Add(8 * time.Hour)
	resDue := createdAt.Add(48 * time.Hour)
	ticket := &domain.Ticket{
		OrganizationID:   "org-1",
		RequesterID:      "requester-1",
		Title:            "VPN drops every hour",
		Status:           domain.TicketStatusNew,
		Priority:         domain.TicketPriorityMedium,
		CreatedAt:        createdAt,
		FirstResponseDue: &frDue,
		ResolveDue:       &resDue,
	}
	if mutate != nil {
		mutate(ticket)
	}
	return h.tickets.put(ticket)
}

func ptr[T any](v T) *T { return &v }

func TestCreateTicketSeedsDueDatesAndSchedules(t *testing.T) {
	h := newHarness(t)

	ticket, err := h.svc.CreateTicket(context.Background(), requester, TicketCreateInput{
		Title:    "  Printer on fire ",
		Priority: domain.TicketPriorityUrgent,
		Tags:     []string{"hardware", "hardware", " "},
	})
	require.NoError(t, err)

	assert.Equal(t, "Printer on fire", ticket.Title)
	assert.Equal(t, domain.TicketStatusNew, ticket.Status)
	assert.Equal(t, "requester-1", ticket.RequesterID)
	assert.Equal(t, []string{"hardware"}, ticket.Tags)
	require.NotNil(t, ticket.FirstResponseDue)
	require.NotNil(t, ticket.ResolveDue)
	assert.True(t, ticket.FirstResponseDue.Equal(h.clock.Add(time.Hour)))
	assert.True(t, ticket.ResolveDue.Equal(h.clock.Add(4*time.Hour)))

	ids := h.queue.ids()
	assert.True(t, ids[domain.SlaJobID(ticket.ID, domain.SlaJobFirstResponse, h.clock.Add(time.Hour))])
	assert.True(t, ids[domain.SlaJobID(ticket.ID, domain.SlaJobResolve, h.clock.Add(4*time.Hour))])
	assert.Equal(t, []string{domain.AuditTicketCreated}, h.audit.actions(ticket.ID))
	assert.Equal(t, 1, h.dispatcher.count())
}

func TestCreateTicketRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateTicket(ctx, requester, TicketCreateInput{Title: ""})
	assert.True(t, apperrors.HasCode(err, "VALIDATION_FAILED"))

	_, err = h.svc.CreateTicket(ctx, requester, TicketCreateInput{Title: "x", Priority: "CRITICAL"})
	assert.True(t, apperrors.HasCode(err, "VALIDATION_FAILED"))

	_, err = h.svc.CreateTicket(ctx, requester, TicketCreateInput{Title: "x", AssigneeUserID: ptr("agent-1")})
	assert.True(t, apperrors.HasCode(err, "FORBIDDEN"))

	_, err = h.svc.CreateTicket(ctx, agent, TicketCreateInput{Title: "x", AssigneeUserID: ptr("agent-off")})
	assert.True(t, apperrors.HasCode(err, "VALIDATION_FAILED"))

	onBehalf, err := h.svc.CreateTicket(ctx, agent, TicketCreateInput{Title: "x", RequesterID: ptr("requester-2"), AssigneeTeamID: ptr("team-1")})
	require.NoError(t, err)
	assert.Equal(t, "requester-2", onBehalf.RequesterID)
	assert.Equal(t, "team-1", *onBehalf.AssigneeTeamID)
}

func TestRequesterMayCloseButNotProgress(t *testing.T) {
	h := newHarness(t)
	ticket := h.seed(nil)
	ctx := context.Background()

	_, err := h.svc.UpdateTicket(ctx, requester, ticket.ID, lifecycle.Request{Status: domain.Some(domain.TicketStatusInProgress)})
	assert.True(t, apperrors.HasCode(err, "FORBIDDEN"))

	closed, err := h.svc.UpdateTicket(ctx, requester, ticket.ID, lifecycle.Request{Status: domain.Some(domain.TicketStatusClosed)})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	assert.Nil(t, closed.ResolvedAt)
}

func TestOtherRequestersTicketIsNotFound(t *testing.T) {
	h := newHarness(t)
	ticket := h.seed(nil)

	_, err := h.svc.UpdateTicket(context.Background(), otherRequester, ticket.ID, lifecycle.Request{Status: domain.Some(domain.TicketStatusClosed)})
	assert.True(t, apperrors.IsNotFound(err))

	foreign := domain.Actor{ID: "agent-9", OrganizationID: "org-2", Role: domain.RoleAgent}
	_, err = h.svc.GetTicket(context.Background(), foreign, ticket.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestReopenCooldownIsRateLimited(t *testing.T) {
	h := newHarness(t)
	resolvedAt := h.clock.Add(-5 * time.Minute)
	lastReopen := h.clock.Add(-10 * time.Minute)
	ticket := h.seed(func(t *domain.Ticket) {
		t.Status = domain.TicketStatusResolved
		t.ResolvedAt = &resolvedAt
		t.LastReopenedAt = &lastReopen
	})

	_, err := h.svc.UpdateTicket(context.Background(), agent, ticket.ID, lifecycle.Request{
		Status:       domain.Some(domain.TicketStatusReopened),
		ReopenReason: "customer reports the issue again",
	})
	require.Error(t, err)
	domainErr := apperrors.ToDomainError(err)
	assert.Equal(t, 429, domainErr.HTTPStatus)
	assert.Equal(t, 3000, domainErr.RetryAfter)
	assert.Equal(t, domain.TicketStatusResolved, h.tickets.get(ticket.ID).Status)
}

func TestReopenRecordsReasonInAudit(t *testing.T) {
	h := newHarness(t)
	resolvedAt := h.clock.Add(-time.Hour)
	ticket := h.seed(func(t *domain.Ticket) {
		t.Status = domain.TicketStatusResolved
		t.ResolvedAt = &resolvedAt
	})

	reopened, err := h.svc.UpdateTicket(context.Background(), requester, ticket.ID, lifecycle.Request{
		Status:       domain.Some(domain.TicketStatusReopened),
		ReopenReason: "The VPN still drops after the suggested fix was applied",
	})
	require.NoError(t, err)
	assert.Nil(t, reopened.ResolvedAt)
	require.NotNil(t, reopened.LastReopenedAt)

	trail, err := h.svc.ListAudit(context.Background(), requester, ticket.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "The VPN still drops after the suggested fix was applied", trail[0].Data["reopenReason"])
}

func TestPriorityChangeRecomputesDueDatesAndReschedules(t *testing.T) {
	h := newHarness(t)
	ticket := h.seed(func(t *domain.Ticket) { t.SlaPauseTotalSeconds = 600 })

	updated, err := h.svc.UpdateTicket(context.Background(), agent, ticket.ID, lifecycle.Request{Priority: domain.Some(domain.TicketPriorityUrgent)})
	require.NoError(t, err)

	wantFirst := ticket.CreatedAt.Add(time.Hour + 10*time.Minute)
	wantResolve := ticket.CreatedAt.Add(4*time.Hour + 10*time.Minute)
	assert.True(t, updated.FirstResponseDue.Equal(wantFirst))
	assert.True(t, updated.ResolveDue.Equal(wantResolve))

	ids := h.queue.ids()
	assert.True(t, ids[domain.SlaJobID(ticket.ID, domain.SlaJobFirstResponse, wantFirst)])
	assert.True(t, ids[domain.SlaJobID(ticket.ID, domain.SlaJobResolve, wantResolve)])

	trail, err := h.svc.ListAudit(context.Background(), agent, ticket.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Contains(t, trail[0].Data, domain.FieldPriority)
	assert.Contains(t, trail[0].Data, domain.FieldFirstResponseDue)
}

func TestNoOpUpdateWritesNothing(t *testing.T) {
	h := newHarness(t)
	ticket := h.seed(nil)

	same, err := h.svc.UpdateTicket(context.Background(), agent, ticket.ID, lifecycle.Request{Status: domain.Some(domain.TicketStatusNew)})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusNew, same.Status)
	assert.Empty(t, h.audit.actions(ticket.ID))
	assert.Empty(t, h.queue.ids())
	assert.Zero(t, h.dispatcher.count())
}

func TestAuditFailureDoesNotRollBackUpdate(t *testing.T) {
	h := newHarness(t)
	ticket := h.seed(nil)
	h.tickets.failAudit = true

	updated, err := h.svc.UpdateTicket(context.Background(), agent, ticket.ID, lifecycle.Request{Status: domain.Some(domain.TicketStatusInProgress)})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusInProgress, updated.Status)
	// Written by the retry outside the transaction.
	assert.Equal(t, []string{domain.AuditTicketUpdated}, h.audit.actions(ticket.ID))

	h.audit.failAppend = true
	updated, err = h.svc.UpdateTicket(context.Background(), agent, ticket.ID, lifecycle.Request{Status: domain.Some(domain.TicketStatusOnHold)})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOnHold, h.tickets.get(ticket.ID).Status)
	assert.Equal(t, domain.TicketStatusOnHold, updated.Status)
}

func TestPauseAndResumeExtendsDueDates(t *testing.T) {
	h := newHarness(t)
	ticket := h.seed(nil)
	ctx := context.Background()

	_, err := h.svc.UpdateTicket(ctx, agent, ticket.ID, lifecycle.Request{Status: domain.Some(domain.TicketStatusWaitingOnUser)})
	require.NoError(t, err)
	paused := h.tickets.get(ticket.ID)
	require.NotNil(t, paused.SlaPausedAt)

	h.clock = h.clock.Add(20 * time.Minute)
	resumed, err := h.svc.UpdateTicket(ctx, agent, ticket.ID, lifecycle.Request{Status: domain.Some(domain.TicketStatusInProgress)})
	require.NoError(t, err)
	assert.Nil(t, resumed.SlaPausedAt)
	assert.Equal(t, int64(1200), resumed.SlaPauseTotalSeconds)
	assert.True(t, resumed.ResolveDue.Equal(ticket.ResolveDue.Add(20*time.Minute)))
	assert.True(t, h.queue.ids()[domain.SlaJobID(ticket.ID, domain.SlaJobResolve, *resumed.ResolveDue)])
}

func TestRecordFirstResponseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ticket := h.seed(nil)
	ctx := context.Background()

	_, err := h.svc.RecordFirstResponse(ctx, requester, ticket.ID)
	assert.True(t, apperrors.HasCode(err, "FORBIDDEN"))

	first, err := h.svc.RecordFirstResponse(ctx, agent, ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, first.FirstResponseAt)

	h.clock = h.clock.Add(time.Hour)
	second, err := h.svc.RecordFirstResponse(ctx, agent, ticket.ID)
	require.NoError(t, err)
	assert.True(t, second.FirstResponseAt.Equal(*first.FirstResponseAt))
	assert.Equal(t, []string{domain.AuditFirstResponse}, h.audit.actions(ticket.ID))
}

func TestApplyAutomationUsesSystemActorAndDoesNotPublish(t *testing.T) {
	h := newHarness(t)
	ticket := h.seed(nil)

	err := h.svc.ApplyAutomation(context.Background(), "org-1", ticket.ID, []automation.RuleAction{
		{RuleID: "rule-1", Request: lifecycle.Request{Priority: domain.Some(domain.TicketPriorityHigh)}},
		{RuleID: "rule-2", Request: lifecycle.Request{AddTags: []string{"vip"}}},
	})
	require.NoError(t, err)

	stored := h.tickets.get(ticket.ID)
	assert.Equal(t, domain.TicketPriorityHigh, stored.Priority)
	assert.Equal(t, []string{"vip"}, stored.Tags)
	assert.Zero(t, h.dispatcher.count())

	trail, err := h.svc.ListAudit(context.Background(), agent, ticket.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.AuditAutomationApplied, trail[0].Action)
	assert.Equal(t, domain.SystemActorID, trail[0].ActorID)
	assert.Equal(t, []string{"rule-1", "rule-2"}, trail[0].Data["ruleIds"])
}

func TestApplyAutomationDropsRuleWithMissingAssignee(t *testing.T) {
	h := newHarness(t)
	ticket := h.seed(nil)

	err := h.svc.ApplyAutomation(context.Background(), "org-1", ticket.ID, []automation.RuleAction{
		{RuleID: "rule-1", Request: lifecycle.Request{AssigneeUserID: domain.Some(ptr("deleted-user"))}},
		{RuleID: "rule-2", Request: lifecycle.Request{AddTags: []string{"vip"}}},
		{RuleID: "rule-3", Request: lifecycle.Request{AssigneeTeamID: domain.Some(ptr("team-gone"))}},
		{RuleID: "rule-4", Request: lifecycle.Request{AssigneeUserID: domain.Some(ptr("agent-off"))}},
		{RuleID: "rule-5", Request: lifecycle.Request{AssigneeTeamID: domain.Some(ptr("team-1"))}},
	})
	require.NoError(t, err)

	stored := h.tickets.get(ticket.ID)
	assert.Nil(t, stored.AssigneeUserID)
	assert.Equal(t, []string{"vip"}, stored.Tags)
	require.NotNil(t, stored.AssigneeTeamID)
	assert.Equal(t, "team-1", *stored.AssigneeTeamID)

	trail, err := h.svc.ListAudit(context.Background(), agent, ticket.ID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, []string{"rule-2", "rule-5"}, trail[0].Data["ruleIds"])
}

func TestApplyAutomationDropsThrottledReopen(t *testing.T) {
	h := newHarness(t)
	resolvedAt := h.clock.Add(-5 * time.Minute)
	lastReopen := h.clock.Add(-10 * time.Minute)
	ticket := h.seed(func(t *domain.Ticket) {
		t.Status = domain.TicketStatusResolved
		t.ResolvedAt = &resolvedAt
		t.LastReopenedAt = &lastReopen
	})

	err := h.svc.ApplyAutomation(context.Background(), "org-1", ticket.ID, []automation.RuleAction{
		{RuleID: "rule-1", Request: lifecycle.Request{
			Status:       domain.Some(domain.TicketStatusReopened),
			ReopenReason: `automation rule "reopen on reply"`,
		}},
		{RuleID: "rule-2", Request: lifecycle.Request{Priority: domain.Some(domain.TicketPriorityHigh)}},
	})
	require.NoError(t, err)

	stored := h.tickets.get(ticket.ID)
	assert.Equal(t, domain.TicketStatusResolved, stored.Status)
	assert.Equal(t, domain.TicketPriorityHigh, stored.Priority)
}

func TestApplyAutomationWithNothingApplicableWritesNothing(t *testing.T) {
	h := newHarness(t)
	ticket := h.seed(nil)

	err := h.svc.ApplyAutomation(context.Background(), "org-1", ticket.ID, []automation.RuleAction{
		{RuleID: "rule-1", Request: lifecycle.Request{AssigneeUserID: domain.Some(ptr("deleted-user"))}},
	})
	require.NoError(t, err)
	assert.Nil(t, h.tickets.get(ticket.ID).AssigneeUserID)
	assert.Empty(t, h.audit.actions(ticket.ID))
}

func TestConcurrentCloseResumesPauseStampedByOtherWrite(t *testing.T) {
	h := newHarness(t)
	ticket := h.seed(nil)
	ctx := context.Background()

	// The agent's WAITING_ON_USER lands after the requester read the NEW ticket.
	h.tickets.beforeUpdate = func() {
		_, err := h.svc.UpdateTicket(ctx, agent, ticket.ID, lifecycle.Request{Status: domain.Some(domain.TicketStatusWaitingOnUser)})
		require.NoError(t, err)
	}
	closed, err := h.svc.UpdateTicket(ctx, requester, ticket.ID, lifecycle.Request{Status: domain.Some(domain.TicketStatusClosed)})
	require.NoError(t, err)

	stored := h.tickets.get(ticket.ID)
	assert.Equal(t, domain.TicketStatusClosed, closed.Status)
	assert.Equal(t, domain.TicketStatusClosed, stored.Status)
	assert.Nil(t, stored.SlaPausedAt)
	assert.Zero(t, stored.SlaPauseTotalSeconds)
	actions := h.audit.actions(ticket.ID)
	require.GreaterOrEqual(t, len(actions), 2)
	assert.Equal(t, []string{domain.AuditTicketUpdated, domain.AuditTicketUpdated}, actions[:2])

	// A later real pause only counts its own hour.
	h.clock = h.clock.Add(time.Hour)
	_, err = h.svc.UpdateTicket(ctx, agent, ticket.ID, lifecycle.Request{Status: domain.Some(domain.TicketStatusWaitingOnUser)})
	require.NoError(t, err)
	h.clock = h.clock.Add(time.Hour)
	resumed, err := h.svc.UpdateTicket(ctx, agent, ticket.ID, lifecycle.Request{Status: domain.Some(domain.TicketStatusInProgress)})
	require.NoError(t, err)
	assert.Equal(t, int64(3600), resumed.SlaPauseTotalSeconds)
}

func TestRepeatedConcurrentWritesSurfaceConflict(t *testing.T) {
	h := newHarness(t)
	ticket := h.seed(nil)
	ctx := context.Background()

	bump := func() {
		current := h.tickets.get(ticket.ID)
		current.UpdatedAt = current.UpdatedAt.Add(time.Second)
		h.tickets.put(current)
	}
	h.tickets.beforeUpdate = func() {
		bump()
		h.tickets.beforeUpdate = bump
	}

	_, err := h.svc.UpdateTicket(ctx, agent, ticket.ID, lifecycle.Request{Priority: domain.Some(domain.TicketPriorityHigh)})
	assert.True(t, apperrors.HasCode(err, "CONFLICT"))
	assert.Equal(t, domain.TicketPriorityMedium, h.tickets.get(ticket.ID).Priority)
	assert.Empty(t, h.audit.actions(ticket.ID))
}

func TestRecordFirstResponseRetriesAfterConcurrentWrite(t *testing.T) {
	h := newHarness(t)
	ticket := h.seed(nil)
	ctx := context.Background()

	h.tickets.beforeUpdate = func() {
		_, err := h.svc.UpdateTicket(ctx, agent, ticket.ID, lifecycle.Request{Priority: domain.Some(domain.TicketPriorityHigh)})
		require.NoError(t, err)
	}
	responded, err := h.svc.RecordFirstResponse(ctx, agent, ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, responded.FirstResponseAt)
	assert.Equal(t, domain.TicketPriorityHigh, responded.Priority)
}
