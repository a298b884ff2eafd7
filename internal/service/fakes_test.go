package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

type stubAudit struct {
	mu         sync.Mutex
	events     []domain.AuditEvent
	failAppend bool
}

func (s *stubAudit) Append(_ context.Context, event *domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend {
		return errors.New("audit store down")
	}
	event.ID = uuid.NewString()
	s.events = append(s.events, *event)
	return nil
}

func (s *stubAudit) AppendIdempotent(ctx context.Context, event *domain.AuditEvent) (bool, error) {
	return true, s.Append(ctx, event)
}

func (s *stubAudit) ListByTicket(_ context.Context, ticketID string) ([]domain.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEvent
	for _, e := range s.events {
		if e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *stubAudit) actions(ticketID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.TicketID == ticketID {
			out = append(out, e.Action)
		}
	}
	return out
}

type stubTickets struct {
	mu      sync.Mutex
	tickets map[string]*domain.Ticket
	audit   *stubAudit
	// failAudit makes the in-transaction audit insert fail while the update commits.
	failAudit bool
	failIDs   map[string]bool
	// beforeUpdate runs once ahead of the next UpdateWithAudit, standing in for a write
	// that lands between the caller's read and its update.
	beforeUpdate func()
}

func newStubTickets(audit *stubAudit) *stubTickets {
	return &stubTickets{tickets: map[string]*domain.Ticket{}, audit: audit, failIDs: map[string]bool{}}
}

func (s *stubTickets) put(t *domain.Ticket) *domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.tickets[t.ID] = t.Clone()
	return t
}

func (s *stubTickets) get(id string) *domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickets[id].Clone()
}

func (s *stubTickets) writeAudit(ctx context.Context, event *domain.AuditEvent) error {
	if s.failAudit {
		return errors.New("savepoint failed")
	}
	return s.audit.Append(ctx, event)
}

func (s *stubTickets) Create(ctx context.Context, ticket *domain.Ticket, audit *domain.AuditEvent) (repository.UpdateResult, error) {
	created := s.put(ticket.Clone())
	var auditErr error
	if audit != nil {
		audit.TicketID = created.ID
		auditErr = s.writeAudit(ctx, audit)
	}
	return repository.UpdateResult{Ticket: created.Clone(), AuditErr: auditErr}, nil
}

func (s *stubTickets) GetByID(_ context.Context, organizationID, ticketID string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok || t.OrganizationID != organizationID {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return t.Clone(), nil
}

func (s *stubTickets) GetManyByIDs(_ context.Context, organizationID string, ticketIDs []string) (map[string]*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]*domain.Ticket{}
	for _, id := range ticketIDs {
		if t, ok := s.tickets[id]; ok && t.OrganizationID == organizationID {
			out[id] = t.Clone()
		}
	}
	return out, nil
}

func (s *stubTickets) UpdateWithAudit(ctx context.Context, organizationID, ticketID string, readAt time.Time, patch domain.TicketPatch, audit *domain.AuditEvent) (repository.UpdateResult, error) {
	s.mu.Lock()
	hook := s.beforeUpdate
	s.beforeUpdate = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	t, ok := s.tickets[ticketID]
	if !ok || t.OrganizationID != organizationID {
		s.mu.Unlock()
		return repository.UpdateResult{}, apperrors.NewNotFound("ticket", nil)
	}
	if s.failIDs[ticketID] {
		s.mu.Unlock()
		return repository.UpdateResult{}, errors.New("connection reset")
	}
	if !t.UpdatedAt.Equal(readAt) {
		s.mu.Unlock()
		return repository.UpdateResult{}, repository.ErrStaleTicket
	}
	updated := patch.Apply(t)
	updated.UpdatedAt = t.UpdatedAt.Add(time.Microsecond)
	s.tickets[ticketID] = updated.Clone()
	s.mu.Unlock()

	var auditErr error
	if audit != nil {
		auditErr = s.writeAudit(ctx, audit)
	}
	return repository.UpdateResult{Ticket: updated, AuditErr: auditErr}, nil
}

type stubUsers struct {
	users map[string]*domain.User
}

func (s *stubUsers) GetByID(_ context.Context, organizationID, userID string) (*domain.User, error) {
	u, ok := s.users[userID]
	if !ok || u.OrganizationID != organizationID {
		return nil, apperrors.NewNotFound("user", nil)
	}
	copied := *u
	return &copied, nil
}

type stubTeams struct {
	teams map[string]*domain.Team
}

func (s *stubTeams) GetByID(_ context.Context, organizationID, teamID string) (*domain.Team, error) {
	t, ok := s.teams[teamID]
	if !ok || t.OrganizationID != organizationID {
		return nil, apperrors.NewNotFound("team", nil)
	}
	copied := *t
	return &copied, nil
}

type stubCsat struct {
	mu   sync.Mutex
	rows map[string]*domain.CsatRequest
}

func newStubCsat() *stubCsat {
	return &stubCsat{rows: map[string]*domain.CsatRequest{}}
}

func (s *stubCsat) GetByTicketID(_ context.Context, ticketID string) (*domain.CsatRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[ticketID]
	if !ok {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

func (s *stubCsat) CreateIfAbsent(_ context.Context, req *domain.CsatRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[req.TicketID]; ok {
		return false, nil
	}
	req.ID = uuid.NewString()
	req.CreatedAt = time.Now()
	copied := *req
	s.rows[req.TicketID] = &copied
	return true, nil
}

func (s *stubCsat) RecordResponse(_ context.Context, ticketID string, rating int, comment *string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[ticketID]
	if !ok || row.RespondedAt != nil {
		return false, nil
	}
	row.Rating = &rating
	row.Comment = comment
	row.RespondedAt = &at
	return true, nil
}

func (s *stubCsat) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type stubNotifier struct {
	mu   sync.Mutex
	sent []domain.NotificationMessage
	err  error
}

func (s *stubNotifier) Send(_ context.Context, msg domain.NotificationMessage) (domain.DeliveryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.DeliveryResult{}, s.err
	}
	s.sent = append(s.sent, msg)
	return domain.DeliveryResult{ID: uuid.NewString(), Status: domain.DeliverySent}, nil
}

type stubQueue struct {
	mu   sync.Mutex
	jobs map[string]domain.SlaJob
}

func (s *stubQueue) Enqueue(_ context.Context, job domain.SlaJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs == nil {
		s.jobs = map[string]domain.SlaJob{}
	}
	s.jobs[job.JobID] = job
	return nil
}

func (s *stubQueue) ids() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]bool{}
	for id := range s.jobs {
		out[id] = true
	}
	return out
}

type recordingDispatcher struct {
	mu        sync.Mutex
	published []events.Event
}

func (d *recordingDispatcher) Publish(_ context.Context, event events.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.published = append(d.published, event)
	return nil
}

func (d *recordingDispatcher) Subscribe(events.EventType, events.EventHandler) {}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.published)
}

type stubNotifications struct {
	prefs map[string]*domain.NotificationPreference
}

func (s *stubNotifications) Create(context.Context, *domain.Notification) error { return nil }

func (s *stubNotifications) GetPreference(_ context.Context, userID string) (*domain.NotificationPreference, error) {
	pref, ok := s.prefs[userID]
	if !ok {
		return nil, nil
	}
	copied := *pref
	return &copied, nil
}

func (s *stubNotifications) UpsertPreference(_ context.Context, pref *domain.NotificationPreference) error {
	copied := *pref
	s.prefs[pref.UserID] = &copied
	return nil
}
