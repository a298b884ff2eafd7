package sla

import (
	"context"
	"fmt"
	"sync"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

type stubTickets struct {
	mu      sync.Mutex
	tickets map[string]*domain.Ticket
	err     error
}

func newStubTickets(tickets ...*domain.Ticket) *stubTickets {
	s := &stubTickets{tickets: make(map[string]*domain.Ticket)}
	for _, t := range tickets {
		s.tickets[t.ID] = t
	}
	return s
}

func (s *stubTickets) GetByID(_ context.Context, organizationID, ticketID string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	t, ok := s.tickets[ticketID]
	if !ok || t.OrganizationID != organizationID {
		return nil, apperrors.NewNotFound("ticket", nil)
	}
	return t.Clone(), nil
}

type stubAudit struct {
	mu     sync.Mutex
	events []domain.AuditEvent
	byKey  map[string]string
	err    error
}

func newStubAudit() *stubAudit {
	return &stubAudit{byKey: make(map[string]string)}
}

func (s *stubAudit) AppendIdempotent(_ context.Context, event *domain.AuditEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if event.IdempotencyKey != nil {
		if id, ok := s.byKey[*event.IdempotencyKey]; ok {
			event.ID = id
			return false, nil
		}
	}
	event.ID = fmt.Sprintf("audit-%d", len(s.events)+1)
	if event.IdempotencyKey != nil {
		s.byKey[*event.IdempotencyKey] = event.ID
	}
	s.events = append(s.events, *event)
	return true, nil
}

func (s *stubAudit) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type stubNotifier struct {
	mu        sync.Mutex
	delivered []domain.NotificationMessage
	byKey     map[string]string
	err       error
}

func newStubNotifier() *stubNotifier {
	return &stubNotifier{byKey: make(map[string]string)}
}

func (s *stubNotifier) Send(_ context.Context, msg domain.NotificationMessage) (domain.DeliveryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.DeliveryResult{}, s.err
	}
	if id, ok := s.byKey[msg.IdempotencyKey]; ok {
		return domain.DeliveryResult{ID: id, Status: domain.DeliverySent, Deduped: true}, nil
	}
	id := fmt.Sprintf("n-%d", len(s.delivered)+1)
	s.byKey[msg.IdempotencyKey] = id
	s.delivered = append(s.delivered, msg)
	return domain.DeliveryResult{ID: id, Status: domain.DeliverySent}, nil
}

func (s *stubNotifier) sent() []domain.NotificationMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.NotificationMessage(nil), s.delivered...)
}

type stubQueue struct {
	mu   sync.Mutex
	jobs map[string]domain.SlaJob
	err  error
}

func newStubQueue() *stubQueue {
	return &stubQueue{jobs: make(map[string]domain.SlaJob)}
}

func (s *stubQueue) Enqueue(_ context.Context, job domain.SlaJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, ok := s.jobs[job.JobID]; !ok {
		s.jobs[job.JobID] = job
	}
	return nil
}

type stubPolicies struct {
	policy *domain.SlaPolicy
	err    error
	calls  int
}

func (s *stubPolicies) FindPolicy(context.Context, string, domain.TicketPriority, *string) (*domain.SlaPolicy, error) {
	s.calls++
	return s.policy, s.err
}
