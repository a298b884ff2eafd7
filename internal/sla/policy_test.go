package sla

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

func TestResolverPrefersOrganizationPolicy(t *testing.T) {
	policies := &stubPolicies{policy: &domain.SlaPolicy{FirstResponseHours: 2, ResolveHours: 6}}
	targets, err := NewResolver(policies, nil).Targets(context.Background(), "org-1", domain.TicketPriorityHigh, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SlaTargets{FirstResponseHours: 2, ResolveHours: 6}, targets)
	assert.Equal(t, 1, policies.calls)
}

func TestResolverFallsBackToDefaults(t *testing.T) {
	targets, err := NewResolver(&stubPolicies{}, nil).Targets(context.Background(), "org-1", domain.TicketPriorityUrgent, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SlaTargets{FirstResponseHours: 1, ResolveHours: 4}, targets)

	_, err = NewResolver(&stubPolicies{err: errors.New("boom")}, nil).Targets(context.Background(), "org-1", domain.TicketPriorityLow, nil)
	require.Error(t, err)
}

func TestParseDefaultTargets(t *testing.T) {
	defaults, err := ParseDefaultTargets([]byte(`
URGENT:
  first_response_hours: 2
  resolve_hours: 8
`))
	require.NoError(t, err)
	assert.Equal(t, domain.SlaTargets{FirstResponseHours: 2, ResolveHours: 8}, defaults[domain.TicketPriorityUrgent])
	assert.Equal(t, BuiltinDefaults()[domain.TicketPriorityLow], defaults[domain.TicketPriorityLow])

	_, err = ParseDefaultTargets([]byte("CRITICAL:\n  first_response_hours: 1\n  resolve_hours: 2\n"))
	require.Error(t, err)

	_, err = ParseDefaultTargets([]byte("LOW:\n  first_response_hours: 0\n  resolve_hours: 2\n"))
	require.Error(t, err)
}

func TestComputeDueDatesIncludesPauseAndSkipsMetTargets(t *testing.T) {
	created := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	ticket := &domain.Ticket{CreatedAt: created, SlaPauseTotalSeconds: 1800}

	patch := ComputeDueDates(ticket, domain.SlaTargets{FirstResponseHours: 4, ResolveHours: 24})
	require.True(t, patch.FirstResponseDue.Set)
	assert.True(t, patch.FirstResponseDue.Value.Equal(created.Add(4*time.Hour+30*time.Minute)))
	assert.True(t, patch.ResolveDue.Value.Equal(created.Add(24*time.Hour+30*time.Minute)))

	ticket.FirstResponseAt = &created
	patch = ComputeDueDates(ticket, domain.SlaTargets{FirstResponseHours: 4, ResolveHours: 24})
	assert.False(t, patch.FirstResponseDue.Set)
	assert.True(t, patch.ResolveDue.Set)
}
