package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

func TestDeriveSlaPauseUpdates(t *testing.T) {
	t.Run("entering waiting stamps pause", func(t *testing.T) {
		patch := DeriveSlaPauseUpdates(newTicket(domain.TicketStatusInProgress), domain.TicketStatusWaitingOnUser, baseTime)
		require.True(t, patch.SlaPausedAt.Set)
		assert.True(t, patch.SlaPausedAt.Value.Equal(baseTime))
		assert.False(t, patch.SlaPauseTotalSeconds.Set)
	})

	t.Run("leaving waiting accumulates", func(t *testing.T) {
		ticket := newTicket(domain.TicketStatusWaitingOnUser)
		ticket.SlaPausedAt = timePtr(baseTime.Add(-90 * time.Second))
		ticket.SlaPauseTotalSeconds = 30
		patch := DeriveSlaPauseUpdates(ticket, domain.TicketStatusInProgress, baseTime)
		require.True(t, patch.SlaPausedAt.Set)
		assert.Nil(t, patch.SlaPausedAt.Value)
		assert.Equal(t, int64(120), patch.SlaPauseTotalSeconds.Value)
	})

	t.Run("unrelated transition untouched", func(t *testing.T) {
		patch := DeriveSlaPauseUpdates(newTicket(domain.TicketStatusNew), domain.TicketStatusOnHold, baseTime)
		assert.Equal(t, domain.TicketPatch{}, patch)
	})

	t.Run("already paused is not restamped", func(t *testing.T) {
		ticket := newTicket(domain.TicketStatusOnHold)
		ticket.SlaPausedAt = timePtr(baseTime.Add(-time.Hour))
		patch := DeriveSlaPauseUpdates(ticket, domain.TicketStatusWaitingOnUser, baseTime)
		assert.False(t, patch.SlaPausedAt.Set)
	})
}

func TestPauseRoundTripExtendsDueDates(t *testing.T) {
	lc := New(DefaultReopenPolicy())
	due := baseTime.Add(time.Hour)
	ticket := newTicket(domain.TicketStatusInProgress)
	ticket.FirstResponseDue = timePtr(due.Add(-30 * time.Minute))
	ticket.FirstResponseAt = timePtr(baseTime.Add(-time.Hour))
	ticket.ResolveDue = timePtr(due)

	paused, err := lc.ApplyTransition(ticket, statusRequest(domain.TicketStatusWaitingOnUser), agent, baseTime)
	require.NoError(t, err)
	require.NotNil(t, paused.Ticket.SlaPausedAt)

	d := 20 * time.Minute
	resumed, err := lc.ApplyTransition(paused.Ticket, statusRequest(domain.TicketStatusInProgress), agent, baseTime.Add(d))
	require.NoError(t, err)

	assert.Nil(t, resumed.Ticket.SlaPausedAt)
	assert.Equal(t, int64(d/time.Second), resumed.Ticket.SlaPauseTotalSeconds)
	assert.True(t, resumed.Ticket.ResolveDue.Equal(due.Add(d)))
	// Met targets keep their due date.
	assert.True(t, resumed.Ticket.FirstResponseDue.Equal(due.Add(-30*time.Minute)))
	assert.True(t, resumed.Changes.DueDatesChanged())
}
