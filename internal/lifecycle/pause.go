package lifecycle

import (
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// DeriveSlaPauseUpdates computes the pause bookkeeping for moving ticket to next.
// Entering WAITING_ON_USER stamps slaPausedAt; leaving it folds the elapsed time into
// slaPauseTotalSeconds and clears slaPausedAt. Other transitions return an empty patch.
func DeriveSlaPauseUpdates(ticket *domain.Ticket, next domain.TicketStatus, now time.Time) domain.TicketPatch {
	var patch domain.TicketPatch
	waiting := domain.TicketStatusWaitingOnUser

	switch {
	case next == waiting && ticket.Status != waiting && ticket.SlaPausedAt == nil:
		stamp := now
		patch.SlaPausedAt = domain.Some(&stamp)
	case ticket.Status == waiting && next != waiting && ticket.SlaPausedAt != nil:
		elapsed := int64(now.Sub(*ticket.SlaPausedAt) / time.Second)
		if elapsed < 0 {
			elapsed = 0
		}
		patch.SlaPauseTotalSeconds = domain.Some(ticket.SlaPauseTotalSeconds + elapsed)
		patch.SlaPausedAt = domain.Some[*time.Time](nil)
	}
	return patch
}

// ExtendDueDatesForPause pushes still-pending due dates forward by the pause time that
// pausePatch adds, so SLA clocks do not run while waiting on the requester.
func ExtendDueDatesForPause(ticket *domain.Ticket, pausePatch domain.TicketPatch) domain.TicketPatch {
	var patch domain.TicketPatch
	if !pausePatch.SlaPauseTotalSeconds.Set {
		return patch
	}
	delta := time.Duration(pausePatch.SlaPauseTotalSeconds.Value-ticket.SlaPauseTotalSeconds) * time.Second
	if delta <= 0 {
		return patch
	}
	if ticket.FirstResponseDue != nil && ticket.FirstResponseAt == nil {
		shifted := ticket.FirstResponseDue.Add(delta)
		patch.FirstResponseDue = domain.Some(&shifted)
	}
	if ticket.ResolveDue != nil && ticket.ResolvedAt == nil {
		shifted := ticket.ResolveDue.Add(delta)
		patch.ResolveDue = domain.Some(&shifted)
	}
	return patch
}
