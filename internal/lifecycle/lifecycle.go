package lifecycle

import (
	"time"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// Request is a requested ticket change. Unset fields are left alone; an assignee set
// to nil explicitly clears it.
type Request struct {
	Status         domain.Optional[domain.TicketStatus]
	Priority       domain.Optional[domain.TicketPriority]
	AssigneeUserID domain.Optional[*string]
	AssigneeTeamID domain.Optional[*string]
	AddTags        []string
	ReopenReason   string
}

// Merge layers next over r: fields next sets win, tags accumulate in order and the
// reopen reason follows the status that requested it.
func (r Request) Merge(next Request) Request {
	out := r
	if next.Status.Set {
		out.Status = next.Status
		out.ReopenReason = next.ReopenReason
	}
	if next.Priority.Set {
		out.Priority = next.Priority
	}
	if next.AssigneeUserID.Set {
		out.AssigneeUserID = next.AssigneeUserID
	}
	if next.AssigneeTeamID.Set {
		out.AssigneeTeamID = next.AssigneeTeamID
	}
	if len(next.AddTags) > 0 {
		out.AddTags = append(append([]string(nil), r.AddTags...), next.AddTags...)
	}
	return out
}

// Result is the patch to persist, the ordered change-set and the ticket as it will look.
type Result struct {
	Patch   domain.TicketPatch
	Changes domain.ChangeSet
	Ticket  *domain.Ticket
}

// NoOp reports whether nothing would change.
func (r Result) NoOp() bool {
	return len(r.Changes) == 0
}

// StatusChanged reports whether the status moves.
func (r Result) StatusChanged() bool {
	return r.Changes.Has(domain.FieldStatus)
}

// Lifecycle is the ticket state machine.
type Lifecycle struct {
	policy ReopenPolicy
}

// New builds a Lifecycle with the reopen policy.
func New(policy ReopenPolicy) *Lifecycle {
	return &Lifecycle{policy: policy}
}

// Policy returns the configured reopen policy.
func (l *Lifecycle) Policy() ReopenPolicy {
	return l.policy
}

// ApplyTransition validates req against the actor's role and returns the resulting change-set.
func (l *Lifecycle) ApplyTransition(ticket *domain.Ticket, req Request, actor domain.Actor, now time.Time) (Result, error) {
	if err := validateRequest(req); err != nil {
		return Result{}, err
	}
	if err := authorize(ticket, req, actor); err != nil {
		return Result{}, err
	}

	var patch domain.TicketPatch
	if req.Status.Set && req.Status.Value != ticket.Status {
		statusPatch, err := l.statusPatch(ticket, req, actor, now)
		if err != nil {
			return Result{}, err
		}
		patch.Merge(statusPatch)
	}
	if req.Priority.Set {
		patch.Priority = req.Priority
	}
	if req.AssigneeUserID.Set {
		patch.AssigneeUserID = req.AssigneeUserID
	}
	if req.AssigneeTeamID.Set {
		patch.AssigneeTeamID = req.AssigneeTeamID
	}
	if tags, changed := mergeTags(ticket.Tags, req.AddTags); changed {
		patch.Tags = domain.Some(tags)
	}

	changes := patch.Diff(ticket)
	if len(changes) == 0 {
		return Result{Ticket: ticket.Clone()}, nil
	}
	return Result{Patch: patch, Changes: changes, Ticket: patch.Apply(ticket)}, nil
}

func (l *Lifecycle) statusPatch(ticket *domain.Ticket, req Request, actor domain.Actor, now time.Time) (domain.TicketPatch, error) {
	next := req.Status.Value
	var patch domain.TicketPatch
	patch.Status = domain.Some(next)

	stamp := now
	switch next {
	case domain.TicketStatusResolved:
		patch.ResolvedAt = domain.Some(&stamp)
		patch.ClosedAt = domain.Some[*time.Time](nil)
	case domain.TicketStatusClosed:
		patch.ClosedAt = domain.Some(&stamp)
	case domain.TicketStatusReopened:
		if err := ValidateReopenReason(ticket, actor, req.ReopenReason, l.policy); err != nil {
			return domain.TicketPatch{}, err
		}
		decision := CheckReopenThrottle(ticket, now, l.policy.CooldownEnabled, l.policy.Cooldown)
		if !decision.Allowed {
			return domain.TicketPatch{}, apperrors.NewRateLimited("ticket was reopened recently", decision.RetryAfterSeconds)
		}
		patch.LastReopenedAt = domain.Some(&stamp)
		patch.ResolvedAt = domain.Some[*time.Time](nil)
		patch.ClosedAt = domain.Some[*time.Time](nil)
	default:
		patch.ResolvedAt = domain.Some[*time.Time](nil)
		patch.ClosedAt = domain.Some[*time.Time](nil)
	}

	pause := DeriveSlaPauseUpdates(ticket, next, now)
	patch.Merge(pause)
	patch.Merge(ExtendDueDatesForPause(ticket, pause))
	return patch, nil
}

func validateRequest(req Request) error {
	if req.Status.Set && !req.Status.Value.Valid() {
		return apperrors.NewValidationError("unknown status", map[string]any{"status": req.Status.Value})
	}
	if req.Priority.Set && !req.Priority.Value.Valid() {
		return apperrors.NewValidationError("unknown priority", map[string]any{"priority": req.Priority.Value})
	}
	return nil
}

// authorize applies the role policy: requesters may only close their ticket or reopen a
// resolved/closed one, and may never touch priority, assignee or team.
func authorize(ticket *domain.Ticket, req Request, actor domain.Actor) error {
	if actor.Role.Staff() {
		return nil
	}
	if actor.Role != domain.RoleRequester {
		return apperrors.NewForbidden("unknown role")
	}
	if ticket.RequesterID != actor.ID {
		return apperrors.NewForbidden("requesters may only update their own tickets")
	}
	if req.Priority.Set || req.AssigneeUserID.Set || req.AssigneeTeamID.Set || len(req.AddTags) > 0 {
		return apperrors.NewForbidden("requesters may not change priority, assignee or team")
	}
	if !req.Status.Set || req.Status.Value == ticket.Status {
		return nil
	}
	switch req.Status.Value {
	case domain.TicketStatusClosed:
		return nil
	case domain.TicketStatusReopened:
		if ticket.Status.Terminal() {
			return nil
		}
		return apperrors.NewForbidden("only resolved or closed tickets can be reopened")
	default:
		return apperrors.NewForbidden("requesters may only close or reopen tickets")
	}
}

func mergeTags(current, add []string) ([]string, bool) {
	if len(add) == 0 {
		return current, false
	}
	seen := make(map[string]struct{}, len(current)+len(add))
	merged := append([]string(nil), current...)
	for _, tag := range current {
		seen[tag] = struct{}{}
	}
	changed := false
	for _, tag := range add {
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		merged = append(merged, tag)
		changed = true
	}
	return merged, changed
}
