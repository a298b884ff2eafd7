package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/lifecycle"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// MaxBulkTickets caps the ticket ids accepted by one bulk update.
const MaxBulkTickets = 100

// Bulk item results recorded in metrics.
const (
	bulkUpdated   = "updated"
	bulkUnchanged = "unchanged"
	bulkFailed    = "failed"
)

// BulkUpdateInput is the bulk update request.
type BulkUpdateInput struct {
	TicketIDs      []string
	Status         domain.Optional[domain.TicketStatus]
	AssigneeUserID domain.Optional[*string]
	AssigneeTeamID domain.Optional[*string]
}

// BulkItemError reports why one ticket was not updated.
type BulkItemError struct {
	TicketID string `json:"ticketId"`
	Code     string `json:"code"`
	Error    string `json:"error"`
}

// BulkResult summarizes a bulk update. Every distinct requested id is counted exactly
// once in Updated or Errors. Unchanged is the part of Updated that already matched the
// request and was left untouched.
type BulkResult struct {
	Updated   int             `json:"updated"`
	Unchanged int             `json:"unchanged"`
	Errors    []BulkItemError `json:"errors,omitempty"`
}

// BulkUpdate applies the same change to up to MaxBulkTickets tickets. Tickets are processed
// concurrently and independently; a failing ticket is reported and never affects the others.
func (s *TicketService) BulkUpdate(ctx context.Context, actor domain.Actor, input BulkUpdateInput) (BulkResult, error) {
	if !actor.Role.Staff() {
		return BulkResult{}, apperrors.NewForbidden("bulk updates require an agent or admin")
	}
	ids := dedupeStrings(input.TicketIDs)
	if len(ids) == 0 || len(ids) > MaxBulkTickets {
		return BulkResult{}, apperrors.NewValidationError("ticketIds must contain between 1 and 100 ids",
			map[string]any{"count": len(ids)})
	}
	if input.Status.Set && !input.Status.Value.Valid() {
		return BulkResult{}, apperrors.NewValidationError("unknown status", map[string]any{"status": input.Status.Value})
	}
	if err := s.validateAssignees(ctx, actor.OrganizationID, input.AssigneeUserID, input.AssigneeTeamID); err != nil {
		return BulkResult{}, err
	}

	tickets, err := s.tickets.GetManyByIDs(ctx, actor.OrganizationID, ids)
	if err != nil {
		return BulkResult{}, err
	}

	req := lifecycle.Request{
		Status:         input.Status,
		AssigneeUserID: input.AssigneeUserID,
		AssigneeTeamID: input.AssigneeTeamID,
	}
	outcomes := make([]bulkOutcome, len(ids))

	var g errgroup.Group
	g.SetLimit(s.bulkLimit)
	for i, id := range ids {
		i, id := i, id
		ticket, ok := tickets[id]
		if !ok {
			outcomes[i] = bulkOutcome{err: apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})}
			continue
		}
		g.Go(func() error {
			outcomes[i] = s.bulkApply(ctx, actor, ticket, req)
			return nil
		})
	}
	_ = g.Wait()

	var result BulkResult
	for i, outcome := range outcomes {
		switch {
		case outcome.err != nil:
			domainErr := apperrors.ToDomainError(outcome.err)
			if domainErr.HTTPStatus >= 500 {
				s.logger.Error("bulk ticket update failed",
					zap.String("ticket_id", ids[i]),
					zap.String("organization_id", actor.OrganizationID),
					zap.Error(outcome.err))
			}
			result.Errors = append(result.Errors, BulkItemError{TicketID: ids[i], Code: domainErr.Code, Error: domainErr.Message})
			s.metrics.RecordBulkItem(bulkFailed)
		case outcome.unchanged:
			result.Updated++
			result.Unchanged++
			s.metrics.RecordBulkItem(bulkUnchanged)
		default:
			result.Updated++
			s.metrics.RecordBulkItem(bulkUpdated)
		}
	}
	s.logger.Info("bulk update finished",
		zap.String("organization_id", actor.OrganizationID),
		zap.Int("requested", len(ids)),
		zap.Int("updated", result.Updated),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("failed", len(result.Errors)))
	return result, nil
}

type bulkOutcome struct {
	unchanged bool
	err       error
}

func (s *TicketService) bulkApply(ctx context.Context, actor domain.Actor, ticket *domain.Ticket, req lifecycle.Request) (outcome bulkOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = bulkOutcome{err: apperrors.NewInternalError(fmt.Errorf("panic: %v", r))}
		}
	}()
	out, err := s.applyChange(ctx, ticket, req, actor, domain.AuditTicketUpdated, map[string]any{"bulk": true})
	if err != nil {
		return bulkOutcome{err: err}
	}
	if out.noOp() {
		return bulkOutcome{unchanged: true}
	}
	s.publishUpdated(ctx, actor, out)
	return bulkOutcome{}
}
