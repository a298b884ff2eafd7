package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

const ticketColumns = `id, organization_id, requester_id, title, category, status, priority,
               assignee_user_id, assignee_team_id, tags, created_at, updated_at,
               first_response_at, first_response_due, resolve_due, resolved_at, closed_at,
               last_reopened_at, sla_paused_at, sla_pause_total_seconds`

// UpdateResult is the outcome of UpdateWithAudit. AuditErr is set when the ticket update
// committed but the audit event could not be written in the same transaction.
type UpdateResult struct {
	Ticket   *domain.Ticket
	AuditErr error
}

// ErrStaleTicket is returned by UpdateWithAudit when the row changed after the caller read it.
var ErrStaleTicket = apperrors.NewConflict("ticket was modified concurrently", nil)

// TicketRepository encapsulates ticket persistence. UpdateWithAudit only writes when the
// stored updated_at still equals readAt, the UpdatedAt of the snapshot the patch was derived from.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket, audit *domain.AuditEvent) (UpdateResult, error)
	GetByID(ctx context.Context, organizationID, ticketID string) (*domain.Ticket, error)
	GetManyByIDs(ctx context.Context, organizationID string, ticketIDs []string) (map[string]*domain.Ticket, error)
	UpdateWithAudit(ctx context.Context, organizationID, ticketID string, readAt time.Time, patch domain.TicketPatch, audit *domain.AuditEvent) (UpdateResult, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket, audit *domain.AuditEvent) (UpdateResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `
        INSERT INTO tickets (organization_id, requester_id, title, category, status, priority,
            assignee_user_id, assignee_team_id, tags, created_at, updated_at,
            first_response_due, resolve_due)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10,$11,$12)
        RETURNING ` + ticketColumns
	if ticket.Tags == nil {
		ticket.Tags = []string{}
	}
	created, err := scanTicket(tx.QueryRow(ctx, query,
		ticket.OrganizationID,
		ticket.RequesterID,
		ticket.Title,
		ticket.Category,
		ticket.Status,
		ticket.Priority,
		ticket.AssigneeUserID,
		ticket.AssigneeTeamID,
		ticket.Tags,
		ticket.CreatedAt,
		ticket.FirstResponseDue,
		ticket.ResolveDue,
	))
	if err != nil {
		return UpdateResult{}, fmt.Errorf("insert ticket: %w", err)
	}

	var auditErr error
	if audit != nil {
		audit.TicketID = created.ID
		auditErr = withSavepoint(ctx, tx, func(sp pgx.Tx) error {
			return insertAudit(ctx, sp, audit)
		})
	}
	if err := tx.Commit(ctx); err != nil {
		return UpdateResult{}, fmt.Errorf("commit: %w", err)
	}
	return UpdateResult{Ticket: created, AuditErr: auditErr}, nil
}

func (r *ticketRepository) GetByID(ctx context.Context, organizationID, ticketID string) (*domain.Ticket, error) {
	if _, err := uuid.Parse(ticketID); err != nil {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE organization_id=$1 AND id=$2`
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, organizationID, ticketID))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, err
	}
	return ticket, nil
}

func (r *ticketRepository) GetManyByIDs(ctx context.Context, organizationID string, ticketIDs []string) (map[string]*domain.Ticket, error) {
	result := make(map[string]*domain.Ticket, len(ticketIDs))
	if len(ticketIDs) == 0 {
		return result, nil
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE organization_id=$1 AND id::text = ANY($2)`
	rows, err := r.pool.Query(ctx, query, organizationID, ticketIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result[ticket.ID] = ticket
	}
	return result, rows.Err()
}

func (r *ticketRepository) UpdateWithAudit(ctx context.Context, organizationID, ticketID string, readAt time.Time, patch domain.TicketPatch, audit *domain.AuditEvent) (UpdateResult, error) {
	query, args := updateTicketQuery(patch, organizationID, ticketID, readAt)
	if query == "" {
		ticket, err := r.GetByID(ctx, organizationID, ticketID)
		return UpdateResult{Ticket: ticket}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	updated, err := scanTicket(tx.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tickets WHERE organization_id=$1 AND id=$2)`,
			organizationID, ticketID).Scan(&exists); err != nil {
			return UpdateResult{}, fmt.Errorf("check ticket: %w", err)
		}
		if exists {
			return UpdateResult{}, ErrStaleTicket
		}
		return UpdateResult{}, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	if err != nil {
		return UpdateResult{}, fmt.Errorf("update ticket: %w", err)
	}

	var auditErr error
	if audit != nil {
		auditErr = withSavepoint(ctx, tx, func(sp pgx.Tx) error {
			return insertAudit(ctx, sp, audit)
		})
	}
	if err := tx.Commit(ctx); err != nil {
		return UpdateResult{}, fmt.Errorf("commit: %w", err)
	}
	return UpdateResult{Ticket: updated, AuditErr: auditErr}, nil
}

// updateTicketQuery builds the guarded UPDATE for patch. updated_at strictly increases on
// every write so two writes never leave the same stamp behind. It returns an empty query
// when the patch sets nothing.
func updateTicketQuery(patch domain.TicketPatch, organizationID, ticketID string, readAt time.Time) (string, []any) {
	assignments, args := patchAssignments(patch)
	if len(assignments) == 0 {
		return "", nil
	}
	args = append(args, organizationID, ticketID, readAt)
	n := len(args)
	query := fmt.Sprintf(`UPDATE tickets SET %s, updated_at=GREATEST(clock_timestamp(), updated_at + interval '1 microsecond')
        WHERE organization_id=$%d AND id=$%d AND updated_at=$%d
        RETURNING %s`,
		strings.Join(assignments, ", "), n-2, n-1, n, ticketColumns)
	return query, args
}

// patchAssignments renders the set fields of patch as SET clauses with positional args.
func patchAssignments(patch domain.TicketPatch) ([]string, []any) {
	var clauses []string
	var args []any
	set := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if patch.Status.Set {
		set("status", patch.Status.Value)
	}
	if patch.Priority.Set {
		set("priority", patch.Priority.Value)
	}
	if patch.AssigneeUserID.Set {
		set("assignee_user_id", patch.AssigneeUserID.Value)
	}
	if patch.AssigneeTeamID.Set {
		set("assignee_team_id", patch.AssigneeTeamID.Value)
	}
	if patch.Tags.Set {
		tags := patch.Tags.Value
		if tags == nil {
			tags = []string{}
		}
		set("tags", tags)
	}
	if patch.FirstResponseAt.Set {
		set("first_response_at", patch.FirstResponseAt.Value)
	}
	if patch.FirstResponseDue.Set {
		set("first_response_due", patch.FirstResponseDue.Value)
	}
	if patch.ResolveDue.Set {
		set("resolve_due", patch.ResolveDue.Value)
	}
	if patch.ResolvedAt.Set {
		set("resolved_at", patch.ResolvedAt.Value)
	}
	if patch.ClosedAt.Set {
		set("closed_at", patch.ClosedAt.Value)
	}
	if patch.LastReopenedAt.Set {
		set("last_reopened_at", patch.LastReopenedAt.Value)
	}
	if patch.SlaPausedAt.Set {
		set("sla_paused_at", patch.SlaPausedAt.Value)
	}
	if patch.SlaPauseTotalSeconds.Set {
		set("sla_pause_total_seconds", patch.SlaPauseTotalSeconds.Value)
	}
	return clauses, args
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.OrganizationID,
		&ticket.RequesterID,
		&ticket.Title,
		&ticket.Category,
		&ticket.Status,
		&ticket.Priority,
		&ticket.AssigneeUserID,
		&ticket.AssigneeTeamID,
		&ticket.Tags,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.FirstResponseAt,
		&ticket.FirstResponseDue,
		&ticket.ResolveDue,
		&ticket.ResolvedAt,
		&ticket.ClosedAt,
		&ticket.LastReopenedAt,
		&ticket.SlaPausedAt,
		&ticket.SlaPauseTotalSeconds,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}
