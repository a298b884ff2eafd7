package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// SlaPolicyRepository reads organization SLA policies.
type SlaPolicyRepository interface {
	FindPolicy(ctx context.Context, organizationID string, priority domain.TicketPriority, category *string) (*domain.SlaPolicy, error)
}

type slaPolicyRepository struct {
	pool *pgxpool.Pool
}

// NewSlaPolicyRepository builds repository.
func NewSlaPolicyRepository(pool *pgxpool.Pool) SlaPolicyRepository {
	return &slaPolicyRepository{pool: pool}
}

// FindPolicy prefers a policy for the ticket's category and falls back to the
// category-less policy for the priority. It returns nil when neither exists.
func (r *slaPolicyRepository) FindPolicy(ctx context.Context, organizationID string, priority domain.TicketPriority, category *string) (*domain.SlaPolicy, error) {
	const query = `
        SELECT id, organization_id, priority, category, first_response_hours, resolve_hours
        FROM sla_policies
        WHERE organization_id=$1 AND priority=$2 AND (category IS NULL OR category=$3)
        ORDER BY category NULLS LAST
        LIMIT 1`
	var policy domain.SlaPolicy
	err := r.pool.QueryRow(ctx, query, organizationID, priority, category).Scan(
		&policy.ID,
		&policy.OrganizationID,
		&policy.Priority,
		&policy.Category,
		&policy.FirstResponseHours,
		&policy.ResolveHours,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &policy, nil
}
