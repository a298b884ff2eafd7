package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// TeamRepository reads organization teams.
type TeamRepository interface {
	GetByID(ctx context.Context, organizationID, teamID string) (*domain.Team, error)
}

type teamRepository struct {
	pool *pgxpool.Pool
}

// NewTeamRepository constructs repository.
func NewTeamRepository(pool *pgxpool.Pool) TeamRepository {
	return &teamRepository{pool: pool}
}

func (r *teamRepository) GetByID(ctx context.Context, organizationID, teamID string) (*domain.Team, error) {
	if _, err := uuid.Parse(teamID); err != nil {
		return nil, apperrors.NewNotFound("team", map[string]any{"team_id": teamID})
	}
	const query = `
        SELECT id, organization_id, name, is_active, created_at, updated_at
        FROM teams WHERE organization_id=$1 AND id=$2`
	var team domain.Team
	if err := r.pool.QueryRow(ctx, query, organizationID, teamID).Scan(
		&team.ID,
		&team.OrganizationID,
		&team.Name,
		&team.IsActive,
		&team.CreatedAt,
		&team.UpdatedAt,
	); err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewNotFound("team", map[string]any{"team_id": teamID})
		}
		return nil, err
	}
	return &team, nil
}
