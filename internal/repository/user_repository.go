package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// UserRepository reads organization members.
type UserRepository interface {
	GetByID(ctx context.Context, organizationID, userID string) (*domain.User, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

func (r *userRepository) GetByID(ctx context.Context, organizationID, userID string) (*domain.User, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, apperrors.NewNotFound("user", map[string]any{"user_id": userID})
	}
	const query = `
        SELECT id, organization_id, name, email, role, active, created_at, updated_at
        FROM users WHERE organization_id=$1 AND id=$2`
	var user domain.User
	if err := r.pool.QueryRow(ctx, query, organizationID, userID).Scan(
		&user.ID,
		&user.OrganizationID,
		&user.Name,
		&user.Email,
		&user.Role,
		&user.Active,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewNotFound("user", map[string]any{"user_id": userID})
		}
		return nil, err
	}
	return &user, nil
}
