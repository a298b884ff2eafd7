package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// CsatRepository persists satisfaction survey requests, one per ticket.
type CsatRepository interface {
	GetByTicketID(ctx context.Context, ticketID string) (*domain.CsatRequest, error)
	CreateIfAbsent(ctx context.Context, req *domain.CsatRequest) (bool, error)
	RecordResponse(ctx context.Context, ticketID string, rating int, comment *string, at time.Time) (bool, error)
}

type csatRepository struct {
	pool *pgxpool.Pool
}

// NewCsatRepository builds repository.
func NewCsatRepository(pool *pgxpool.Pool) CsatRepository {
	return &csatRepository{pool: pool}
}

// GetByTicketID returns nil when the ticket has no survey.
func (r *csatRepository) GetByTicketID(ctx context.Context, ticketID string) (*domain.CsatRequest, error) {
	const query = `
        SELECT id, ticket_id, token, expires_at, rating, comment, responded_at, created_at
        FROM csat_requests WHERE ticket_id=$1`
	var req domain.CsatRequest
	var rating *int16
	err := r.pool.QueryRow(ctx, query, ticketID).Scan(
		&req.ID,
		&req.TicketID,
		&req.Token,
		&req.ExpiresAt,
		&rating,
		&req.Comment,
		&req.RespondedAt,
		&req.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rating != nil {
		v := int(*rating)
		req.Rating = &v
	}
	return &req, nil
}

// CreateIfAbsent inserts req unless the ticket already has a survey.
func (r *csatRepository) CreateIfAbsent(ctx context.Context, req *domain.CsatRequest) (bool, error) {
	const query = `
        INSERT INTO csat_requests (ticket_id, token, expires_at)
        VALUES ($1,$2,$3)
        ON CONFLICT (ticket_id) DO NOTHING
        RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query, req.TicketID, req.Token, req.ExpiresAt).Scan(&req.ID, &req.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecordResponse stores the rating once; it reports false when a response already exists.
func (r *csatRepository) RecordResponse(ctx context.Context, ticketID string, rating int, comment *string, at time.Time) (bool, error) {
	const query = `
        UPDATE csat_requests SET rating=$1, comment=$2, responded_at=$3
        WHERE ticket_id=$4 AND responded_at IS NULL`
	cmd, err := r.pool.Exec(ctx, query, rating, comment, at, ticketID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}
