package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// AuditRepository appends to the ticket audit trail. Rows are never updated or deleted.
type AuditRepository interface {
	Append(ctx context.Context, event *domain.AuditEvent) error
	AppendIdempotent(ctx context.Context, event *domain.AuditEvent) (bool, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.AuditEvent, error)
}

type auditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository builds repository.
func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditRepository{pool: pool}
}

func (r *auditRepository) Append(ctx context.Context, event *domain.AuditEvent) error {
	return insertAudit(ctx, r.pool, event)
}

// AppendIdempotent inserts event unless a row with the same idempotency key exists, in
// which case event.ID is set to that row and created is false.
func (r *auditRepository) AppendIdempotent(ctx context.Context, event *domain.AuditEvent) (bool, error) {
	if event.IdempotencyKey == nil {
		return true, insertAudit(ctx, r.pool, event)
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return false, fmt.Errorf("marshal audit data: %w", err)
	}
	const insert = `
        INSERT INTO audit_events (ticket_id, actor_id, action, data, idempotency_key, created_at)
        VALUES ($1,$2,$3,$4,$5,COALESCE($6, NOW()))
        ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
        RETURNING id, created_at`
	err = r.pool.QueryRow(ctx, insert,
		event.TicketID,
		event.ActorID,
		event.Action,
		data,
		event.IdempotencyKey,
		auditTimestamp(event),
	).Scan(&event.ID, &event.CreatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}
	const existing = `SELECT id, created_at FROM audit_events WHERE idempotency_key=$1`
	if err := r.pool.QueryRow(ctx, existing, event.IdempotencyKey).Scan(&event.ID, &event.CreatedAt); err != nil {
		return false, err
	}
	return false, nil
}

func (r *auditRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.AuditEvent, error) {
	const query = `
        SELECT id, ticket_id, actor_id, action, data, idempotency_key, created_at
        FROM audit_events WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AuditEvent
	for rows.Next() {
		var event domain.AuditEvent
		var data []byte
		if err := rows.Scan(
			&event.ID,
			&event.TicketID,
			&event.ActorID,
			&event.Action,
			&data,
			&event.IdempotencyKey,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &event.Data); err != nil {
				return nil, fmt.Errorf("decode audit data: %w", err)
			}
		}
		result = append(result, event)
	}
	return result, rows.Err()
}

func insertAudit(ctx context.Context, db DBTX, event *domain.AuditEvent) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal audit data: %w", err)
	}
	const query = `
        INSERT INTO audit_events (ticket_id, actor_id, action, data, idempotency_key, created_at)
        VALUES ($1,$2,$3,$4,$5,COALESCE($6, NOW()))
        RETURNING id, created_at`
	return db.QueryRow(ctx, query,
		event.TicketID,
		event.ActorID,
		event.Action,
		data,
		event.IdempotencyKey,
		auditTimestamp(event),
	).Scan(&event.ID, &event.CreatedAt)
}

// auditTimestamp lets the database stamp events created without a time.
func auditTimestamp(event *domain.AuditEvent) any {
	if event.CreatedAt.IsZero() {
		return nil
	}
	return event.CreatedAt
}
