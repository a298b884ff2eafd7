package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-lifecycle/internal/automation"
)

// AutomationRuleRepository reads automation rules; rule CRUD lives in the admin service.
type AutomationRuleRepository interface {
	ListEnabled(ctx context.Context, organizationID string) ([]automation.RuleRecord, error)
}

type automationRuleRepository struct {
	pool *pgxpool.Pool
}

// NewAutomationRuleRepository builds repository.
func NewAutomationRuleRepository(pool *pgxpool.Pool) AutomationRuleRepository {
	return &automationRuleRepository{pool: pool}
}

func (r *automationRuleRepository) ListEnabled(ctx context.Context, organizationID string) ([]automation.RuleRecord, error) {
	const query = `
        SELECT id, organization_id, name, trigger_config, action_config, enabled, created_at
        FROM automation_rules
        WHERE organization_id=$1 AND enabled=TRUE
        ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []automation.RuleRecord
	for rows.Next() {
		var record automation.RuleRecord
		if err := rows.Scan(
			&record.ID,
			&record.OrganizationID,
			&record.Name,
			&record.TriggerConfig,
			&record.ActionConfig,
			&record.Enabled,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, rows.Err()
}
