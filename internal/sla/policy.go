package sla

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// PolicyFinder looks up an organization's SLA policy. A nil policy with a nil error means
// no policy matches and the organization defaults apply.
type PolicyFinder interface {
	FindPolicy(ctx context.Context, organizationID string, priority domain.TicketPriority, category *string) (*domain.SlaPolicy, error)
}

// DefaultTargets holds the per-priority targets used when no policy matches.
type DefaultTargets map[domain.TicketPriority]domain.SlaTargets

// BuiltinDefaults returns the targets used when no defaults file is configured.
func BuiltinDefaults() DefaultTargets {
	return DefaultTargets{
		domain.TicketPriorityUrgent: {FirstResponseHours: 1, ResolveHours: 4},
		domain.TicketPriorityHigh:   {FirstResponseHours: 4, ResolveHours: 24},
		domain.TicketPriorityMedium: {FirstResponseHours: 8, ResolveHours: 48},
		domain.TicketPriorityLow:    {FirstResponseHours: 24, ResolveHours: 120},
	}
}

// LoadDefaultTargets reads a YAML file keyed by priority. Priorities missing from the
// file keep their builtin targets. An empty path returns the builtin set.
func LoadDefaultTargets(path string) (DefaultTargets, error) {
	defaults := BuiltinDefaults()
	if path == "" {
		return defaults, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sla defaults: %w", err)
	}
	return ParseDefaultTargets(raw)
}

// ParseDefaultTargets decodes YAML default targets over the builtin set.
func ParseDefaultTargets(raw []byte) (DefaultTargets, error) {
	defaults := BuiltinDefaults()
	var parsed map[domain.TicketPriority]domain.SlaTargets
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse sla defaults: %w", err)
	}
	for priority, targets := range parsed {
		if !priority.Valid() {
			return nil, fmt.Errorf("sla defaults: unknown priority %q", priority)
		}
		if targets.FirstResponseHours <= 0 || targets.ResolveHours <= 0 {
			return nil, fmt.Errorf("sla defaults: %s targets must be positive", priority)
		}
		defaults[priority] = targets
	}
	return defaults, nil
}

// Resolver resolves SLA targets for a ticket.
type Resolver struct {
	policies PolicyFinder
	defaults DefaultTargets
}

// NewResolver builds a Resolver; nil defaults means BuiltinDefaults.
func NewResolver(policies PolicyFinder, defaults DefaultTargets) *Resolver {
	if defaults == nil {
		defaults = BuiltinDefaults()
	}
	return &Resolver{policies: policies, defaults: defaults}
}

// Targets returns the organization policy for (priority, category) or the default targets.
func (r *Resolver) Targets(ctx context.Context, organizationID string, priority domain.TicketPriority, category *string) (domain.SlaTargets, error) {
	if r.policies != nil {
		policy, err := r.policies.FindPolicy(ctx, organizationID, priority, category)
		if err != nil {
			return domain.SlaTargets{}, fmt.Errorf("find sla policy: %w", err)
		}
		if policy != nil {
			return domain.SlaTargets{FirstResponseHours: policy.FirstResponseHours, ResolveHours: policy.ResolveHours}, nil
		}
	}
	if targets, ok := r.defaults[priority]; ok {
		return targets, nil
	}
	return r.defaults[domain.TicketPriorityMedium], nil
}

// DueDates resolves targets for ticket and returns the due-date patch for unmet targets.
func (r *Resolver) DueDates(ctx context.Context, ticket *domain.Ticket) (domain.TicketPatch, error) {
	targets, err := r.Targets(ctx, ticket.OrganizationID, ticket.Priority, ticket.Category)
	if err != nil {
		return domain.TicketPatch{}, err
	}
	return ComputeDueDates(ticket, targets), nil
}

// ComputeDueDates returns createdAt + target hours + accumulated pause for every target the
// ticket has not met yet. Met targets keep their due date.
func ComputeDueDates(ticket *domain.Ticket, targets domain.SlaTargets) domain.TicketPatch {
	var patch domain.TicketPatch
	base := ticket.CreatedAt.UTC().Add(time.Duration(ticket.SlaPauseTotalSeconds) * time.Second)
	if ticket.FirstResponseAt == nil {
		due := base.Add(time.Duration(targets.FirstResponseHours) * time.Hour).Truncate(time.Second)
		patch.FirstResponseDue = domain.Some(&due)
	}
	if ticket.ResolvedAt == nil {
		due := base.Add(time.Duration(targets.ResolveHours) * time.Hour).Truncate(time.Second)
		patch.ResolveDue = domain.Some(&due)
	}
	return patch
}
