package automation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/lifecycle"
)

// RuleSource lists an organization's enabled rules in creation order.
type RuleSource interface {
	ListEnabled(ctx context.Context, organizationID string) ([]RuleRecord, error)
}

// RuleAction is the change one matched rule asks for.
type RuleAction struct {
	RuleID   string
	RuleName string
	Request  lifecycle.Request
}

// Applier applies matched rule actions, in order, to a ticket as one system update.
// An action that cannot apply is dropped without affecting the others.
type Applier interface {
	ApplyAutomation(ctx context.Context, organizationID, ticketID string, actions []RuleAction) error
}

// Event is the input of one evaluation.
type Event struct {
	Type     domain.TriggerType
	Ticket   *domain.Ticket
	Previous *domain.Ticket
	Changes  domain.ChangeSet
}

// Engine evaluates automation rules against ticket events.
type Engine struct {
	rules   RuleSource
	codec   *Codec
	applier Applier
	logger  *zap.Logger
}

// NewEngine builds the engine.
func NewEngine(rules RuleSource, codec *Codec, applier Applier, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{rules: rules, codec: codec, applier: applier, logger: logger}
}

// RegisterHandlers subscribes the engine to ticket events.
func (e *Engine) RegisterHandlers(dispatcher events.Dispatcher) {
	if dispatcher == nil {
		return
	}
	dispatcher.Subscribe(events.EventTicketCreated, e.handleEvent)
	dispatcher.Subscribe(events.EventTicketUpdated, e.handleEvent)
}

func (e *Engine) handleEvent(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketChangedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	trigger := domain.TriggerTicketUpdated
	if event.Type == events.EventTicketCreated {
		trigger = domain.TriggerTicketCreated
	}
	return e.Evaluate(ctx, Event{Type: trigger, Ticket: payload.Ticket, Previous: payload.Previous, Changes: payload.Changes})
}

// Evaluate matches the organization's rules and hands their actions to the applier.
// Rules apply in creation order; a later rule setting the same field wins and tags accumulate.
// A rule whose stored config does not decode is skipped.
func (e *Engine) Evaluate(ctx context.Context, event Event) error {
	if event.Ticket == nil {
		return nil
	}
	records, err := e.rules.ListEnabled(ctx, event.Ticket.OrganizationID)
	if err != nil {
		return fmt.Errorf("list automation rules: %w", err)
	}

	var actions []RuleAction
	var matched []string
	for _, record := range records {
		rule, err := e.codec.Decode(record)
		if err != nil {
			e.logger.Warn("skipping invalid automation rule",
				zap.String("rule_id", record.ID),
				zap.String("organization_id", record.OrganizationID),
				zap.Error(err))
			continue
		}
		if !rule.Enabled || !Matches(rule.Trigger, event) {
			continue
		}
		actions = append(actions, RuleAction{RuleID: rule.ID, RuleName: rule.Name, Request: actionRequest(rule)})
		matched = append(matched, rule.ID)
	}
	if len(matched) == 0 {
		return nil
	}

	e.logger.Debug("automation rules matched",
		zap.String("ticket_id", event.Ticket.ID),
		zap.String("trigger", string(event.Type)),
		zap.Strings("rule_ids", matched))
	if err := e.applier.ApplyAutomation(ctx, event.Ticket.OrganizationID, event.Ticket.ID, actions); err != nil {
		return fmt.Errorf("apply automation: %w", err)
	}
	return nil
}

// Matches reports whether trigger fires for event. Update events also carry the status and
// priority changes they contain.
func Matches(trigger domain.Trigger, event Event) bool {
	switch t := trigger.(type) {
	case domain.TicketCreatedTrigger:
		return event.Type == domain.TriggerTicketCreated
	case domain.TicketUpdatedTrigger:
		return event.Type == domain.TriggerTicketUpdated
	case domain.StatusChangedTrigger:
		return changed(event, domain.TriggerStatusChanged, domain.FieldStatus) && event.Ticket.Status == t.Status
	case domain.PriorityChangedTrigger:
		return changed(event, domain.TriggerPriorityChanged, domain.FieldPriority) && event.Ticket.Priority == t.Priority
	}
	return false
}

func changed(event Event, direct domain.TriggerType, field string) bool {
	if event.Type == direct {
		return true
	}
	return event.Type == domain.TriggerTicketUpdated && event.Changes.Has(field)
}

func actionRequest(rule domain.AutomationRule) lifecycle.Request {
	var req lifecycle.Request
	switch a := rule.Action.(type) {
	case domain.AssignUserAction:
		id := a.UserID
		req.AssigneeUserID = domain.Some(&id)
	case domain.AssignTeamAction:
		id := a.TeamID
		req.AssigneeTeamID = domain.Some(&id)
	case domain.SetPriorityAction:
		req.Priority = domain.Some(a.Priority)
	case domain.SetStatusAction:
		req.Status = domain.Some(a.Status)
		if a.Status == domain.TicketStatusReopened {
			req.ReopenReason = fmt.Sprintf("automation rule %q", rule.Name)
		}
	case domain.AddTagAction:
		req.AddTags = []string{a.Tag}
	}
	return req
}
