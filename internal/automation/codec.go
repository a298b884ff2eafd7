package automation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

const triggerSchema = `{
  "type": "object",
  "required": ["type"],
  "oneOf": [
    {"properties": {"type": {"enum": ["ticketCreated", "ticketUpdated"]}}},
    {"properties": {"type": {"enum": ["statusChanged"]},
                    "status": {"enum": ["NEW", "IN_PROGRESS", "WAITING_ON_USER", "ON_HOLD", "RESOLVED", "CLOSED", "REOPENED"]}},
     "required": ["status"]},
    {"properties": {"type": {"enum": ["priorityChanged"]},
                    "priority": {"enum": ["LOW", "MEDIUM", "HIGH", "URGENT"]}},
     "required": ["priority"]}
  ]
}`

const actionSchema = `{
  "type": "object",
  "required": ["type"],
  "oneOf": [
    {"properties": {"type": {"enum": ["assignUser"]}, "userId": {"type": "string", "minLength": 1}}, "required": ["userId"]},
    {"properties": {"type": {"enum": ["assignTeam"]}, "teamId": {"type": "string", "minLength": 1}}, "required": ["teamId"]},
    {"properties": {"type": {"enum": ["setPriority"]}, "priority": {"enum": ["LOW", "MEDIUM", "HIGH", "URGENT"]}}, "required": ["priority"]},
    {"properties": {"type": {"enum": ["setStatus"]},
                    "status": {"enum": ["NEW", "IN_PROGRESS", "WAITING_ON_USER", "ON_HOLD", "RESOLVED", "CLOSED", "REOPENED"]}},
     "required": ["status"]},
    {"properties": {"type": {"enum": ["addTag"]}, "tag": {"type": "string", "minLength": 1}}, "required": ["tag"]}
  ]
}`

// RuleRecord is an automation rule as stored: trigger and action are raw JSON.
type RuleRecord struct {
	ID             string
	OrganizationID string
	Name           string
	TriggerConfig  []byte
	ActionConfig   []byte
	Enabled        bool
	CreatedAt      time.Time
}

// Codec validates stored configs against their schemas and decodes them into tagged variants.
type Codec struct {
	trigger *gojsonschema.Schema
	action  *gojsonschema.Schema
}

// NewCodec compiles the trigger and action schemas.
func NewCodec() (*Codec, error) {
	trigger, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(triggerSchema))
	if err != nil {
		return nil, fmt.Errorf("compile trigger schema: %w", err)
	}
	action, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(actionSchema))
	if err != nil {
		return nil, fmt.Errorf("compile action schema: %w", err)
	}
	return &Codec{trigger: trigger, action: action}, nil
}

// MustCodec is NewCodec for static wiring.
func MustCodec() *Codec {
	c, err := NewCodec()
	if err != nil {
		panic(err)
	}
	return c
}

// Decode turns a stored record into a typed rule.
func (c *Codec) Decode(record RuleRecord) (domain.AutomationRule, error) {
	if err := validate(c.trigger, record.TriggerConfig); err != nil {
		return domain.AutomationRule{}, fmt.Errorf("rule %s trigger: %w", record.ID, err)
	}
	if err := validate(c.action, record.ActionConfig); err != nil {
		return domain.AutomationRule{}, fmt.Errorf("rule %s action: %w", record.ID, err)
	}

	var trig struct {
		Type     domain.TriggerType    `json:"type"`
		Status   domain.TicketStatus   `json:"status"`
		Priority domain.TicketPriority `json:"priority"`
	}
	if err := json.Unmarshal(record.TriggerConfig, &trig); err != nil {
		return domain.AutomationRule{}, fmt.Errorf("rule %s trigger: %w", record.ID, err)
	}
	var act struct {
		Type     domain.ActionType     `json:"type"`
		UserID   string                `json:"userId"`
		TeamID   string                `json:"teamId"`
		Priority domain.TicketPriority `json:"priority"`
		Status   domain.TicketStatus   `json:"status"`
		Tag      string                `json:"tag"`
	}
	if err := json.Unmarshal(record.ActionConfig, &act); err != nil {
		return domain.AutomationRule{}, fmt.Errorf("rule %s action: %w", record.ID, err)
	}

	rule := domain.AutomationRule{
		ID:             record.ID,
		OrganizationID: record.OrganizationID,
		Name:           record.Name,
		Enabled:        record.Enabled,
		CreatedAt:      record.CreatedAt,
	}
	switch trig.Type {
	case domain.TriggerTicketCreated:
		rule.Trigger = domain.TicketCreatedTrigger{}
	case domain.TriggerTicketUpdated:
		rule.Trigger = domain.TicketUpdatedTrigger{}
	case domain.TriggerStatusChanged:
		rule.Trigger = domain.StatusChangedTrigger{Status: trig.Status}
	case domain.TriggerPriorityChanged:
		rule.Trigger = domain.PriorityChangedTrigger{Priority: trig.Priority}
	}
	switch act.Type {
	case domain.ActionAssignUser:
		rule.Action = domain.AssignUserAction{UserID: act.UserID}
	case domain.ActionAssignTeam:
		rule.Action = domain.AssignTeamAction{TeamID: act.TeamID}
	case domain.ActionSetPriority:
		rule.Action = domain.SetPriorityAction{Priority: act.Priority}
	case domain.ActionSetStatus:
		rule.Action = domain.SetStatusAction{Status: act.Status}
	case domain.ActionAddTag:
		rule.Action = domain.AddTagAction{Tag: strings.TrimSpace(act.Tag)}
	}
	return rule, nil
}

// Encode renders a typed rule back to its stored JSON.
func Encode(rule domain.AutomationRule) (trigger, action []byte, err error) {
	trig := map[string]any{"type": rule.Trigger.TriggerType()}
	switch t := rule.Trigger.(type) {
	case domain.StatusChangedTrigger:
		trig["status"] = t.Status
	case domain.PriorityChangedTrigger:
		trig["priority"] = t.Priority
	}
	act := map[string]any{"type": rule.Action.ActionType()}
	switch a := rule.Action.(type) {
	case domain.AssignUserAction:
		act["userId"] = a.UserID
	case domain.AssignTeamAction:
		act["teamId"] = a.TeamID
	case domain.SetPriorityAction:
		act["priority"] = a.Priority
	case domain.SetStatusAction:
		act["status"] = a.Status
	case domain.AddTagAction:
		act["tag"] = a.Tag
	}
	if trigger, err = json.Marshal(trig); err != nil {
		return nil, nil, err
	}
	if action, err = json.Marshal(act); err != nil {
		return nil, nil, err
	}
	return trigger, action, nil
}

func validate(schema *gojsonschema.Schema, raw []byte) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty config")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("schema violation: %s", strings.Join(msgs, "; "))
}
