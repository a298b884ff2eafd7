package domain

import "time"

// TriggerType names the ticket event a rule listens to.
type TriggerType string

const (
	TriggerTicketCreated   TriggerType = "ticketCreated"
	TriggerTicketUpdated   TriggerType = "ticketUpdated"
	TriggerStatusChanged   TriggerType = "statusChanged"
	TriggerPriorityChanged TriggerType = "priorityChanged"
)

// Trigger is one of the trigger variants below.
type Trigger interface {
	TriggerType() TriggerType
}

type TicketCreatedTrigger struct{}

type TicketUpdatedTrigger struct{}

// StatusChangedTrigger matches when the new status equals Status.
type StatusChangedTrigger struct {
	Status TicketStatus
}

// PriorityChangedTrigger matches when the new priority equals Priority.
type PriorityChangedTrigger struct {
	Priority TicketPriority
}

func (TicketCreatedTrigger) TriggerType() TriggerType   { return TriggerTicketCreated }
func (TicketUpdatedTrigger) TriggerType() TriggerType   { return TriggerTicketUpdated }
func (StatusChangedTrigger) TriggerType() TriggerType   { return TriggerStatusChanged }
func (PriorityChangedTrigger) TriggerType() TriggerType { return TriggerPriorityChanged }

// ActionType names the change a rule applies.
type ActionType string

const (
	ActionAssignUser  ActionType = "assignUser"
	ActionAssignTeam  ActionType = "assignTeam"
	ActionSetPriority ActionType = "setPriority"
	ActionSetStatus   ActionType = "setStatus"
	ActionAddTag      ActionType = "addTag"
)

// Action is one of the action variants below.
type Action interface {
	ActionType() ActionType
}

type AssignUserAction struct {
	UserID string
}

type AssignTeamAction struct {
	TeamID string
}

type SetPriorityAction struct {
	Priority TicketPriority
}

type SetStatusAction struct {
	Status TicketStatus
}

type AddTagAction struct {
	Tag string
}

func (AssignUserAction) ActionType() ActionType  { return ActionAssignUser }
func (AssignTeamAction) ActionType() ActionType  { return ActionAssignTeam }
func (SetPriorityAction) ActionType() ActionType { return ActionSetPriority }
func (SetStatusAction) ActionType() ActionType   { return ActionSetStatus }
func (AddTagAction) ActionType() ActionType      { return ActionAddTag }

// AutomationRule is an organization-scoped trigger/action pair, decoded from storage.
type AutomationRule struct {
	ID             string
	OrganizationID string
	Name           string
	Trigger        Trigger
	Action         Action
	Enabled        bool
	CreatedAt      time.Time
}
