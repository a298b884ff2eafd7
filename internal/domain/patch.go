package domain

import "time"

// Optional distinguishes "not provided" from an explicit value, including an explicit nil.
type Optional[T any] struct {
	Set   bool
	Value T
}

// Some wraps v as a provided value.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: v}
}

// Or returns the wrapped value when provided, otherwise fallback.
func (o Optional[T]) Or(fallback T) T {
	if o.Set {
		return o.Value
	}
	return fallback
}

// TicketPatch is a partial ticket update; only fields with Set=true are written.
type TicketPatch struct {
	Status               Optional[TicketStatus]
	Priority             Optional[TicketPriority]
	AssigneeUserID       Optional[*string]
	AssigneeTeamID       Optional[*string]
	Tags                 Optional[[]string]
	FirstResponseAt      Optional[*time.Time]
	FirstResponseDue     Optional[*time.Time]
	ResolveDue           Optional[*time.Time]
	ResolvedAt           Optional[*time.Time]
	ClosedAt             Optional[*time.Time]
	LastReopenedAt       Optional[*time.Time]
	SlaPausedAt          Optional[*time.Time]
	SlaPauseTotalSeconds Optional[int64]
}

// Merge overlays every field set in other onto p.
func (p *TicketPatch) Merge(other TicketPatch) {
	mergeField(&p.Status, other.Status)
	mergeField(&p.Priority, other.Priority)
	mergeField(&p.AssigneeUserID, other.AssigneeUserID)
	mergeField(&p.AssigneeTeamID, other.AssigneeTeamID)
	mergeField(&p.Tags, other.Tags)
	mergeField(&p.FirstResponseAt, other.FirstResponseAt)
	mergeField(&p.FirstResponseDue, other.FirstResponseDue)
	mergeField(&p.ResolveDue, other.ResolveDue)
	mergeField(&p.ResolvedAt, other.ResolvedAt)
	mergeField(&p.ClosedAt, other.ClosedAt)
	mergeField(&p.LastReopenedAt, other.LastReopenedAt)
	mergeField(&p.SlaPausedAt, other.SlaPausedAt)
	mergeField(&p.SlaPauseTotalSeconds, other.SlaPauseTotalSeconds)
}

func mergeField[T any](dst *Optional[T], src Optional[T]) {
	if src.Set {
		*dst = src
	}
}

// Apply returns a copy of t with the patch written over it.
func (p TicketPatch) Apply(t *Ticket) *Ticket {
	out := t.Clone()
	if p.Status.Set {
		out.Status = p.Status.Value
	}
	if p.Priority.Set {
		out.Priority = p.Priority.Value
	}
	if p.AssigneeUserID.Set {
		out.AssigneeUserID = cloneString(p.AssigneeUserID.Value)
	}
	if p.AssigneeTeamID.Set {
		out.AssigneeTeamID = cloneString(p.AssigneeTeamID.Value)
	}
	if p.Tags.Set {
		out.Tags = append([]string(nil), p.Tags.Value...)
	}
	if p.FirstResponseAt.Set {
		out.FirstResponseAt = cloneTime(p.FirstResponseAt.Value)
	}
	if p.FirstResponseDue.Set {
		out.FirstResponseDue = cloneTime(p.FirstResponseDue.Value)
	}
	if p.ResolveDue.Set {
		out.ResolveDue = cloneTime(p.ResolveDue.Value)
	}
	if p.ResolvedAt.Set {
		out.ResolvedAt = cloneTime(p.ResolvedAt.Value)
	}
	if p.ClosedAt.Set {
		out.ClosedAt = cloneTime(p.ClosedAt.Value)
	}
	if p.LastReopenedAt.Set {
		out.LastReopenedAt = cloneTime(p.LastReopenedAt.Value)
	}
	if p.SlaPausedAt.Set {
		out.SlaPausedAt = cloneTime(p.SlaPausedAt.Value)
	}
	if p.SlaPauseTotalSeconds.Set {
		out.SlaPauseTotalSeconds = p.SlaPauseTotalSeconds.Value
	}
	return out
}

// FieldChange records one field transition for the audit trail.
type FieldChange struct {
	Field string
	From  any
	To    any
}

// ChangeSet is the ordered list of fields a patch actually changes.
type ChangeSet []FieldChange

// Has reports whether field is part of the change-set.
func (c ChangeSet) Has(field string) bool {
	_, ok := c.Get(field)
	return ok
}

// Get returns the change recorded for field.
func (c ChangeSet) Get(field string) (FieldChange, bool) {
	for _, change := range c {
		if change.Field == field {
			return change, true
		}
	}
	return FieldChange{}, false
}

// AuditData renders the change-set as {field: {from, to}}.
func (c ChangeSet) AuditData() map[string]any {
	data := make(map[string]any, len(c))
	for _, change := range c {
		data[change.Field] = map[string]any{"from": change.From, "to": change.To}
	}
	return data
}

// Field names used in change-sets and audit payloads.
const (
	FieldStatus               = "status"
	FieldPriority             = "priority"
	FieldAssigneeUserID       = "assigneeUserId"
	FieldAssigneeTeamID       = "assigneeTeamId"
	FieldTags                 = "tags"
	FieldFirstResponseAt      = "firstResponseAt"
	FieldFirstResponseDue     = "firstResponseDue"
	FieldResolveDue           = "resolveDue"
	FieldResolvedAt           = "resolvedAt"
	FieldClosedAt             = "closedAt"
	FieldLastReopenedAt       = "lastReopenedAt"
	FieldSlaPausedAt          = "slaPausedAt"
	FieldSlaPauseTotalSeconds = "slaPauseTotalSeconds"
)

// Diff lists the fields of p that differ from t, in a fixed field order.
func (p TicketPatch) Diff(t *Ticket) ChangeSet {
	var changes ChangeSet
	if p.Status.Set && p.Status.Value != t.Status {
		changes = append(changes, FieldChange{FieldStatus, t.Status, p.Status.Value})
	}
	if p.Priority.Set && p.Priority.Value != t.Priority {
		changes = append(changes, FieldChange{FieldPriority, t.Priority, p.Priority.Value})
	}
	if p.AssigneeUserID.Set && !equalString(p.AssigneeUserID.Value, t.AssigneeUserID) {
		changes = append(changes, FieldChange{FieldAssigneeUserID, derefString(t.AssigneeUserID), derefString(p.AssigneeUserID.Value)})
	}
	if p.AssigneeTeamID.Set && !equalString(p.AssigneeTeamID.Value, t.AssigneeTeamID) {
		changes = append(changes, FieldChange{FieldAssigneeTeamID, derefString(t.AssigneeTeamID), derefString(p.AssigneeTeamID.Value)})
	}
	if p.Tags.Set && !equalStrings(p.Tags.Value, t.Tags) {
		changes = append(changes, FieldChange{FieldTags, append([]string(nil), t.Tags...), append([]string(nil), p.Tags.Value...)})
	}
	changes = appendTimeChange(changes, FieldFirstResponseAt, p.FirstResponseAt, t.FirstResponseAt)
	changes = appendTimeChange(changes, FieldFirstResponseDue, p.FirstResponseDue, t.FirstResponseDue)
	changes = appendTimeChange(changes, FieldResolveDue, p.ResolveDue, t.ResolveDue)
	changes = appendTimeChange(changes, FieldResolvedAt, p.ResolvedAt, t.ResolvedAt)
	changes = appendTimeChange(changes, FieldClosedAt, p.ClosedAt, t.ClosedAt)
	changes = appendTimeChange(changes, FieldLastReopenedAt, p.LastReopenedAt, t.LastReopenedAt)
	changes = appendTimeChange(changes, FieldSlaPausedAt, p.SlaPausedAt, t.SlaPausedAt)
	if p.SlaPauseTotalSeconds.Set && p.SlaPauseTotalSeconds.Value != t.SlaPauseTotalSeconds {
		changes = append(changes, FieldChange{FieldSlaPauseTotalSeconds, t.SlaPauseTotalSeconds, p.SlaPauseTotalSeconds.Value})
	}
	return changes
}

// DueDatesChanged reports whether either SLA due date moved.
func (c ChangeSet) DueDatesChanged() bool {
	return c.Has(FieldFirstResponseDue) || c.Has(FieldResolveDue)
}

func appendTimeChange(changes ChangeSet, field string, next Optional[*time.Time], current *time.Time) ChangeSet {
	if !next.Set || equalTime(next.Value, current) {
		return changes
	}
	return append(changes, FieldChange{field, derefTime(current), derefTime(next.Value)})
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func derefString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func derefTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC()
}
