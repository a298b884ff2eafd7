package domain

import "time"

// Role is the caller's role inside an organization.
type Role string

const (
	RoleRequester Role = "REQUESTER"
	RoleAgent     Role = "AGENT"
	RoleAdmin     Role = "ADMIN"
	// RoleSystem is used for automation-originated changes.
	RoleSystem Role = "SYSTEM"
)

// Staff reports whether the role may manage tickets beyond its own.
func (r Role) Staff() bool {
	return r == RoleAgent || r == RoleAdmin || r == RoleSystem
}

// Actor identifies who performs an operation.
type Actor struct {
	ID             string
	OrganizationID string
	Role           Role
}

// SystemActorID marks audit events written by automation or SLA jobs.
const SystemActorID = "system"

// SystemActor returns the actor used for automation updates in organizationID.
func SystemActor(organizationID string) Actor {
	return Actor{ID: SystemActorID, OrganizationID: organizationID, Role: RoleSystem}
}

// User is an organization member: requester, agent or admin.
type User struct {
	ID             string
	OrganizationID string
	Name           string
	Email          string
	Role           Role
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
