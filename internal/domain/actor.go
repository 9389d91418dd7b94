package domain

import "github.com/google/uuid"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// Actor is the identity on whose behalf an operation runs.
type Actor struct {
	ID    uuid.UUID
	Role  Role
	Email string
}

// SystemActor is used by webhooks and background reconciliation.
var SystemActor = Actor{Role: RoleSystem}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin || a.Role == RoleSystem }

// CanAccessOrder reports whether the actor may read or act on the order as its owner.
func (a Actor) CanAccessOrder(o *Order) bool {
	return a.IsAdmin() || (a.ID != uuid.Nil && a.ID == o.CustomerID)
}
