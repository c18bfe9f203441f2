package domain

import "time"

// Role is the role a user acts under.
type Role string

const (
	RoleClient   Role = "client"
	RoleDriver   Role = "driver"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleDriver, RoleOperator, RoleAdmin:
		return true
	}
	return false
}

// User is a client, driver or operator profile.
type User struct {
	ID        string
	Name      string
	Phone     string
	Role      Role
	Language  string
	PushToken string
	Points    int64
	CreatedAt time.Time
}

// Caller identifies who performs an operation.
type Caller struct {
	UserID string
	Role   Role
}

// IsOperator reports whether the caller may act on conflicts.
func (c Caller) IsOperator() bool {
	return c.Role == RoleOperator || c.Role == RoleAdmin
}
