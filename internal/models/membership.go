package models

import "time"

// Role is a principal's role inside one business.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleDriver Role = "driver"
)

// Valid reports whether r is one of the roles a membership may carry.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleDriver
}

// MembershipStatus is the lifecycle state of a membership record.
type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "active"
	MembershipRemoved MembershipStatus = "removed"
)

// Membership is the durable relationship between a principal and a business.
// At most one record exists per (BusinessID, UID).
type Membership struct {
	BusinessID  string           `json:"business_id"`
	UID         string           `json:"uid"`
	Role        Role             `json:"role"`
	Status      MembershipStatus `json:"status"`
	DisplayName string           `json:"display_name,omitempty"`
	Email       string           `json:"email,omitempty"`
	Phone       string           `json:"phone,omitempty"`
	InvitedBy   string           `json:"invited_by,omitempty"`
	InvitedAt   time.Time        `json:"invited_at"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Active reports whether the record currently grants access.
func (m *Membership) Active() bool {
	return m.Status == MembershipActive
}
