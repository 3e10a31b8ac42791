package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin          UserRole = "ADMIN"
	RoleAgencyOperator UserRole = "AGENCY_OPERATOR"
	RoleCitizen        UserRole = "CITIZEN"
)

// User represents an authenticated account. Citizen accounts carry the PSN
// of the person record they are bound to; staff accounts have none.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	PSN          *string    `db:"psn" json:"psn,omitempty"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}
