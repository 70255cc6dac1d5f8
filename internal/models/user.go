package models

import (
	"time"
)

// Roles recognised by the governance engine. The role stored here is the
// authorization record; the Identity Authority's own role hint is descriptive
// only and is never read when deciding what a principal may do.
const (
	RoleAdmin    = "admin"
	RoleEngineer = "engineer"
)

// Account status values.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// User is the local account record consumed by the governance engine.
// It is keyed by the Identity Authority's stable subject id (UUID), never by
// email, which can be reassigned.
type User struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	UUID   string `json:"uuid" gorm:"uniqueIndex"`
	Email  string `json:"email" gorm:"uniqueIndex"`
	Name   string `json:"name"`
	Role   string `json:"role" gorm:"default:'engineer'"`
	Status string `json:"status" gorm:"default:'active'"`

	FailedLoginAttempts int        `json:"-" gorm:"default:0"`
	LockedUntil         *time.Time `json:"-"`
	LastLogin           *time.Time `json:"last_login,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActiveAdmin reports whether the account currently counts toward the
// minimum-administrators invariant.
func (u *User) IsActiveAdmin() bool {
	return u.Role == RoleAdmin && u.Status == StatusActive
}
