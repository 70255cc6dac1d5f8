package models

import (
	"time"
)

// BootstrapLockID is the fixed primary key of the singleton lock row.
const BootstrapLockID = 1

// BootstrapLock is the singleton record that decides whether the system has
// been initialized. Once Bootstrapped flips to true it is permanent; the
// presence or absence of identity-provider accounts is never consulted.
type BootstrapLock struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	Bootstrapped   bool       `json:"bootstrapped" gorm:"default:false"`
	SuperAdminUID  string     `json:"super_admin_uid"`
	BootstrappedAt *time.Time `json:"bootstrapped_at,omitempty"`
}
