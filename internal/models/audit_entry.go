package models

import (
	"time"
)

// GenesisHash is the fixed previous-hash of the first ledger entry.
const GenesisHash = "GENESIS"

// AuditEntry is one immutable record in the hash-chained governance ledger.
// Entries are append-only: application code never updates or deletes them,
// and any out-of-band edit breaks the chain at that entry.
type AuditEntry struct {
	ID             uint   `json:"-" gorm:"primaryKey"`
	SequenceNumber uint64 `json:"sequence_number" gorm:"uniqueIndex"`
	PreviousHash   string `json:"previous_hash"`
	EntryHash      string `json:"entry_hash"`

	Action     string  `json:"action" gorm:"index"`
	Resource   string  `json:"resource"`
	ResourceID string  `json:"resource_id"`
	User       *string `json:"user"` // nil means system-initiated
	Details    string  `json:"details" gorm:"type:text"`
	IP         string  `json:"ip"`

	CreatedAt time.Time `json:"created_at"`
}
