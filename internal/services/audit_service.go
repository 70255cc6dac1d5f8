package services

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/gatehouse-sh/gatehouse/backend/internal/logger"
	"github.com/gatehouse-sh/gatehouse/backend/internal/metrics"
	"github.com/gatehouse-sh/gatehouse/backend/internal/models"
)

// Audit action names recorded in the ledger.
const (
	AuditActionCreated   = "PENDING_ACTION_CREATED"
	AuditActionApproved  = "PENDING_ACTION_APPROVED"
	AuditActionVetoed    = "PENDING_ACTION_VETOED"
	AuditActionCancelled = "PENDING_ACTION_CANCELLED"
	AuditActionExpired   = "PENDING_ACTION_EXPIRED"
	AuditActionExecuted  = "PENDING_ACTION_EXECUTED"
	AuditActionReversed  = "PENDING_ACTION_REVERSED"

	AuditBootstrapCompleted = "BOOTSTRAP_COMPLETED"
	AuditBootstrapBlocked   = "BOOTSTRAP_BLOCKED"
	AuditRecoveryCompleted  = "RECOVERY_COMPLETED"
	AuditRecoveryDenied     = "RECOVERY_DENIED"
	AuditPoliciesSeeded     = "POLICIES_SEEDED"
	AuditLockoutBlocked     = "LOCKOUT_BLOCKED"
	AuditSeparationBlocked  = "SEPARATION_OF_POWERS_BLOCKED"
	AuditLedgerDisabled     = "AUDIT_DISABLED"
)

// settingAuditDisabled is the Setting key persisting the DISABLE_AUDIT state.
const settingAuditDisabled = "audit_disabled"

// systemUser is the hash-input placeholder for system-initiated entries.
const systemUser = "SYSTEM"

// isoLayout renders timestamps the way the ledger hashes them: UTC with
// millisecond precision. Changing it breaks verification of existing chains.
const isoLayout = "2006-01-02T15:04:05.000Z"

// AuditService is the append-only, hash-chained governance ledger. Writes
// never raise to the caller: a ledger outage must not block governance
// operations, so failures are logged, counted, and swallowed. That is a
// deliberate availability-over-auditability trade-off; the
// gatehouse_audit_write_failures_total counter is the operational signal.
type AuditService struct {
	db *gorm.DB

	mu       sync.Mutex
	disabled bool
}

// VerifyResult holds the outcome of a hash chain verification.
type VerifyResult struct {
	Valid    bool    `json:"valid"`
	BrokenAt *uint64 `json:"broken_at"`
	Checked  int     `json:"checked"`
}

// NewAuditService returns an AuditService using the provided DB, restoring
// the persisted disabled flag if a prior DISABLE_AUDIT action executed.
func NewAuditService(db *gorm.DB) *AuditService {
	s := &AuditService{db: db}
	var setting models.Setting
	if err := db.Where("key = ?", settingAuditDisabled).First(&setting).Error; err == nil {
		s.disabled = setting.Value == "true"
	}
	return s
}

// Append writes one entry to the ledger and returns it, or nil if the write
// failed or the ledger is disabled. A nil user records a system-initiated
// event. Sequence assignment is serialized so concurrent appends form a
// single chain with no gaps or duplicates.
func (s *AuditService) Append(action, resource, resourceID string, user *string, details map[string]interface{}, ip string) *models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled {
		logger.WithFields(map[string]interface{}{"action": action}).Warn("audit ledger disabled, entry dropped")
		return nil
	}

	entry, err := s.appendLocked(s.db, action, resource, resourceID, user, details, ip)
	if err != nil {
		metrics.IncAuditWriteFailure()
		logger.WithFields(map[string]interface{}{
			"action":   action,
			"resource": resource,
			"error":    err.Error(),
		}).Error("audit ledger write failed, continuing without entry")
		return nil
	}
	return entry
}

// appendLocked writes through db, which is s.db for ordinary appends but the
// caller's open transaction for Disable: sqlite holds a single write lock, so
// writing through s.db while a transaction is open would block on it.
func (s *AuditService) appendLocked(db *gorm.DB, action, resource, resourceID string, user *string, details map[string]interface{}, ip string) (*models.AuditEntry, error) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal details: %w", err)
	}

	var last models.AuditEntry
	prevHash := models.GenesisHash
	var nextSeq uint64 = 1
	if err := db.Order("sequence_number desc").First(&last).Error; err == nil {
		prevHash = last.EntryHash
		nextSeq = last.SequenceNumber + 1
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("read chain head: %w", err)
	}

	entry := models.AuditEntry{
		SequenceNumber: nextSeq,
		PreviousHash:   prevHash,
		Action:         action,
		Resource:       resource,
		ResourceID:     resourceID,
		User:           user,
		Details:        string(detailsJSON),
		IP:             ip,
		CreatedAt:      time.Now().UTC(),
	}
	entry.EntryHash = entryHash(&entry)

	if err := db.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("persist entry: %w", err)
	}
	return &entry, nil
}

// entryHash computes the chained digest over the fixed field order. The
// input layout is part of the persisted format and must stay byte-identical.
func entryHash(e *models.AuditEntry) string {
	user := systemUser
	if e.User != nil {
		user = *e.User
	}
	input := strings.Join([]string{
		e.PreviousHash,
		e.Action,
		e.Resource,
		e.ResourceID,
		user,
		e.Details,
		e.IP,
		e.CreatedAt.UTC().Format(isoLayout),
		fmt.Sprintf("%d", e.SequenceNumber),
	}, "|")
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Verify walks the ledger in ascending sequence order, recomputing every
// hash and checking each link against its predecessor. It stops at the first
// offending entry; a larger limit only extends how far a clean prefix is
// checked, it never skips a break.
func (s *AuditService) Verify(limit int) (VerifyResult, error) {
	if limit <= 0 {
		limit = 1000
	}

	var entries []models.AuditEntry
	if err := s.db.Order("sequence_number asc").Limit(limit).Find(&entries).Error; err != nil {
		return VerifyResult{}, fmt.Errorf("read ledger: %w", err)
	}

	runningHash := models.GenesisHash
	expectedSeq := uint64(1)
	for i := range entries {
		e := &entries[i]
		if e.SequenceNumber != expectedSeq || e.PreviousHash != runningHash || entryHash(e) != e.EntryHash {
			metrics.IncAuditChainBreak()
			broken := e.SequenceNumber
			return VerifyResult{Valid: false, BrokenAt: &broken, Checked: i + 1}, nil
		}
		runningHash = e.EntryHash
		expectedSeq++
	}

	return VerifyResult{Valid: true, Checked: len(entries)}, nil
}

// List returns the newest entries for operator inspection.
func (s *AuditService) List(limit int) ([]models.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []models.AuditEntry
	err := s.db.Order("sequence_number desc").Limit(limit).Find(&entries).Error
	return entries, err
}

// Disable stops all further ledger writes, recording one final entry first.
// Only the DISABLE_AUDIT executor calls this. Both writes go through the
// executor's transaction: the final entry either commits with the governed
// action or rolls back with it, never on its own.
func (s *AuditService) Disable(tx *gorm.DB, actor string, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled {
		return nil
	}

	if _, err := s.appendLocked(tx, AuditLedgerDisabled, "audit_ledger", "", &actor,
		map[string]interface{}{"note": "ledger disabled by governed action"}, ip); err != nil {
		return err
	}

	setting := models.Setting{Key: settingAuditDisabled, Value: "true"}
	if err := tx.Where(models.Setting{Key: settingAuditDisabled}).
		Assign(models.Setting{Value: "true"}).
		FirstOrCreate(&setting).Error; err != nil {
		return err
	}

	s.disabled = true
	return nil
}

// Disabled reports whether the ledger has been disabled by governance.
func (s *AuditService) Disabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}
