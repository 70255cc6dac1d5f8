package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-sh/gatehouse/backend/internal/models"
)

func TestAuditService_ChainIntegrity(t *testing.T) {
	db := setupTestDB(t)
	audit := NewAuditService(db)

	actor := "admin-1"
	for i := 0; i < 5; i++ {
		var user *string
		if i%2 == 0 {
			user = &actor
		}
		entry := audit.Append("TEST_ACTION", "widget", "w-1", user, map[string]interface{}{"i": i}, "10.0.0.1")
		require.NotNil(t, entry)
		assert.Equal(t, uint64(i+1), entry.SequenceNumber)
	}

	result, err := audit.Verify(100)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Nil(t, result.BrokenAt)
	assert.Equal(t, 5, result.Checked)

	// The first entry must chain from the genesis constant.
	var first models.AuditEntry
	require.NoError(t, db.Where("sequence_number = ?", 1).First(&first).Error)
	assert.Equal(t, models.GenesisHash, first.PreviousHash)
}

func TestAuditService_TamperedDetailsDetected(t *testing.T) {
	db := setupTestDB(t)
	audit := NewAuditService(db)

	for i := 0; i < 4; i++ {
		require.NotNil(t, audit.Append("TEST_ACTION", "widget", "", nil, map[string]interface{}{"i": i}, ""))
	}

	// Retroactively edit entry 2 behind the ledger's back.
	require.NoError(t, db.Model(&models.AuditEntry{}).
		Where("sequence_number = ?", 2).
		Update("details", `{"i":99}`).Error)

	result, err := audit.Verify(100)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.NotNil(t, result.BrokenAt)
	assert.Equal(t, uint64(2), *result.BrokenAt)
	assert.Equal(t, 2, result.Checked)
}

func TestAuditService_TamperedActionDetected(t *testing.T) {
	db := setupTestDB(t)
	audit := NewAuditService(db)

	for i := 0; i < 3; i++ {
		require.NotNil(t, audit.Append("TEST_ACTION", "widget", "", nil, nil, ""))
	}

	require.NoError(t, db.Model(&models.AuditEntry{}).
		Where("sequence_number = ?", 3).
		Update("action", "FORGED").Error)

	result, err := audit.Verify(100)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.NotNil(t, result.BrokenAt)
	assert.Equal(t, uint64(3), *result.BrokenAt)
}

func TestAuditService_ConcurrentAppendsFormOneChain(t *testing.T) {
	db := setupTestDB(t)
	audit := NewAuditService(db)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			audit.Append("CONCURRENT", "widget", "", nil, nil, "")
		}()
	}
	wg.Wait()

	result, err := audit.Verify(100)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 20, result.Checked)
}

func TestAuditService_DisabledDropsWrites(t *testing.T) {
	db := setupTestDB(t)
	audit := NewAuditService(db)

	require.NotNil(t, audit.Append("BEFORE", "widget", "", nil, nil, ""))
	require.NoError(t, audit.Disable(db, "admin-1", "10.0.0.1"))

	assert.True(t, audit.Disabled())
	assert.Nil(t, audit.Append("AFTER", "widget", "", nil, nil, ""))

	// The final ledger entry is the disable record itself.
	var last models.AuditEntry
	require.NoError(t, db.Order("sequence_number desc").First(&last).Error)
	assert.Equal(t, AuditLedgerDisabled, last.Action)

	// A fresh service over the same DB restores the persisted flag.
	assert.True(t, NewAuditService(db).Disabled())
}

func TestAuditService_VerifyLimitBoundsWalk(t *testing.T) {
	db := setupTestDB(t)
	audit := NewAuditService(db)

	for i := 0; i < 10; i++ {
		require.NotNil(t, audit.Append("TEST_ACTION", "widget", "", nil, nil, ""))
	}

	result, err := audit.Verify(4)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 4, result.Checked)
}
