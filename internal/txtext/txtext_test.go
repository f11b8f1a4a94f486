package txtext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginTransactionRendersNameMarkAndIsolation(t *testing.T) {
	t.Parallel()

	got := BeginTransaction("tx1", "checkpoint", Serializable, 5000)
	assert.Contains(t, got, "BEGIN TRANSACTION tx1")
	assert.Contains(t, got, "WITH MARK 'checkpoint'")
	assert.Contains(t, got, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	assert.Contains(t, got, "SET LOCK_TIMEOUT 5000")
}

func TestBeginTransactionInfiniteLockWait(t *testing.T) {
	t.Parallel()

	got := BeginTransaction("", "", ReadCommitted, -1)
	assert.NotContains(t, got, "tx1")
	assert.Contains(t, got, "SET LOCK_TIMEOUT -1")
}

func TestCommitAndRollbackTransactionText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "IF @@TRANCOUNT > 0 COMMIT TRANSACTION", CommitTransaction())
	assert.Equal(t, "IF @@TRANCOUNT > 0 ROLLBACK TRANSACTION", RollbackTransaction())
}

func TestSavepointSanitizesName(t *testing.T) {
	t.Parallel()

	got, err := Savepoint("sp-1.checkpoint", 128)
	require.NoError(t, err)
	assert.Contains(t, got, "SAVE TRAN sp_1_checkpoint;")
}

func TestSavepointRejectsUnsanitizableName(t *testing.T) {
	t.Parallel()

	_, err := Savepoint("-", 128)
	require.Error(t, err)
}

func TestRollbackToSavepointRendersName(t *testing.T) {
	t.Parallel()

	got, err := RollbackToSavepoint("sp1", 128)
	require.NoError(t, err)
	assert.Equal(t, "ROLLBACK TRANSACTION sp1", got)
}
