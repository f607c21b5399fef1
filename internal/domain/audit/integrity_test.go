package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/audit-vault-backend/internal/domain/errors"
)

func sealedTestRecord(t *testing.T) *Record {
	t.Helper()

	record, err := NewRecord("principal-1", TierTrader, testAction(), testContext(), "desc")
	require.NoError(t, err)
	record.ExpiresAt = record.CreatedAt.AddDate(0, 0, 365)
	record.IsSensitive = true
	record.EncryptedPayload = []byte("opaque-ciphertext-blob")
	require.NoError(t, SealHashes(record))
	return record
}

func TestContentHashDeterministic(t *testing.T) {
	record := sealedTestRecord(t)

	recomputed, err := ContentHash(record.PrincipalID, record.Action, record.Context, record.CreatedAt)
	require.NoError(t, err)
	assert.True(t, recomputed.Equal(record.ContentHash),
		"recomputed content hash must equal stored content hash")
}

func TestContentHashChangesWithInput(t *testing.T) {
	record := sealedTestRecord(t)

	action := record.Action
	action.Type = "view"
	other, err := ContentHash(record.PrincipalID, action, record.Context, record.CreatedAt)
	require.NoError(t, err)
	assert.False(t, other.Equal(record.ContentHash))
}

func TestVerifyIntegrity(t *testing.T) {
	t.Run("untampered record verifies", func(t *testing.T) {
		record := sealedTestRecord(t)
		require.NoError(t, VerifyIntegrity(record))
	})

	t.Run("single bit flip in ciphertext detected", func(t *testing.T) {
		record := sealedTestRecord(t)
		record.EncryptedPayload[3] ^= 0x01

		err := VerifyIntegrity(record)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeIntegrity))

		var appErr *errors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "VERIFICATION_HASH_MISMATCH", appErr.Code)
	})

	t.Run("metadata tampering detected without decryption", func(t *testing.T) {
		record := sealedTestRecord(t)
		record.PrincipalID = "someone-else"

		err := VerifyIntegrity(record)
		require.Error(t, err)

		var appErr *errors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, "CONTENT_HASH_MISMATCH", appErr.Code)
	})

	t.Run("ciphertext substitution detected", func(t *testing.T) {
		record := sealedTestRecord(t)
		record.EncryptedPayload = []byte("a-completely-different-blob")

		err := VerifyIntegrity(record)
		require.Error(t, err)
	})

	t.Run("non-sensitive record verifies with empty payload", func(t *testing.T) {
		record, err := NewRecord("principal-1", TierAdmin, testAction(), testContext(), "desc")
		require.NoError(t, err)
		record.ExpiresAt = record.CreatedAt.AddDate(0, 0, 30)
		require.NoError(t, SealHashes(record))

		require.NoError(t, VerifyIntegrity(record))
	})
}
