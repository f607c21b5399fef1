package values

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHashValue(t *testing.T) {
	valid := strings.Repeat("ab", 32)

	t.Run("valid hash", func(t *testing.T) {
		h, err := NewHashValue(valid)
		require.NoError(t, err)
		assert.Equal(t, valid, h.String())
	})

	t.Run("normalizes case and whitespace", func(t *testing.T) {
		h, err := NewHashValue("  " + strings.ToUpper(valid) + " ")
		require.NoError(t, err)
		assert.Equal(t, valid, h.String())
	})

	t.Run("rejects empty", func(t *testing.T) {
		_, err := NewHashValue("")
		require.Error(t, err)
	})

	t.Run("rejects wrong length", func(t *testing.T) {
		_, err := NewHashValue("abcd")
		require.Error(t, err)
	})

	t.Run("rejects non-hex", func(t *testing.T) {
		_, err := NewHashValue(strings.Repeat("zz", 32))
		require.Error(t, err)
	})
}

func TestComputeHashValue(t *testing.T) {
	h1 := ComputeHashValue([]byte("payload"))
	h2 := ComputeHashValue([]byte("payload"))
	h3 := ComputeHashValue([]byte("payload!"))

	assert.True(t, h1.Equal(h2), "identical input yields identical hashes")
	assert.False(t, h1.Equal(h3))
	assert.Len(t, h1.String(), 64)
	assert.False(t, h1.IsZero())
	assert.True(t, HashValue{}.IsZero())
}

func TestHashValueRoundTrips(t *testing.T) {
	h := ComputeHashValue([]byte("payload"))

	t.Run("bytes", func(t *testing.T) {
		raw, err := h.Bytes()
		require.NoError(t, err)
		rebuilt, err := NewHashValueFromBytes(raw)
		require.NoError(t, err)
		assert.True(t, h.Equal(rebuilt))
	})

	t.Run("sql scan", func(t *testing.T) {
		var scanned HashValue
		require.NoError(t, scanned.Scan(h.String()))
		assert.True(t, h.Equal(scanned))

		require.NoError(t, scanned.Scan(nil))
		assert.True(t, scanned.IsZero())
	})

	t.Run("json", func(t *testing.T) {
		data, err := h.MarshalJSON()
		require.NoError(t, err)

		var decoded HashValue
		require.NoError(t, decoded.UnmarshalJSON(data))
		assert.True(t, h.Equal(decoded))
	})
}
