package event

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalBytes(t *testing.T) {
	t.Run("sorts object keys", func(t *testing.T) {
		a := json.RawMessage(`{"b":2,"a":1}`)
		b := json.RawMessage(`{"a":1,"b":2}`)

		ca, err := CanonicalBytes(a)
		require.NoError(t, err)
		cb, err := CanonicalBytes(b)
		require.NoError(t, err)

		assert.Equal(t, ca, cb)
		assert.Equal(t, `{"a":1,"b":2}`, string(ca))
	})

	t.Run("struct field order is irrelevant", func(t *testing.T) {
		p := CreditAllocated{EntityID: "agent-1", AmountMinor: 10000, Reason: "grant"}
		direct, err := CanonicalBytes(p)
		require.NoError(t, err)

		// Same value via a map with shuffled insertion order.
		viaMap, err := CanonicalBytes(map[string]any{
			"reason":       "grant",
			"amount_minor": 10000,
			"entity_id":    "agent-1",
		})
		require.NoError(t, err)
		assert.Equal(t, direct, viaMap)
	})

	t.Run("rejects unmarshalable values", func(t *testing.T) {
		_, err := CanonicalBytes(make(chan int))
		assert.Error(t, err)
	})
}

func TestCanonicalHash(t *testing.T) {
	h1, err := CanonicalHash(map[string]int{"x": 1, "y": 2})
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]int{"y": 2, "x": 1})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.True(t, strings.HasPrefix(h1, "sha256:"))
	assert.Len(t, strings.TrimPrefix(h1, "sha256:"), 64)

	h3, err := CanonicalHash(map[string]int{"x": 1, "y": 3})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
