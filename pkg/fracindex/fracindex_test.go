package fracindex

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyBetween_Empty(t *testing.T) {
	k, err := GenerateKeyBetween("", "")
	require.NoError(t, err)
	assert.Equal(t, "a0", k)
}

func TestGenerateKeyBetween_Append(t *testing.T) {
	k, err := GenerateKeyBetween("a0", "")
	require.NoError(t, err)
	assert.Equal(t, "a1", k)
}

func TestGenerateKeyBetween_Prepend(t *testing.T) {
	k, err := GenerateKeyBetween("", "a0")
	require.NoError(t, err)
	assert.Equal(t, "Zz", k)
}

func TestGenerateKeyBetween_Midpoint(t *testing.T) {
	k, err := GenerateKeyBetween("a0", "a1")
	require.NoError(t, err)
	assert.Equal(t, "a0V", k)
}

func TestGenerateKeyBetween_StrictlyBetween(t *testing.T) {
	lower, upper := "a0", "a1"
	for i := 0; i < 100; i++ {
		k, err := GenerateKeyBetween(lower, upper)
		require.NoError(t, err)
		require.NoError(t, Validate(k))
		require.Greater(t, k, lower)
		require.Less(t, k, upper)
		// Narrow the interval alternately from each side.
		if i%2 == 0 {
			lower = k
		} else {
			upper = k
		}
	}
}

func TestGenerateKeyBetween_AppendChain(t *testing.T) {
	prev := ""
	for i := 0; i < 200; i++ {
		k, err := GenerateKeyBetween(prev, "")
		require.NoError(t, err)
		require.NoError(t, Validate(k))
		require.Greater(t, k, prev)
		prev = k
	}
}

func TestGenerateKeyBetween_PrependChain(t *testing.T) {
	prev := ""
	for i := 0; i < 200; i++ {
		k, err := GenerateKeyBetween("", prev)
		require.NoError(t, err)
		require.NoError(t, Validate(k))
		if prev != "" {
			require.Less(t, k, prev)
		}
		prev = k
	}
}

func TestGenerateKeyBetween_InvalidRange(t *testing.T) {
	_, err := GenerateKeyBetween("a1", "a0")
	assert.ErrorIs(t, err, ErrInvalidRange)

	// Equal keys are the concurrent-insert collision case.
	_, err = GenerateKeyBetween("a0", "a0")
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestGenerateKeyBetween_InvalidKey(t *testing.T) {
	_, err := GenerateKeyBetween("!nope", "")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = GenerateKeyBetween("", "a")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestGenerateNKeysBetween(t *testing.T) {
	keys, err := GenerateNKeysBetween("a0", "a1", 20)
	require.NoError(t, err)
	require.Len(t, keys, 20)
	assert.True(t, sort.StringsAreSorted(keys))
	for _, k := range keys {
		require.NoError(t, Validate(k))
		require.Greater(t, k, "a0")
		require.Less(t, k, "a1")
	}
}

func TestGenerateNKeysBetween_Unbounded(t *testing.T) {
	keys, err := GenerateNKeysBetween("", "", 10)
	require.NoError(t, err)
	require.Len(t, keys, 10)
	assert.True(t, sort.StringsAreSorted(keys))
}

func TestGenerateNKeysBetween_Zero(t *testing.T) {
	keys, err := GenerateNKeysBetween("", "", 0)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("a0"))
	assert.NoError(t, Validate("Zz"))
	assert.NoError(t, Validate("a0V"))
	assert.Error(t, Validate(""))
	assert.Error(t, Validate("a"))
	assert.Error(t, Validate("a00"))
	assert.Error(t, Validate("a0 "))
	assert.Error(t, Validate(smallestInteger))
}

func TestMaxKey(t *testing.T) {
	k, ok := MaxKey([]string{"a0", "a2", "a1"})
	require.True(t, ok)
	assert.Equal(t, "a2", k)

	_, ok = MaxKey(nil)
	assert.False(t, ok)

	_, ok = MaxKey([]string{"", ""})
	assert.False(t, ok)
}

func TestCompareDesc(t *testing.T) {
	assert.Equal(t, 0, CompareDesc("a0", "a0"))
	assert.Equal(t, -1, CompareDesc("a1", "a0"))
	assert.Equal(t, 1, CompareDesc("a0", "a1"))
	// Keyless entries sink below keyed ones.
	assert.Equal(t, 1, CompareDesc("", "a0"))
	assert.Equal(t, -1, CompareDesc("a0", ""))
}
