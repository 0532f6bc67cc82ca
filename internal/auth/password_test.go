package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasher_RoundTrip(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	for _, password := range []string{"Str0ng!Pass", "abcDEF123", "ünïcødé9Aa"} {
		hashed, err := h.Hash(password)
		require.NoError(t, err)
		assert.NotEqual(t, password, hashed)
		assert.True(t, h.Verify(password, hashed))
		assert.False(t, h.Verify(password+"x", hashed))
	}
}

func TestHasher_SaltedOutputsDiffer(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	first, err := h.Hash("Str0ng!Pass")
	require.NoError(t, err)
	second, err := h.Hash("Str0ng!Pass")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, h.Verify("Str0ng!Pass", first))
	assert.True(t, h.Verify("Str0ng!Pass", second))
}

func TestHasher_MalformedHashIsMismatch(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	assert.NotPanics(t, func() {
		assert.False(t, h.Verify("Str0ng!Pass", ""))
		assert.False(t, h.Verify("Str0ng!Pass", "invalidhash"))
		assert.False(t, h.Verify("Str0ng!Pass", "$2a$10$short"))
	})
}

func TestNewHasher_CostBounds(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewHasher(0).Cost())
	assert.Equal(t, bcrypt.DefaultCost, NewHasher(bcrypt.MaxCost+1).Cost())
	assert.Equal(t, 12, NewHasher(12).Cost())
}
