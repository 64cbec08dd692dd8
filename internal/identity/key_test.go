package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey_LengthAndCharset(t *testing.T) {
	for i := 0; i < 50; i++ {
		key, err := GenerateKey()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(key), KeyMinLength)
		assert.LessOrEqual(t, len(key), KeyMaxLength)
		assert.True(t, ValidKeyChars(key))
	}
}

func TestValidKeyChars_RejectsBannedChars(t *testing.T) {
	assert.False(t, ValidKeyChars(`has"quote`))
	assert.False(t, ValidKeyChars("has'apostrophe"))
	assert.False(t, ValidKeyChars(`has\backslash`))
	assert.False(t, ValidKeyChars("has:colon"))
	assert.True(t, ValidKeyChars("plainkey123"))
}

func TestGenerateKey_NoTwoKeysEqual(t *testing.T) {
	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
