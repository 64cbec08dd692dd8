package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_IssueVerifyRoundTrip(t *testing.T) {
	ti := NewTokenIssuer("test-secret", 15)

	token, err := ti.Issue("alice")
	require.NoError(t, err)

	sub, err := ti.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)
}

func TestTokenIssuer_Verify_WrongSecret(t *testing.T) {
	issued := NewTokenIssuer("secret-a", 15)
	token, err := issued.Issue("alice")
	require.NoError(t, err)

	verifier := NewTokenIssuer("secret-b", 15)
	_, err = verifier.Verify(token)
	assert.Error(t, err)
}

func TestTokenIssuer_Verify_Expired(t *testing.T) {
	ti := NewTokenIssuer("test-secret", 15)
	claims := jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = ti.Verify(signed)
	assert.Error(t, err)
}

func TestTokenIssuer_Verify_MissingSubject(t *testing.T) {
	ti := NewTokenIssuer("test-secret", 15)
	claims := jwt.MapClaims{"exp": time.Now().Add(time.Minute).Unix()}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = ti.Verify(signed)
	assert.Error(t, err)
}
