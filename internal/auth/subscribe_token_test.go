package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeTokenRoundTrip(t *testing.T) {
	signer := NewTokenSigner("test-secret")

	token, err := signer.SignSubscribeToken("user-1", "sock-1", "private-project.42")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := signer.VerifySubscribeToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "sock-1", claims.SocketID)
	assert.Equal(t, "private-project.42", claims.Channel)
}

func TestSubscribeTokenWrongSecret(t *testing.T) {
	token, err := NewTokenSigner("secret-a").SignSubscribeToken("user-1", "sock-1", "private-project.42")
	require.NoError(t, err)

	_, err = NewTokenSigner("secret-b").VerifySubscribeToken(token)
	assert.Error(t, err)
}

func TestSubscribeTokenGarbage(t *testing.T) {
	_, err := NewTokenSigner("secret").VerifySubscribeToken("not-a-token")
	assert.Error(t, err)
}
