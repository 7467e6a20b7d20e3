package mactoken

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintThenVerifyRoundTrip(t *testing.T) {
	plaintext := Plaintext{
		Node:              "https://node1.example.com",
		FxAKeyID:          "0000000001234-abc",
		FxAUID:            "fxa-uid-1",
		HashedDeviceID:    "hashed-device",
		HashedFxAUID:      "hashed-fxa-uid",
		Expires:           1893456000,
		UID:               42,
		TokenserverOrigin: "tokenserver",
	}

	token, secret, err := Mint(plaintext, "master-secret")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.NotEmpty(t, secret)

	got, gotSecret, err := Verify(token, "master-secret")
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
	assert.Equal(t, secret, gotSecret)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, _, err := Mint(Plaintext{UID: 1}, "correct-secret")
	require.NoError(t, err)

	_, _, err = Verify(token, "wrong-secret")
	assert.Error(t, err)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	token, _, err := Mint(Plaintext{UID: 1}, "secret")
	require.NoError(t, err)

	tampered := token[:len(token)-1] + "x"
	_, _, err = Verify(tampered, "secret")
	assert.Error(t, err)
}

func TestMintIsDeterministic(t *testing.T) {
	plaintext := Plaintext{UID: 7, Node: "n"}
	tokenA, secretA, err := Mint(plaintext, "secret")
	require.NoError(t, err)
	tokenB, secretB, err := Mint(plaintext, "secret")
	require.NoError(t, err)
	assert.Equal(t, tokenA, tokenB)
	assert.Equal(t, secretA, secretB)
}
