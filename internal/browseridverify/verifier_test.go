package browseridverify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "some-assertion", req.Assertion)

		json.NewEncoder(w).Encode(map[string]any{
			"status": "okay",
			"email":  "user@example.com",
			"idpClaims": map[string]any{
				"fxa-generation": 5,
			},
		})
	}))
	defer server.Close()

	v := New(server.URL, "https://tokenserver.example.com", nil)
	claims, err := v.Verify(context.Background(), "some-assertion")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", claims.FxAUID)
	assert.EqualValues(t, 5, claims.Generation)
}

func TestVerifyRejectedAssertion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "failure", "reason": "invalid signature"})
	}))
	defer server.Close()

	v := New(server.URL, "aud", nil)
	_, err := v.Verify(context.Background(), "bad-assertion")
	assert.Error(t, err)
}
