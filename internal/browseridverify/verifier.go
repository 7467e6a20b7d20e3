// Package browseridverify implements the legacy BrowserID half of spec
// §4.8 step 1: POST the assertion to FxA's verifier service and extract
// its idpClaims. Kept alongside internal/oauthverify as a second
// tokenissuer.Verifier implementation per DESIGN.md Open Question 3.
package browseridverify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mozilla-services/syncstorage-go/internal/tokenissuer"
)

// Verifier implements tokenissuer.Verifier for BrowserID assertions.
type Verifier struct {
	verifyURL  string
	audience   string
	httpClient *http.Client
}

// New builds a Verifier against the FxA BrowserID verification endpoint.
// audience is the tokenserver's own origin, required by the BrowserID
// protocol to bind the assertion to this relying party.
func New(verifyURL, audience string, httpClient *http.Client) *Verifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Verifier{verifyURL: verifyURL, audience: audience, httpClient: httpClient}
}

type verifyRequest struct {
	Assertion string `json:"assertion"`
	Audience  string `json:"audience"`
}

type verifyResponse struct {
	Status    string `json:"status"`
	Email     string `json:"email"`
	IdpClaims struct {
		FxAGeneration int64  `json:"fxa-generation"`
		FxAVerifiedEmail string `json:"fxa-verifiedEmail"`
	} `json:"idpClaims"`
	Reason string `json:"reason"`
}

// Verify POSTs credential (the raw assertion, without the "BrowserID "
// scheme prefix) to the FxA verifier and extracts fxa_uid/generation.
func (v *Verifier) Verify(ctx context.Context, credential string) (tokenissuer.Claims, error) {
	body, err := json.Marshal(verifyRequest{Assertion: credential, Audience: v.audience})
	if err != nil {
		return tokenissuer.Claims{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, bytes.NewReader(body))
	if err != nil {
		return tokenissuer.Claims{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return tokenissuer.Claims{}, fmt.Errorf("browseridverify: calling verifier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tokenissuer.Claims{}, fmt.Errorf("browseridverify: verifier returned %d", resp.StatusCode)
	}

	var payload verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return tokenissuer.Claims{}, fmt.Errorf("browseridverify: decoding response: %w", err)
	}
	if payload.Status != "okay" {
		return tokenissuer.Claims{}, fmt.Errorf("browseridverify: assertion rejected: %s", payload.Reason)
	}

	return tokenissuer.Claims{
		FxAUID:     payload.Email,
		Generation: payload.IdpClaims.FxAGeneration,
	}, nil
}
