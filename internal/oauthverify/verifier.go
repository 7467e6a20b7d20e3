// Package oauthverify implements the OAuth half of spec §4.8 step 1: decode
// the bearer JWT, resolve its signing key via internal/jwkcache, verify the
// signature, and extract the fxa_uid/generation/scope claims. Falls back to
// a direct POST against the FxA verification server for tokens this
// process can't validate locally (opaque tokens, or a kid jwkcache can't
// resolve), mirroring the two-path verification the teacher's
// `pkg/manager/token.go` validate-then-remote-check shape implies.
package oauthverify

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/mozilla-services/syncstorage-go/internal/jwkcache"
	"github.com/mozilla-services/syncstorage-go/internal/tokenissuer"
)

// Verifier implements tokenissuer.Verifier for FxA OAuth bearer tokens.
type Verifier struct {
	jwks       *jwkcache.Cache
	verifyURL  string
	httpClient *http.Client
}

// New builds a Verifier. verifyURL is `fxa_oauth_server_url` + the
// verification path, used only when local JWT verification can't resolve
// the signing key.
func New(jwks *jwkcache.Cache, verifyURL string, httpClient *http.Client) *Verifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Verifier{jwks: jwks, verifyURL: verifyURL, httpClient: httpClient}
}

// Verify decodes and checks credential, a raw JWT string (the
// `Bearer <oauth>` header's token part, without the scheme prefix).
func (v *Verifier) Verify(ctx context.Context, credential string) (tokenissuer.Claims, error) {
	claims, err := v.verifyLocal(ctx, credential)
	if err == nil {
		return claims, nil
	}
	return v.verifyRemote(ctx, credential)
}

func (v *Verifier) verifyLocal(ctx context.Context, credential string) (tokenissuer.Claims, error) {
	var fxaClaims fxaClaims
	token, err := jwt.ParseWithClaims(credential, &fxaClaims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		jwk, err := v.jwks.Get(ctx, kid)
		if err != nil {
			return nil, err
		}
		return jwkToPublicKey(jwk, t.Method)
	})
	if err != nil || !token.Valid {
		return tokenissuer.Claims{}, fmt.Errorf("oauthverify: %w", err)
	}

	return tokenissuer.Claims{
		FxAUID:     fxaClaims.Subject,
		Generation: fxaClaims.Generation,
		Scope:      splitScope(fxaClaims.Scope),
	}, nil
}

// verifyRemote POSTs the token to the FxA verification server, used when
// this process can't resolve the signing key locally (spec §4.8 step 1's
// "if the JWK is not cached, POST to the FxA verification server").
func (v *Verifier) verifyRemote(ctx context.Context, credential string) (tokenissuer.Claims, error) {
	body, err := json.Marshal(map[string]string{"token": credential})
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
		return tokenissuer.Claims{}, fmt.Errorf("oauthverify: calling fxa verifier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tokenissuer.Claims{}, fmt.Errorf("oauthverify: fxa verifier returned %d", resp.StatusCode)
	}

	var payload struct {
		User       string `json:"user"`
		Generation int64  `json:"generation"`
		Scope      []string `json:"scope"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return tokenissuer.Claims{}, fmt.Errorf("oauthverify: decoding fxa verifier response: %w", err)
	}

	return tokenissuer.Claims{FxAUID: payload.User, Generation: payload.Generation, Scope: payload.Scope}, nil
}

type fxaClaims struct {
	jwt.RegisteredClaims
	Generation int64  `json:"fxa-generation"`
	Scope      string `json:"scope"`
}

func splitScope(scope string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(scope); i++ {
		if i == len(scope) || scope[i] == ' ' {
			if i > start {
				out = append(out, scope[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// jwkToPublicKey builds a crypto public key from a JWK for the algorithm
// family t expects. Only RSA is implemented, matching FxA's current
// production signing keys; EC support is left for a future kid rotation.
func jwkToPublicKey(jwk jwkcache.JWK, method jwt.SigningMethod) (any, error) {
	if _, ok := method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("oauthverify: unsupported signing method %q", method.Alg())
	}
	n, err := base64URLBigInt(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("oauthverify: decoding jwk modulus: %w", err)
	}
	e, err := base64URLBigInt(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("oauthverify: decoding jwk exponent: %w", err)
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

func base64URLBigInt(s string) (*big.Int, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}
