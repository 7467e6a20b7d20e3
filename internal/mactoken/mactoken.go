// Package mactoken implements the tokenserver's MAC bearer token format
// (spec §9): an HKDF-derived signing key over a canonical JSON plaintext,
// HMAC-SHA256 signed and base64url encoded, plus a per-token derived secret
// the client uses to sign subsequent Hawk/MAC requests. This is a native
// reimplementation of the `tokenlib` algorithm the original server called
// out to Python for (see DESIGN.md Open Question 5) rather than a binding
// to that library.
package mactoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	signingInfo      = "services.mozilla.com/tokenlib/v1/signing"
	deriveSecretInfo = "services.mozilla.com/tokenlib/v1/derive_secret"
	secretLen        = 32
)

var b64 = base64.URLEncoding.WithPadding(base64.NoPadding)

// Plaintext is the claim set minted into a token (spec §4.8 step 5).
type Plaintext struct {
	Node              string `json:"node"`
	FxAKeyID          string `json:"fxa_kid"`
	FxAUID            string `json:"fxa_uid"`
	HashedDeviceID    string `json:"hashed_device_id"`
	HashedFxAUID      string `json:"hashed_fxa_uid"`
	Expires           int64  `json:"expires"`
	UID               int64  `json:"uid"`
	TokenserverOrigin string `json:"tokenserver_origin"`
}

// Mint derives an HMAC-signed token and its per-token secret from
// plaintext, using masterSecret as the HKDF input key material.
func Mint(plaintext Plaintext, masterSecret string) (token string, derivedSecret string, err error) {
	payload, err := json.Marshal(plaintext)
	if err != nil {
		return "", "", fmt.Errorf("mactoken: encoding plaintext: %w", err)
	}
	payloadB64 := b64.EncodeToString(payload)

	signingKey, err := derive(masterSecret, signingInfo)
	if err != nil {
		return "", "", err
	}
	sig := hmac.New(sha256.New, signingKey)
	sig.Write([]byte(payloadB64))
	sigB64 := b64.EncodeToString(sig.Sum(nil))

	token = payloadB64 + "." + sigB64

	secretKey, err := derive(masterSecret, deriveSecretInfo+token)
	if err != nil {
		return "", "", err
	}
	return token, b64.EncodeToString(secretKey), nil
}

// Verify checks a token's signature against masterSecret and, if valid,
// decodes its plaintext claims and recomputes the matching derived secret.
func Verify(token string, masterSecret string) (Plaintext, string, error) {
	payloadB64, sigB64, ok := splitToken(token)
	if !ok {
		return Plaintext{}, "", fmt.Errorf("mactoken: malformed token")
	}

	signingKey, err := derive(masterSecret, signingInfo)
	if err != nil {
		return Plaintext{}, "", err
	}
	mac := hmac.New(sha256.New, signingKey)
	mac.Write([]byte(payloadB64))
	wantSig := mac.Sum(nil)

	gotSig, err := b64.DecodeString(sigB64)
	if err != nil || !hmac.Equal(gotSig, wantSig) {
		return Plaintext{}, "", fmt.Errorf("mactoken: signature mismatch")
	}

	payload, err := b64.DecodeString(payloadB64)
	if err != nil {
		return Plaintext{}, "", fmt.Errorf("mactoken: decoding payload: %w", err)
	}
	var plaintext Plaintext
	if err := json.Unmarshal(payload, &plaintext); err != nil {
		return Plaintext{}, "", fmt.Errorf("mactoken: decoding plaintext: %w", err)
	}

	secretKey, err := derive(masterSecret, deriveSecretInfo+token)
	if err != nil {
		return Plaintext{}, "", err
	}
	return plaintext, b64.EncodeToString(secretKey), nil
}

func splitToken(token string) (payload, sig string, ok bool) {
	for i := len(token) - 1; i >= 0; i-- {
		if token[i] == '.' {
			return token[:i], token[i+1:], true
		}
	}
	return "", "", false
}

func derive(secret, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	key := make([]byte, secretLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("mactoken: hkdf expand: %w", err)
	}
	return key, nil
}
