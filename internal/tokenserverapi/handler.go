// Package tokenserverapi implements the tokenserver's single HTTP
// endpoint (spec §4.8): GET /1.0/sync/1.5, which verifies the caller's
// FxA credential and mints a Sync MAC bearer token.
package tokenserverapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/mozilla-services/syncstorage-go/internal/apperror"
	"github.com/mozilla-services/syncstorage-go/internal/tokenissuer"
)

// Handler serves GET /1.0/sync/1.5.
type Handler struct {
	issuer            *tokenissuer.Issuer
	oauthVerifier     tokenissuer.Verifier
	browseridVerifier tokenissuer.Verifier
	metricsHashSecret string
}

// New builds a Handler. oauthVerifier handles "Bearer" credentials,
// browseridVerifier handles "BrowserID" credentials; the issuer is
// pre-wired with whichever of the two actually authenticated the request
// (see ServeHTTP).
func New(issuer *tokenissuer.Issuer, oauthVerifier, browseridVerifier tokenissuer.Verifier, metricsHashSecret string) *Handler {
	return &Handler{
		issuer:            issuer,
		oauthVerifier:     oauthVerifier,
		browseridVerifier: browseridVerifier,
		metricsHashSecret: metricsHashSecret,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	auth := r.Header.Get("Authorization")
	scheme, credential, ok := splitAuthorization(auth)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
		return
	}

	xKeyID := r.Header.Get("X-KeyID")
	if xKeyID == "" {
		writeError(w, http.StatusUnauthorized, "missing X-KeyID header")
		return
	}

	hashedDeviceID := h.hashDeviceID(r.Header.Get("X-Device-Id"))

	resp, err := h.issuer.IssueWithVerifier(r.Context(), h.verifierFor(scheme), credential, xKeyID, hashedDeviceID)
	if err != nil {
		status := apperror.KindOf(err).HTTPStatus()
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, resp)
}

func (h *Handler) verifierFor(scheme string) tokenissuer.Verifier {
	if strings.EqualFold(scheme, "browserid") {
		return h.browseridVerifier
	}
	return h.oauthVerifier
}

// hashDeviceID HMAC-SHA256s deviceID with the configured
// fxa_metrics_hash_secret, matching the hashed_device_id plaintext field
// spec §4.8 step 5 requires; empty input yields an empty hash so
// requests without a device id still mint a token.
func (h *Handler) hashDeviceID(deviceID string) string {
	if deviceID == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(h.metricsHashSecret))
	mac.Write([]byte(deviceID))
	return hex.EncodeToString(mac.Sum(nil))
}

func splitAuthorization(header string) (scheme, credential string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
