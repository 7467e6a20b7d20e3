// Package tokenissuer implements the end-to-end token issuance pipeline
// (spec §4.8): verify the credential, parse X-KeyID, resolve or create the
// tokenserver user record, mint a MAC token, and shape the JSON response.
package tokenissuer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mozilla-services/syncstorage-go/internal/apperror"
	"github.com/mozilla-services/syncstorage-go/internal/mactoken"
	"github.com/mozilla-services/syncstorage-go/internal/tokendb"
)

// Config carries the settings spec §6 lists as relevant to token issuance.
type Config struct {
	Service           string
	MasterSecret      string
	TokenDuration     time.Duration
	TokenserverOrigin string
}

// Issuer ties a Verifier, the tokenserver DB, and mactoken minting into the
// single `GET /1.0/sync/1.5` flow.
type Issuer struct {
	cfg      Config
	verifier Verifier
	db       *tokendb.DB
}

// New builds an Issuer.
func New(cfg Config, verifier Verifier, db *tokendb.DB) *Issuer {
	return &Issuer{cfg: cfg, verifier: verifier, db: db}
}

// Response is the JSON body spec §4.8 step 6 returns.
type Response struct {
	ID           string `json:"id"`
	Key          string `json:"key"`
	UID          int64  `json:"uid"`
	APIEndpoint  string `json:"api_endpoint"`
	Duration     int64  `json:"duration"`
	HashedFxAUID string `json:"hashed_fxa_uid"`
}

// Issue runs the full pipeline. credential is the Authorization header's
// value minus its scheme prefix; xKeyID is the raw X-KeyID header value;
// hashedDeviceID is derived by the caller from the client's device id
// (spec doesn't name the hash function's home package, so request-layer
// plumbing supplies it already-hashed).
func (i *Issuer) Issue(ctx context.Context, credential, xKeyID, hashedDeviceID string) (Response, error) {
	return i.IssueWithVerifier(ctx, i.verifier, credential, xKeyID, hashedDeviceID)
}

// IssueWithVerifier runs the same pipeline as Issue but against an
// explicit Verifier, for callers (the HTTP handler) that pick OAuth vs.
// BrowserID verification per request based on the Authorization scheme.
func (i *Issuer) IssueWithVerifier(ctx context.Context, verifier Verifier, credential, xKeyID, hashedDeviceID string) (Response, error) {
	claims, err := verifier.Verify(ctx, credential)
	if err != nil {
		return Response{}, apperror.Wrap(apperror.KindInvalidCredentials, err, "credential verification failed")
	}

	keysChangedAt, clientState, err := parseKeyID(xKeyID)
	if err != nil {
		return Response{}, apperror.Wrap(apperror.KindInvalidKeyID, err, "malformed X-KeyID")
	}

	user, err := i.db.GetOrCreateUser(i.cfg.Service, claims.FxAUID, claims.Generation, keysChangedAt, clientState)
	if err != nil {
		return Response{}, err
	}

	node, err := i.db.GetNode(user.NodeID)
	if err != nil {
		return Response{}, apperror.Wrap(apperror.KindBackend, err, "resolving assigned node")
	}

	duration := i.cfg.TokenDuration
	if duration <= 0 {
		duration = time.Hour
	}
	hashedFxAUID := sha256Hex(claims.FxAUID)

	plaintext := mactoken.Plaintext{
		Node:              node.Node,
		FxAKeyID:          xKeyID,
		FxAUID:            claims.FxAUID,
		HashedDeviceID:    hashedDeviceID,
		HashedFxAUID:      hashedFxAUID,
		Expires:           time.Now().Add(duration).Unix(),
		UID:               user.UID,
		TokenserverOrigin: i.cfg.TokenserverOrigin,
	}

	token, secret, err := mactoken.Mint(plaintext, i.cfg.MasterSecret)
	if err != nil {
		return Response{}, err
	}

	return Response{
		ID:           token,
		Key:          secret,
		UID:          user.UID,
		APIEndpoint:  fmt.Sprintf("%s/1.5/%d", node.Node, user.UID),
		Duration:     int64(duration.Seconds()),
		HashedFxAUID: hashedFxAUID,
	}, nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// parseKeyID splits X-KeyID's "<keys_changed_at>-<client_state_b64>" form
// (spec §4.8 step 2).
func parseKeyID(xKeyID string) (int64, string, error) {
	idx := strings.IndexByte(xKeyID, '-')
	if idx < 0 {
		return 0, "", fmt.Errorf("tokenissuer: missing '-' separator")
	}
	kca, err := strconv.ParseInt(xKeyID[:idx], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("tokenissuer: invalid keys_changed_at: %w", err)
	}
	clientState := xKeyID[idx+1:]
	if clientState == "" {
		return 0, "", fmt.Errorf("tokenissuer: missing client_state")
	}
	return kca, clientState, nil
}
