package tokenissuer

import "context"

// Claims is what either auth path (OAuth or BrowserID) extracts from a
// verified credential (spec §4.8 step 1).
type Claims struct {
	FxAUID     string
	Generation int64
	Scope      []string
}

// Verifier authenticates the Authorization header's credential and
// returns the claims the rest of the pipeline needs. OAuth and BrowserID
// are both Verifiers (internal/oauthverify, internal/browseridverify).
type Verifier interface {
	Verify(ctx context.Context, credential string) (Claims, error)
}
