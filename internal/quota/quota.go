// Package quota enforces the per-user storage quota (spec §4.6): writes are
// rejected once a user's cached usage crosses their configured limit, and a
// second soft threshold below that triggers a warning header rather than a
// rejection.
package quota

import (
	"context"

	"github.com/mozilla-services/syncstorage-go/internal/apperror"
	"github.com/mozilla-services/syncstorage-go/internal/storagedriver"
)

// Limits mirrors internal/config.Limits, kept separate so this package
// doesn't need to import config (quota enforcement and config loading are
// independent concerns).
type Limits struct {
	MaxBytes    int64
	WarnPercent float64
}

// Enforcer checks a user's usage against Limits before admitting a write.
type Enforcer struct {
	limits Limits
}

// New returns an Enforcer for the given limits. A zero MaxBytes disables
// enforcement entirely (unlimited quota, e.g. for local development).
func New(limits Limits) *Enforcer {
	return &Enforcer{limits: limits}
}

// Result reports whether an incoming write of size bytes can proceed, and
// whether the response should carry the quota warning header.
type Result struct {
	Allowed    bool
	NearLimit  bool
	UsedBytes  int64
	LimitBytes int64
}

// Limits returns the configured limits, for handlers that need to report
// the quota ceiling alongside current usage (GET info/quota).
func (e *Enforcer) Limits() Limits {
	return e.limits
}

// Check reads the user's cached usage for collection (GetQuotaUsage, spec
// §4.5) and decides whether a write of size additional bytes would exceed
// the configured limit.
func (e *Enforcer) Check(ctx context.Context, driver storagedriver.Driver, user storagedriver.UserID, collection string, size int64) (Result, error) {
	if e.limits.MaxBytes <= 0 {
		return Result{Allowed: true}, nil
	}

	usage, err := driver.GetQuotaUsage(ctx, user, collection)
	if err != nil {
		return Result{}, err
	}

	projected := usage.TotalBytes + size
	result := Result{
		UsedBytes:  projected,
		LimitBytes: e.limits.MaxBytes,
		Allowed:    projected <= e.limits.MaxBytes,
	}
	if e.limits.WarnPercent > 0 {
		threshold := int64(float64(e.limits.MaxBytes) * e.limits.WarnPercent)
		result.NearLimit = projected >= threshold
	}
	return result, nil
}

// Reject returns the KindQuota error a handler should translate to the
// spec's 403 over-quota response.
func Reject(user storagedriver.UserID) error {
	return apperror.Newf(apperror.KindQuota, "user %d is over quota", user)
}
