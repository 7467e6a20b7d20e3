// Package synctime implements the Sync 1.5 server clock: a millisecond
// counter truncated to 10ms resolution, the unit of ordering visible to
// clients via X-Last-Modified / X-Weave-Timestamp.
package synctime

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Resolution is the truncation granularity of a Timestamp, in milliseconds.
const Resolution = 10

// ErrInvalidTimestamp is returned when a value cannot be represented as a
// Timestamp: negative, or not a multiple of Resolution.
var ErrInvalidTimestamp = errors.New("synctime: invalid timestamp")

// Timestamp is a non-negative millisecond count, always a multiple of
// Resolution.
type Timestamp int64

// allowTestClockOverride gates SetTestTimestamp. Go has no cfg(test); tests
// that need to simulate clock skew must flip this explicitly before calling
// SetTestTimestamp, and clear it again when done.
var allowTestClockOverride bool
var testOverride *Timestamp

// AllowTestClockOverride enables or disables SetTestTimestamp. Only call
// this from _test.go files.
func AllowTestClockOverride(allow bool) {
	allowTestClockOverride = allow
	if !allow {
		testOverride = nil
	}
}

// SetTestTimestamp pins Now() to ts until ClearTestTimestamp is called.
// Returns ErrInvalidTimestamp if ts is not well-formed, or an error if
// AllowTestClockOverride(true) was never called.
func SetTestTimestamp(ts Timestamp) error {
	if !allowTestClockOverride {
		return fmt.Errorf("synctime: test clock override not enabled")
	}
	if err := ts.validate(); err != nil {
		return err
	}
	testOverride = &ts
	return nil
}

// ClearTestTimestamp removes any pinned test clock value.
func ClearTestTimestamp() {
	testOverride = nil
}

// Now returns the current time truncated to Resolution, or the pinned test
// value if one has been set via SetTestTimestamp.
func Now() Timestamp {
	if testOverride != nil {
		return *testOverride
	}
	return fromUnixMilli(time.Now().UnixMilli())
}

// FromMilliseconds converts a raw millisecond count, truncating down to the
// nearest Resolution boundary.
func FromMilliseconds(ms uint64) Timestamp {
	return fromUnixMilli(int64(ms))
}

func fromUnixMilli(ms int64) Timestamp {
	if ms < 0 {
		ms = 0
	}
	return Timestamp(ms - (ms % Resolution))
}

// FromSeconds parses the Sync 1.5 wire format (seconds, typically with a
// millisecond-precision fractional part, e.g. "1577836800.120") expressed as
// a float64, and truncates to Resolution.
func FromSeconds(seconds float64) (Timestamp, error) {
	if seconds < 0 {
		return 0, ErrInvalidTimestamp
	}
	ms := int64(seconds*1000 + 0.5)
	ts := Timestamp(ms - (ms % Resolution))
	return ts, nil
}

// validate reports whether t is a legal Timestamp value.
func (t Timestamp) validate() error {
	if t < 0 {
		return ErrInvalidTimestamp
	}
	if int64(t)%Resolution != 0 {
		return ErrInvalidTimestamp
	}
	return nil
}

// Milliseconds returns the raw millisecond count.
func (t Timestamp) Milliseconds() int64 {
	return int64(t)
}

// AsSecondsString renders the timestamp the way Sync 1.5 headers and bodies
// expect: seconds with a fixed 3-decimal (millisecond) fractional part,
// e.g. millisecond count 1577836800120 becomes "1577836800.120". The third
// decimal digit is always 0 at this type's 10ms resolution, but clients
// parse the field as a fixed-width three-decimal number, so the trailing
// zero is part of the wire format, not noise.
func (t Timestamp) AsSecondsString() string {
	return strconv.FormatFloat(float64(t)/1000.0, 'f', 3, 64)
}

// Before reports whether t occurred strictly before other.
func (t Timestamp) Before(other Timestamp) bool {
	return t < other
}

// After reports whether t occurred strictly after other.
func (t Timestamp) After(other Timestamp) bool {
	return t > other
}

// Max returns the later of t and other.
func Max(t, other Timestamp) Timestamp {
	if other > t {
		return other
	}
	return t
}

// MarshalJSON renders the timestamp as a JSON number of seconds, matching
// the Sync 1.5 response body convention (info/collections etc. emit
// seconds, not milliseconds).
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(t.AsSecondsString()), nil
}

// UnmarshalJSON accepts either a JSON number of seconds or a quoted string
// of the same, rounding to Resolution.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("synctime: %w", err)
	}
	ts, err := FromSeconds(f)
	if err != nil {
		return err
	}
	*t = ts
	return nil
}
