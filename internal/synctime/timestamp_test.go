package synctime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMillisecondsTruncates(t *testing.T) {
	assert.Equal(t, Timestamp(1230), FromMilliseconds(1234))
	assert.Equal(t, Timestamp(0), FromMilliseconds(9))
	assert.Equal(t, Timestamp(1000000000000), FromMilliseconds(1000000000000))
}

func TestFromSeconds(t *testing.T) {
	ts, err := FromSeconds(1577836800.120)
	require.NoError(t, err)
	assert.Equal(t, "1577836800.120", ts.AsSecondsString())

	_, err = FromSeconds(-1)
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
}

func TestAsSecondsStringRoundTrip(t *testing.T) {
	ts := Timestamp(1577836800120)
	assert.Equal(t, "1577836800.120", ts.AsSecondsString())
}

func TestTestClockOverride(t *testing.T) {
	AllowTestClockOverride(true)
	defer AllowTestClockOverride(false)

	require.NoError(t, SetTestTimestamp(Timestamp(500)))
	assert.Equal(t, Timestamp(500), Now())

	ClearTestTimestamp()
	assert.NotEqual(t, Timestamp(500), Now())
}

func TestSetTestTimestampRequiresOverrideEnabled(t *testing.T) {
	AllowTestClockOverride(false)
	err := SetTestTimestamp(Timestamp(100))
	assert.Error(t, err)
}

func TestSetTestTimestampRejectsInvalid(t *testing.T) {
	AllowTestClockOverride(true)
	defer AllowTestClockOverride(false)

	err := SetTestTimestamp(Timestamp(-10))
	assert.ErrorIs(t, err, ErrInvalidTimestamp)

	err = SetTestTimestamp(Timestamp(11))
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
}

func TestMaxAndOrdering(t *testing.T) {
	a := Timestamp(100)
	b := Timestamp(200)
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.Equal(t, b, Max(a, b))
	assert.Equal(t, b, Max(b, a))
}

func TestJSONRoundTrip(t *testing.T) {
	ts := Timestamp(1577836800120)
	data, err := ts.MarshalJSON()
	require.NoError(t, err)

	var got Timestamp
	require.NoError(t, got.UnmarshalJSON(data))
	assert.Equal(t, ts, got)
}
