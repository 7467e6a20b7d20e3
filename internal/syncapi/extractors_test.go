package syncapi

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReadFilterLimit(t *testing.T) {
	cases := []struct {
		name      string
		limit     string
		wantErr   bool
		wantLimit int
	}{
		{name: "absent uses max", limit: "", wantLimit: 50},
		{name: "zero is a valid boundary case", limit: "0", wantLimit: 0},
		{name: "positive under max", limit: "10", wantLimit: 10},
		{name: "positive clamps to max", limit: "1000", wantLimit: 50},
		{name: "negative is rejected", limit: "-1", wantErr: true},
		{name: "non-numeric is rejected", limit: "abc", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			url := "/storage/tabs"
			if tc.limit != "" {
				url += "?limit=" + tc.limit
			}
			r := httptest.NewRequest("GET", url, nil)

			filter, err := parseReadFilter(r, 50)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantLimit, filter.Limit)
		})
	}
}
