package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLBHeartbeatAlwaysOK(t *testing.T) {
	srv := NewServer(CheckerFunc(func(ctx context.Context) error {
		return errors.New("backend down")
	}))

	req := httptest.NewRequest(http.MethodGet, "/__lbheartbeat__", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHeartbeatReflectsPoolHealth(t *testing.T) {
	healthy := true
	srv := NewServer(CheckerFunc(func(ctx context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("pool exhausted")
	}))

	req := httptest.NewRequest(http.MethodGet, "/__heartbeat__", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	req = httptest.NewRequest(http.MethodGet, "/__heartbeat__", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
