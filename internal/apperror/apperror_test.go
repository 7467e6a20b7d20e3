package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, KindCollectionNotFound.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, KindBatchNotFound.HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, KindConflict.HTTPStatus())
	assert.Equal(t, http.StatusForbidden, KindQuota.HTTPStatus())
	assert.Equal(t, http.StatusUnauthorized, KindInvalidGeneration.HTTPStatus())
}

func TestSentryExclusions(t *testing.T) {
	assert.False(t, KindConflict.IsSentryEvent())
	assert.False(t, KindPoolTimeout.IsSentryEvent())
	assert.True(t, KindBackend.IsSentryEvent())
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := Wrap(KindBackend, cause, "query failed")
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, KindBackend, KindOf(err))
}

func TestIsHelper(t *testing.T) {
	err := New(KindBsoNotFound, "not found")
	assert.True(t, Is(err, KindBsoNotFound))
	assert.False(t, Is(err, KindQuota))
	assert.False(t, Is(errors.New("plain"), KindBsoNotFound))
}
