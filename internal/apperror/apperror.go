// Package apperror defines the stable error taxonomy shared by the storage
// and tokenserver services: each Kind carries the HTTP status it maps to,
// a metric label for observability, and whether it should reach Sentry.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of error with a fixed HTTP mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindCollectionNotFound
	KindBsoNotFound
	KindBatchNotFound
	KindConflict
	KindQuota
	KindInvalidTimestamp
	KindValidation
	KindPrecondition
	KindPoolTimeout
	KindBackend
	KindBackendNotImplemented
	KindInvalidCredentials
	KindInvalidGeneration
	KindInvalidKeysChangedAt
	KindInvalidClientState
	KindInvalidKeyID
)

type kindMeta struct {
	httpStatus    int
	metricLabel   string
	isSentryEvent bool
}

var meta = map[Kind]kindMeta{
	KindUnknown:               {http.StatusInternalServerError, "storage.unknown", true},
	KindCollectionNotFound:    {http.StatusNotFound, "storage.collection_not_found", false},
	KindBsoNotFound:           {http.StatusNotFound, "storage.bso_not_found", false},
	KindBatchNotFound:         {http.StatusBadRequest, "storage.batch_not_found", false},
	KindConflict:              {http.StatusServiceUnavailable, "storage.conflict", false},
	KindQuota:                 {http.StatusForbidden, "storage.quota", false},
	KindInvalidTimestamp:      {http.StatusBadRequest, "storage.invalid_timestamp", false},
	KindValidation:            {http.StatusBadRequest, "storage.validation", false},
	KindPrecondition:          {http.StatusPreconditionFailed, "storage.precondition", false},
	KindPoolTimeout:           {http.StatusServiceUnavailable, "storage.pool.timeout", false},
	KindBackend:               {http.StatusServiceUnavailable, "storage.backend", true},
	KindBackendNotImplemented: {http.StatusServiceUnavailable, "storage.backend.not_implemented", true},
	KindInvalidCredentials:    {http.StatusUnauthorized, "tokenserver.invalid_credentials", false},
	KindInvalidGeneration:     {http.StatusUnauthorized, "tokenserver.invalid_generation", false},
	KindInvalidKeysChangedAt:  {http.StatusUnauthorized, "tokenserver.invalid_keys_changed_at", false},
	KindInvalidClientState:    {http.StatusUnauthorized, "tokenserver.invalid_client_state", false},
	KindInvalidKeyID:          {http.StatusUnauthorized, "tokenserver.invalid_key_id", false},
}

// HTTPStatus returns the HTTP status code this Kind maps to.
func (k Kind) HTTPStatus() int {
	if m, ok := meta[k]; ok {
		return m.httpStatus
	}
	return http.StatusInternalServerError
}

// MetricLabel returns the stable metric label for this Kind.
func (k Kind) MetricLabel() string {
	if m, ok := meta[k]; ok {
		return m.metricLabel
	}
	return "storage.unknown"
}

// IsSentryEvent reports whether errors of this Kind should be reported to
// the crash tracker. Conflict and PoolTimeout are excluded to avoid noise.
func (k Kind) IsSentryEvent() bool {
	if m, ok := meta[k]; ok {
		return m.isSentryEvent
	}
	return true
}

// Error is the concrete error type carried through the driver and handler
// layers. It wraps an underlying cause (if any) and is matched with
// errors.As/errors.Is by callers that need to branch on Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an Error of the given Kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an Error of the given Kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps cause as an Error of the given Kind.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, otherwise returns KindUnknown.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ValidationIssue is one entry in a structured validation error body.
type ValidationIssue struct {
	Location    string `json:"location"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ValidationBody is the structured body returned for KindValidation and
// tokenserver 401 errors, per spec §7.
type ValidationBody struct {
	Status int               `json:"status"`
	Errors []ValidationIssue `json:"errors"`
}
