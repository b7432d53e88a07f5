// Package errors defines the structured error types reported by the ADLS
// writer: service errors parsed from failed responses and phase-tagged write
// errors.
package errors

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a ServiceError by the HTTP status that produced it.
type ErrorKind int

const (
	// KindUnexpected covers every status without a more specific meaning.
	KindUnexpected ErrorKind = iota
	// KindNotFound is reported for 404.
	KindNotFound
	// KindPermissionDenied is reported for 401 and 403.
	KindPermissionDenied
	// KindConditionNotMatch is reported for 304, 409 and 412.
	KindConditionNotMatch
	// KindRateLimited is reported for 429.
	KindRateLimited
)

// String returns the lowercase name used in logs and metric labels.
func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindConditionNotMatch:
		return "condition_not_match"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unexpected"
	}
}

// Phase labels for WriteError.
const (
	PhaseCreate = "create"
	PhaseUpdate = "update"
)

// Sentinel errors.
var (
	// ErrInvalidPath is returned when a write targets an empty path or a
	// directory path (one ending in "/").
	ErrInvalidPath = errors.New("invalid file path")

	// ErrShortBuffer is returned when a buffer yields fewer bytes than it
	// reports as remaining.
	ErrShortBuffer = errors.New("buffer shorter than reported length")
)

// ServiceError is an error reported by the remote file store in a failed
// response.
type ServiceError struct {
	// StatusCode is the HTTP status of the failed response.
	StatusCode int
	// Code is the service error code (e.g. "PathNotFound"). It may be empty
	// when neither the body nor the x-ms-error-code header carried one.
	Code string
	// Message is the human-readable message, or the raw body when it could
	// not be decoded.
	Message string
	// RequestID is the x-ms-request-id of the failed response.
	RequestID string
	// Kind is derived from StatusCode.
	Kind ErrorKind
	// Temporary reports whether the same request may succeed later.
	Temporary bool
	// Body holds the raw response body.
	Body []byte
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("azdls: status %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("azdls: status %d (%s) %s: %s", e.StatusCode, e.Kind, e.Code, e.Message)
}

// WriteError is returned when a phase of a one-shot write receives a status
// outside its accepted set.
type WriteError struct {
	// Phase is PhaseCreate or PhaseUpdate.
	Phase string
	// Operation names the request that failed, for diagnostics.
	Operation string
	// Path is the file targeted by the write.
	Path string
	// Err is the service error parsed from the response body.
	Err *ServiceError
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Phase, e.Path, e.Operation, e.Err)
}

// Unwrap returns the underlying service error.
func (e *WriteError) Unwrap() error {
	return e.Err
}

// UnwrittenError wraps a failure that happened after the create phase was
// accepted but before the update phase got a response: a signing, transport
// or body error. The file exists and is empty. It carries no phase, and its
// message is that of the wrapped error.
type UnwrittenError struct {
	// Path is the file targeted by the write.
	Path string
	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *UnwrittenError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying failure.
func (e *UnwrittenError) Unwrap() error {
	return e.Err
}

// Created reports whether err describes a write whose create phase was
// accepted, leaving a file behind that was not written.
func Created(err error) bool {
	var ue *UnwrittenError
	if errors.As(err, &ue) {
		return true
	}
	var we *WriteError
	return errors.As(err, &we) && we.Phase == PhaseUpdate
}

// PhaseOf reports the phase label of err if it is (or wraps) a WriteError.
func PhaseOf(err error) (string, bool) {
	var we *WriteError
	if errors.As(err, &we) {
		return we.Phase, true
	}
	return "", false
}

// KindForStatus maps an HTTP status to its ErrorKind and whether the failure
// is temporary.
func KindForStatus(status int) (ErrorKind, bool) {
	switch status {
	case 404:
		return KindNotFound, false
	case 401, 403:
		return KindPermissionDenied, false
	case 304, 409, 412:
		return KindConditionNotMatch, false
	case 429:
		return KindRateLimited, true
	case 500, 502, 503, 504:
		return KindUnexpected, true
	default:
		return KindUnexpected, false
	}
}
