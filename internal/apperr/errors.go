// Package apperr defines the error taxonomy shared by the session layer,
// the identity provider client and the request gate.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// ProviderError means the identity provider was unreachable or rejected a request.
type ProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StorageError means the credential store could not serve a request.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError. A nil err stays nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// CredentialKind classifies why a presented credential was rejected.
type CredentialKind int

const (
	CredentialMalformed CredentialKind = iota + 1
	CredentialUnresolvable
	CredentialExpired
	CredentialRefreshFailed
)

func (k CredentialKind) String() string {
	switch k {
	case CredentialMalformed:
		return "malformed"
	case CredentialUnresolvable:
		return "unresolvable"
	case CredentialExpired:
		return "expired"
	case CredentialRefreshFailed:
		return "refresh_failed"
	default:
		return "unknown"
	}
}

// CredentialError is a rejected session credential. It is always recovered
// by clearing the cookie and redirecting to the login entry point.
type CredentialError struct {
	Kind CredentialKind
	Err  error
}

func (e *CredentialError) Error() string {
	if e.Err == nil {
		return "credential " + e.Kind.String()
	}
	return fmt.Sprintf("credential %s: %v", e.Kind, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// HTTPError is how route handlers report a failure to the request gate.
type HTTPError struct {
	Status  int
	Code    string
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// NewHTTPError creates an HTTPError.
func NewHTTPError(status int, code, message string) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message}
}

// StatusOf maps an error to the HTTP status it should surface with.
func StatusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// CodeOf returns the machine readable error code for an error.
func CodeOf(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return "GATE_PROVIDER_ERROR"
	}
	var storeErr *StorageError
	if errors.As(err, &storeErr) {
		return "GATE_STORAGE_UNAVAILABLE"
	}
	return "GATE_INTERNAL_ERROR"
}
