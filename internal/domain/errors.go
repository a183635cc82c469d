package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches DomainErrors by code so wrapped sentinels compare equal.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Message == e.Message || t.Message == "")
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeTierUnavailable  = "TIER_UNAVAILABLE"
	ErrCodeIndexNotBuilt    = "INDEX_NOT_BUILT"
	ErrCodeGeneration       = "GENERATION_FAILED"
	ErrCodeConfiguration    = "CONFIGURATION_ERROR"
	ErrCodeNoTierAvailable  = "NO_TIER_AVAILABLE"
	ErrCodeIngestInProgress = "INGEST_IN_PROGRESS"
)

// Validation errors
var (
	ErrEmptyQuery = NewDomainError(ErrCodeValidation, "query cannot be empty")
)

// Retrieval errors
var (
	ErrTierUnavailable = NewDomainError(ErrCodeTierUnavailable, "")
	ErrIndexNotBuilt   = NewDomainError(ErrCodeIndexNotBuilt, "retrieval index has not been built")
	ErrNoTierAvailable = NewDomainError(ErrCodeNoTierAvailable, "no retrieval tier could answer the query")
	ErrIngestRunning   = NewDomainError(ErrCodeIngestInProgress, "an ingestion is already running")
)

// NewTierUnavailable reports that a tier cannot serve the current query.
func NewTierUnavailable(tier Tier, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeTierUnavailable, fmt.Sprintf("%s tier unavailable", tier), err)
}

// NewConfigurationError reports a misconfiguration that must be surfaced to the caller.
func NewConfigurationError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeConfiguration, message, err)
}

// HasCode reports whether err wraps a DomainError with the given code.
func HasCode(err error, code string) bool {
	var de *DomainError
	for err != nil {
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// BackendKind classifies failures of external services.
type BackendKind string

const (
	KindUnavailable   BackendKind = "unavailable"
	KindTransport     BackendKind = "transport"
	KindRateLimited   BackendKind = "rate_limited"
	KindAccessDenied  BackendKind = "access_denied"
	KindNotFound      BackendKind = "not_found"
	KindInvalidInput  BackendKind = "invalid_input"
	KindEmptyResponse BackendKind = "empty_response"
)

// BackendError is a classified failure from an embedding, generation or knowledge base service.
type BackendError struct {
	Backend string
	Kind    BackendKind
	Err     error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Backend, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s", e.Backend, e.Kind)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Retryable reports whether one more attempt may succeed.
func (e *BackendError) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindRateLimited
}

// Fallthrough reports whether the orchestrator should move to the next tier.
func (e *BackendError) Fallthrough() bool {
	switch e.Kind {
	case KindUnavailable, KindTransport, KindRateLimited, KindEmptyResponse:
		return true
	}
	return false
}

// NewBackendError creates a classified backend failure.
func NewBackendError(backend string, kind BackendKind, err error) *BackendError {
	return &BackendError{Backend: backend, Kind: kind, Err: err}
}

// AsBackendError extracts a BackendError from err.
func AsBackendError(err error) (*BackendError, bool) {
	var be *BackendError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// IsRateLimited reports whether err is a quota or throttling failure.
func IsRateLimited(err error) bool {
	be, ok := AsBackendError(err)
	return ok && be.Kind == KindRateLimited
}
