// Package domain defines the core domain models for captoken.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
// Codes follow the format CT-<FAMILY>-<HTTP status><sequence>.
type DomainError struct {
	Code    string // Error code (e.g., "CT-TOKN-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support. Two domain errors match by code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Issuance Errors (SCOP / PLCY)
// ============================================================================

var (
	// ErrInvalidScope indicates a scope references missing entities or
	// entities of another organization.
	ErrInvalidScope = NewDomainError("CT-SCOP-4000", "invalid scope")

	// ErrPolicyViolation indicates the validity policy is unusable
	// (non-positive ttl or use limit, conflicting use modes).
	ErrPolicyViolation = NewDomainError("CT-PLCY-4000", "validity policy violation")
)

// ============================================================================
// Token Errors (TOKN)
// ============================================================================

var (
	// ErrTokenMalformed indicates the presented value cannot be a token.
	// Callers outside the service treat it exactly like ErrTokenNotFound.
	ErrTokenMalformed = NewDomainError("CT-TOKN-4000", "malformed token")

	// ErrTokenNotFound indicates no token matches the presented value, or it
	// belongs to another organization.
	ErrTokenNotFound = NewDomainError("CT-TOKN-4040", "token not found")

	// ErrTokenExpired indicates the validity window has passed.
	ErrTokenExpired = NewDomainError("CT-TOKN-4100", "token expired")

	// ErrTokenRevoked indicates the token was administratively revoked.
	ErrTokenRevoked = NewDomainError("CT-TOKN-4101", "token revoked")

	// ErrTokenAlreadyConsumed indicates a one-shot token was already used.
	ErrTokenAlreadyConsumed = NewDomainError("CT-TOKN-4102", "token already consumed")

	// ErrTokenExhausted indicates a multi-use token reached max_uses.
	ErrTokenExhausted = NewDomainError("CT-TOKN-4103", "token use limit reached")

	// ErrTokenKindMismatch indicates the token cannot serve the requested action.
	ErrTokenKindMismatch = NewDomainError("CT-TOKN-4001", "token kind does not support this action")

	// ErrTokenHashConflict indicates a token value collision on insert.
	ErrTokenHashConflict = NewDomainError("CT-TOKN-4090", "token hash conflict")

	// ErrAlreadyCheckedIn indicates the presenter already has a valid
	// record on this multi-use token.
	ErrAlreadyCheckedIn = NewDomainError("CT-TOKN-4091", "presenter already checked in")
)

// ============================================================================
// Check Errors (CHCK)
// ============================================================================

var (
	// ErrIdentityMismatch indicates the signer is not the bound subject.
	ErrIdentityMismatch = NewDomainError("CT-CHCK-4030", "signer identity does not match")

	// ErrOutOfRange indicates the reported position is outside the geofence.
	ErrOutOfRange = NewDomainError("CT-CHCK-4220", "location out of range")

	// ErrNoFix indicates coordinates are required but missing.
	ErrNoFix = NewDomainError("CT-CHCK-4221", "location required")

	// ErrAttestationRequired indicates the signer did not attest.
	ErrAttestationRequired = NewDomainError("CT-CHCK-4222", "attestation required")

	// ErrSignatureMissing indicates the signature payload is empty.
	ErrSignatureMissing = NewDomainError("CT-CHCK-4223", "signature data required")
)

// ============================================================================
// Request Errors (REQS)
// ============================================================================

var (
	// ErrRequestNotFound indicates the signature request does not exist.
	ErrRequestNotFound = NewDomainError("CT-REQS-4040", "request not found")

	// ErrRequestClosed indicates the request is no longer pending.
	ErrRequestClosed = NewDomainError("CT-REQS-4100", "request no longer pending")

	// ErrSessionNotFound indicates the attendance session does not exist.
	ErrSessionNotFound = NewDomainError("CT-SESS-4040", "attendance session not found")

	// ErrSessionState indicates an attendance session transition is not allowed
	// from its current status.
	ErrSessionState = NewDomainError("CT-SESS-4090", "attendance session state conflict")

	// ErrSessionValidation indicates attendance session data validation failed.
	ErrSessionValidation = NewDomainError("CT-SESS-4001", "attendance session validation failed")
)

// ============================================================================
// Authentication Errors (AUTH)
// ============================================================================

var (
	// ErrAPIKeyMissing indicates no API key was provided.
	ErrAPIKeyMissing = NewDomainError("CT-AUTH-4010", "api key not provided")

	// ErrAPIKeyInvalid indicates the API key is invalid or does not exist.
	ErrAPIKeyInvalid = NewDomainError("CT-AUTH-4011", "invalid api key")

	// ErrAPIKeyDisabled indicates the API key has been disabled.
	ErrAPIKeyDisabled = NewDomainError("CT-AUTH-4012", "api key disabled")

	// ErrIdentityInvalid indicates the presented identity assertion failed
	// verification.
	ErrIdentityInvalid = NewDomainError("CT-AUTH-4013", "invalid identity assertion")

	// ErrPermissionDenied indicates insufficient permissions.
	ErrPermissionDenied = NewDomainError("CT-AUTH-4030", "permission denied")

	// ErrIPNotAllowed indicates the IP is not in the allowlist.
	ErrIPNotAllowed = NewDomainError("CT-AUTH-4031", "ip not in allowlist")

	// ErrAPIKeyValidation indicates API key validation failed.
	ErrAPIKeyValidation = NewDomainError("CT-AUTH-4001", "api key validation failed")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternalServer indicates an internal server error.
	ErrInternalServer = NewDomainError("CT-SYS-5000", "internal server error")

	// ErrStoreUnavailable indicates the token store could not answer.
	// It never stands for any token-state outcome.
	ErrStoreUnavailable = NewDomainError("CT-SYS-5030", "token store unavailable")

	// ErrBadRequest indicates a malformed request.
	ErrBadRequest = NewDomainError("CT-SYS-4000", "bad request")

	// ErrRateLimited indicates too many requests.
	ErrRateLimited = NewDomainError("CT-SYS-4290", "too many requests")

	// ErrDirectoryUnavailable indicates the entity directory could not answer.
	ErrDirectoryUnavailable = NewDomainError("CT-SYS-5031", "entity directory unavailable")
)

// ErrEntityNotFound indicates a directory lookup found no entity.
var ErrEntityNotFound = NewDomainError("CT-DIR-4040", "entity not found")

// ErrLinkInvalid is the single public face of the token-state failures.
var ErrLinkInvalid = NewDomainError("CT-LINK-4100", "this link is no longer valid")

// IsLinkInvalid reports whether err belongs to the class collapsed into
// ErrLinkInvalid for presenting clients.
func IsLinkInvalid(err error) bool {
	switch {
	case errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrTokenNotFound),
		errors.Is(err, ErrTokenRevoked),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenAlreadyConsumed),
		errors.Is(err, ErrTokenExhausted),
		errors.Is(err, ErrTokenKindMismatch),
		errors.Is(err, ErrRequestClosed):
		return true
	}
	return false
}

// PublicError returns the error a presenting client may see. Token-state
// failures collapse into ErrLinkInvalid; everything else is returned as is.
func PublicError(err error) error {
	if IsLinkInvalid(err) {
		return ErrLinkInvalid
	}
	return err
}
