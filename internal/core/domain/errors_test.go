package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("CT-TEST-1000", "test message"),
			expected: "[CT-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("CT-TEST-1001", "test message").WithDetails("extra info"),
			expected: "[CT-TEST-1001] test message: extra info",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	err1 := NewDomainError("CT-TEST-1000", "message 1")
	err2 := NewDomainError("CT-TEST-1000", "message 2")
	err3 := NewDomainError("CT-TEST-1001", "message 1")

	if !errors.Is(err1, err2) {
		t.Error("errors.Is should return true for same error code")
	}
	if errors.Is(err1, err3) {
		t.Error("errors.Is should return false for different error code")
	}
	if errors.Is(err1, fmt.Errorf("some error")) {
		t.Error("errors.Is should return false for non-DomainError")
	}
}

func TestDomainError_WrappedIs(t *testing.T) {
	cause := fmt.Errorf("dial tcp: refused")
	err := fmt.Errorf("consume: %w", ErrStoreUnavailable.WithCause(cause))

	if !errors.Is(err, ErrStoreUnavailable) {
		t.Error("wrapped domain error should match its sentinel")
	}
	if !errors.Is(err, cause) {
		t.Error("cause should stay reachable through Unwrap")
	}
	if got := GetErrorCode(err); got != "CT-SYS-5030" {
		t.Errorf("GetErrorCode() = %q, want CT-SYS-5030", got)
	}
	if !IsDomainError(err, "") {
		t.Error("IsDomainError(err, \"\") should be true")
	}
}

func TestIsLinkInvalid(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrTokenNotFound, true},
		{ErrTokenMalformed, true},
		{ErrTokenRevoked.WithDetails("by admin"), true},
		{ErrTokenExpired, true},
		{ErrTokenAlreadyConsumed, true},
		{ErrTokenExhausted, true},
		{ErrRequestClosed, true},
		{ErrOutOfRange, false},
		{ErrNoFix, false},
		{ErrIdentityMismatch, false},
		{ErrStoreUnavailable, false},
		{fmt.Errorf("plain"), false},
	}

	for _, tt := range tests {
		if got := IsLinkInvalid(tt.err); got != tt.want {
			t.Errorf("IsLinkInvalid(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestPublicError(t *testing.T) {
	if got := PublicError(ErrTokenRevoked); got != ErrLinkInvalid {
		t.Errorf("PublicError(revoked) = %v, want link invalid", got)
	}
	if got := PublicError(ErrOutOfRange); !errors.Is(got, ErrOutOfRange) {
		t.Errorf("PublicError(out of range) = %v, want unchanged", got)
	}
}
