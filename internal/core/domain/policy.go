package domain

import (
	"strings"
	"time"
)

// IdentityMode states whether a token value alone is enough to act, or the
// presenter must also prove to be the bound subject.
type IdentityMode string

const (
	// IdentityAnonymous makes the token value the sole credential.
	IdentityAnonymous IdentityMode = "anonymous"

	// IdentityAuthenticated requires a verified identity equal to the subject.
	IdentityAuthenticated IdentityMode = "authenticated"
)

// IsValid reports whether m is a known identity mode.
func (m IdentityMode) IsValid() bool {
	return m == IdentityAnonymous || m == IdentityAuthenticated
}

// Policy limits the validity of an issued token.
type Policy struct {
	TTL       time.Duration `json:"ttl"`
	MaxUses   int64         `json:"max_uses,omitempty"`
	OneShot   bool          `json:"one_shot,omitempty"`
	Unlimited bool          `json:"unlimited,omitempty"`

	IdentityMode IdentityMode `json:"identity_mode,omitempty"`

	// ConsumeOnFailedCheck spends a use when a proximity or identity check
	// fails.
	ConsumeOnFailedCheck bool `json:"consume_on_failed_check,omitempty"`
}

// Validate checks the policy for kind. Signature kinds are always one-shot.
func (p Policy) Validate(kind Kind) error {
	var violations []string

	if p.TTL <= 0 {
		violations = append(violations, "ttl must be positive")
	}

	modes := 0
	if p.OneShot {
		modes++
	}
	if p.Unlimited {
		modes++
	}
	if p.MaxUses != 0 {
		modes++
		if p.MaxUses < 0 {
			violations = append(violations, "max_uses must be positive")
		}
	}
	switch {
	case modes == 0:
		violations = append(violations, "one of one_shot, max_uses or unlimited is required")
	case modes > 1:
		violations = append(violations, "one_shot, max_uses and unlimited are exclusive")
	}

	if kind.IsSignature() && !p.OneShot {
		violations = append(violations, "signature tokens must be one-shot")
	}
	if kind.IsSignature() && p.ConsumeOnFailedCheck {
		violations = append(violations, "consume_on_failed_check is not supported for signature tokens")
	}

	if p.IdentityMode != "" && !p.IdentityMode.IsValid() {
		violations = append(violations, "invalid identity_mode")
	}

	if len(violations) > 0 {
		return ErrPolicyViolation.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}
