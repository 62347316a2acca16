package domain

import (
	"strings"
	"time"
)

// Kind is the token family.
type Kind string

const (
	// KindLearnerAccess grants a learner read access to course material.
	KindLearnerAccess Kind = "learner_access"

	// KindQRCheckIn is a session QR code scanned by many attendees.
	KindQRCheckIn Kind = "qr_checkin"

	// KindAttendanceSignature is a per-attendee electronic attendance signature.
	KindAttendanceSignature Kind = "attendance_signature"

	// KindDocumentSignature is a per-signer document signature request.
	KindDocumentSignature Kind = "document_signature"
)

var kindPrefixes = map[Kind]string{
	KindLearnerAccess:       "ctla_",
	KindQRCheckIn:           "ctqr_",
	KindAttendanceSignature: "ctas_",
	KindDocumentSignature:   "ctds_",
}

// ValidKinds returns all token kinds.
func ValidKinds() []Kind {
	return []Kind{KindLearnerAccess, KindQRCheckIn, KindAttendanceSignature, KindDocumentSignature}
}

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	_, ok := kindPrefixes[k]
	return ok
}

// ValuePrefix returns the token value prefix of the kind.
func (k Kind) ValuePrefix() string {
	return kindPrefixes[k]
}

// IsSignature reports whether tokens of this kind are consumed through
// signature capture.
func (k Kind) IsSignature() bool {
	return k == KindAttendanceSignature || k == KindDocumentSignature
}

// KindFromPrefix resolves a value prefix back to its kind.
func KindFromPrefix(prefix string) (Kind, bool) {
	for k, p := range kindPrefixes {
		if p == prefix {
			return k, true
		}
	}
	return "", false
}

// Status is the persisted token status.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
	StatusConsumed  Status = "consumed"
	StatusExhausted Status = "exhausted"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s != StatusActive
}

// Scope binds a token to one organization, subject and target.
type Scope struct {
	OrganizationID string `json:"organization_id"`
	SubjectType    string `json:"subject_type"`
	SubjectID      string `json:"subject_id"`
	TargetType     string `json:"target_type"`
	TargetID       string `json:"target_id"`
}

// Validate checks that all scope fields are present.
func (s Scope) Validate() error {
	var missing []string
	if s.OrganizationID == "" {
		missing = append(missing, "organization_id")
	}
	if s.SubjectType == "" {
		missing = append(missing, "subject_type")
	}
	if s.SubjectID == "" {
		missing = append(missing, "subject_id")
	}
	if s.TargetType == "" {
		missing = append(missing, "target_type")
	}
	if s.TargetID == "" {
		missing = append(missing, "target_id")
	}
	if len(missing) > 0 {
		return ErrInvalidScope.WithDetails("missing " + strings.Join(missing, ", "))
	}
	return nil
}

// Token is a capability token. The plaintext value is never stored;
// ValueHash is the lookup key and SealedValue an optional encrypted copy.
type Token struct {
	// ID is the public identifier. Format: ctk-{ulid_lowercase}.
	ID string `json:"id"`

	// ValueHash is the SHA-256 hash of the value (format: ctth_...).
	ValueHash string `json:"-"`

	// SealedValue is the AEAD-sealed plaintext, used to rebuild reminder links.
	SealedValue []byte `json:"-"`

	Kind  Kind  `json:"kind"`
	Scope Scope `json:"scope"`

	// IssuedAt and ExpiresAt are Unix milliseconds.
	IssuedAt  int64 `json:"issued_at"`
	ExpiresAt int64 `json:"expires_at"`

	// Use accounting. MaxUses is zero for one-shot and unlimited tokens.
	OneShot   bool  `json:"one_shot"`
	Unlimited bool  `json:"unlimited,omitempty"`
	MaxUses   int64 `json:"max_uses,omitempty"`
	UseCount  int64 `json:"use_count"`
	Consumed  bool  `json:"consumed"`

	IdentityMode         IdentityMode `json:"identity_mode"`
	ConsumeOnFailedCheck bool         `json:"consume_on_failed_check,omitempty"`

	Status     Status `json:"status"`
	RevokedAt  int64  `json:"revoked_at,omitempty"`
	LastUsedAt int64  `json:"last_used_at,omitempty"`

	// IssuedBy is the API key that issued the token, or "system".
	IssuedBy string `json:"issued_by,omitempty"`

	// Partition is the sweeper partition of the organization.
	Partition int `json:"partition"`

	Payload Payload `json:"payload"`
}

// State derives the effective state at now. Revocation wins over every other
// condition, a persisted terminal status is final, and expiry is evaluated
// lazily so correctness never depends on the sweeper.
func (t *Token) State(now time.Time) Status {
	if t.RevokedAt != 0 || t.Status == StatusRevoked {
		return StatusRevoked
	}
	if t.Status.IsTerminal() {
		return t.Status
	}
	if now.UnixMilli() > t.ExpiresAt {
		return StatusExpired
	}
	if t.OneShot && t.Consumed {
		return StatusConsumed
	}
	if !t.OneShot && !t.Unlimited && t.UseCount >= t.MaxUses {
		return StatusExhausted
	}
	return StatusActive
}

// StateError maps a non-active state to its error.
func StateError(s Status) error {
	switch s {
	case StatusActive:
		return nil
	case StatusRevoked:
		return ErrTokenRevoked
	case StatusExpired:
		return ErrTokenExpired
	case StatusConsumed:
		return ErrTokenAlreadyConsumed
	case StatusExhausted:
		return ErrTokenExhausted
	}
	return ErrTokenNotFound
}

// VisibleTo reports whether a caller scoped to orgHint may learn anything
// about the token. An empty hint is unscoped.
func (t *Token) VisibleTo(orgHint string) bool {
	return orgHint == "" || orgHint == t.Scope.OrganizationID
}

// CheckUsable runs the validation order against the token: the organization
// hint, then revoked, expired, consumed or exhausted. A hint mismatch is
// reported as not found whatever the token state, so neither existence nor
// state leaks across tenants.
func (t *Token) CheckUsable(now time.Time, orgHint string) error {
	if !t.VisibleTo(orgHint) {
		return ErrTokenNotFound
	}
	return StateError(t.State(now))
}

// RemainingUses returns how many uses are left, or -1 when unbounded.
func (t *Token) RemainingUses() int64 {
	switch {
	case t.Unlimited:
		return -1
	case t.OneShot:
		if t.Consumed {
			return 0
		}
		return 1
	}
	if r := t.MaxUses - t.UseCount; r > 0 {
		return r
	}
	return 0
}

// StatusAfterUse returns the persisted status once one more use is recorded.
func (t *Token) StatusAfterUse() Status {
	switch {
	case t.OneShot:
		return StatusConsumed
	case !t.Unlimited && t.UseCount+1 >= t.MaxUses:
		return StatusExhausted
	}
	return StatusActive
}

// Anchor returns the proximity anchor carried by the payload, if any.
func (t *Token) Anchor() *ProximityAnchor {
	return t.Payload.Anchor()
}

// ExpiresAtTime returns ExpiresAt as time.Time.
func (t *Token) ExpiresAtTime() time.Time {
	return time.UnixMilli(t.ExpiresAt)
}

// IssuedAtTime returns IssuedAt as time.Time.
func (t *Token) IssuedAtTime() time.Time {
	return time.UnixMilli(t.IssuedAt)
}

// Clone creates a deep copy of the token.
func (t *Token) Clone() *Token {
	clone := *t
	if t.SealedValue != nil {
		clone.SealedValue = append([]byte(nil), t.SealedValue...)
	}
	clone.Payload = t.Payload.Clone()
	return &clone
}
