package domain

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/argon2"
)

// API Key constants.
const (
	// APIKeyIDPrefix is the prefix for API Key IDs (public, uses hyphen).
	APIKeyIDPrefix = "ctak-"

	// APIKeySecretPrefix is the prefix for API Key secrets (sensitive, uses underscore).
	APIKeySecretPrefix = "ctsk_"
)

// Argon2 parameters for API Key secret hashing.
const (
	// Argon2Memory is the memory parameter in KB (16 MB).
	Argon2Memory uint32 = 16384

	// Argon2Time is the iteration count.
	Argon2Time uint32 = 2

	// Argon2Parallelism is the parallelism factor.
	Argon2Parallelism uint8 = 2

	// Argon2KeyLen is the output hash length in bytes.
	Argon2KeyLen uint32 = 32

	// Argon2SaltLen is the salt length in bytes.
	Argon2SaltLen = 16
)

// Role defines the permission level of a staff API key.
type Role string

const (
	// RoleMetrics has read-only access to monitoring metrics.
	RoleMetrics Role = "metrics"

	// RoleValidator can inspect tokens and their records.
	RoleValidator Role = "validator"

	// RoleIssuer can issue and revoke tokens and run attendance sessions.
	RoleIssuer Role = "issuer"

	// RoleAdmin has full access including sweeps.
	RoleAdmin Role = "admin"
)

// ValidRoles returns all valid roles.
func ValidRoles() []Role {
	return []Role{RoleMetrics, RoleValidator, RoleIssuer, RoleAdmin}
}

// IsValidRole checks if a string is a valid role.
func IsValidRole(r string) bool {
	switch Role(r) {
	case RoleMetrics, RoleValidator, RoleIssuer, RoleAdmin:
		return true
	}
	return false
}

// KeyStatus defines the status of an API key.
type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "active"
	KeyStatusDisabled KeyStatus = "disabled"
)

// Permission represents an action that can be performed.
type Permission string

const (
	PermTokenIssue    Permission = "token.issue"
	PermTokenRevoke   Permission = "token.revoke"
	PermTokenRead     Permission = "token.read"
	PermRequestCancel Permission = "request.cancel"
	PermSessionManage Permission = "session.manage"
	PermSystemSweep   Permission = "system.sweep"
	PermMetricsRead   Permission = "metrics.read"
)

var rolePermissions = map[Role][]Permission{
	RoleMetrics: {
		PermMetricsRead,
	},
	RoleValidator: {
		PermTokenRead,
		PermMetricsRead,
	},
	RoleIssuer: {
		PermTokenIssue,
		PermTokenRevoke,
		PermTokenRead,
		PermRequestCancel,
		PermSessionManage,
		PermMetricsRead,
	},
	RoleAdmin: {
		PermTokenIssue,
		PermTokenRevoke,
		PermTokenRead,
		PermRequestCancel,
		PermSessionManage,
		PermSystemSweep,
		PermMetricsRead,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// APIKey is a staff credential for the administrative endpoints.
type APIKey struct {
	// KeyID format: ctak-{ulid_lowercase}, 31 characters total.
	KeyID string `json:"key_id" koanf:"id"`

	Name string `json:"name" koanf:"name"`

	// SecretHash is the Argon2id hash of the secret (never exposed).
	SecretHash string `json:"-" koanf:"secret_hash"`

	Role Role `json:"role" koanf:"role"`

	// OrganizationID binds the key to one tenant. Empty means the key may
	// act on any organization.
	OrganizationID string `json:"organization_id,omitempty" koanf:"organization_id"`

	// Allowlist contains IP/CIDR entries. Empty means no restriction.
	Allowlist []string `json:"allowlist,omitempty" koanf:"allowlist"`

	// RateLimit is the QPS limit.
	RateLimit int `json:"rate_limit" koanf:"rate_limit"`

	Status KeyStatus `json:"status" koanf:"status"`

	// ExpiresAt is the absolute expiration time (Unix MS), 0 = never.
	ExpiresAt int64 `json:"expires_at,omitempty" koanf:"expires_at"`

	LastUsed int64 `json:"last_used,omitempty" koanf:"-"`
}

// ResolveOrganization returns the organization a call made with k acts on.
// A bound key always acts on its own organization, and ok is false when the
// caller names another one. An unbound or nil key acts on requested.
func (k *APIKey) ResolveOrganization(requested string) (org string, ok bool) {
	if k == nil || k.OrganizationID == "" {
		return requested, true
	}
	if requested != "" && requested != k.OrganizationID {
		return "", false
	}
	return k.OrganizationID, true
}

// APIKey constraints.
const (
	MaxAllowlistEntries = 100
	MinRateLimit        = 1
	MaxRateLimit        = 1000000
	SecretLength        = 32
	DefaultKeyRateLimit = 1000
)

// NewAPIKey creates a new APIKey with a generated ID and secret.
// Returns the key and the plaintext secret (only returned once).
func NewAPIKey(name string, role Role) (*APIKey, string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(timeNow()), entropy)
	if err != nil {
		return nil, "", ErrInternalServer.WithCause(err)
	}

	secretBytes := make([]byte, SecretLength)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, "", ErrInternalServer.WithCause(err)
	}
	plainSecret := APIKeySecretPrefix + base64.RawURLEncoding.EncodeToString(secretBytes)

	secretHash, err := HashSecret(plainSecret)
	if err != nil {
		return nil, "", ErrInternalServer.WithCause(err)
	}

	return &APIKey{
		KeyID:      APIKeyIDPrefix + strings.ToLower(id.String()),
		Name:       name,
		SecretHash: secretHash,
		Role:       role,
		Status:     KeyStatusActive,
		RateLimit:  DefaultKeyRateLimit,
	}, plainSecret, nil
}

// HashSecret computes an Argon2id hash of the secret.
// Format: $argon2id$v=19$m=16384,t=2,p=2$<salt>$<hash>
func HashSecret(secret string) (string, error) {
	salt := make([]byte, Argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(secret), salt, Argon2Time, Argon2Memory, Argon2Parallelism, Argon2KeyLen)

	saltB64 := base64.RawStdEncoding.EncodeToString(salt)
	hashB64 := base64.RawStdEncoding.EncodeToString(hash)

	return "$argon2id$v=19$m=16384,t=2,p=2$" + saltB64 + "$" + hashB64, nil
}

// VerifySecret reports whether secret matches an Argon2id hash produced by
// HashSecret. The cost parameters are read from the hash itself.
func VerifySecret(secret, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return false
	}
	var (
		memory, iterations uint32
		parallelism        uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false
	}
	got := argon2.IDKey([]byte(secret), salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// IsExpired returns true if the API key has expired.
func (k *APIKey) IsExpired() bool {
	if k.ExpiresAt == 0 {
		return false
	}
	return timeNow().UnixMilli() > k.ExpiresAt
}

// IsActive returns true if the key is active and not expired.
func (k *APIKey) IsActive() bool {
	return k.Status == KeyStatusActive && !k.IsExpired()
}

// Validate validates the API key fields.
func (k *APIKey) Validate() error {
	var violations []string

	if k.KeyID == "" {
		violations = append(violations, "key_id is required")
	}
	if k.SecretHash == "" {
		violations = append(violations, "secret_hash is required")
	}
	if !IsValidRole(string(k.Role)) {
		violations = append(violations, "invalid role")
	}
	if k.Status != KeyStatusActive && k.Status != KeyStatusDisabled {
		violations = append(violations, "invalid status")
	}
	if len(k.Allowlist) > MaxAllowlistEntries {
		violations = append(violations, "allowlist exceeds 100 entries")
	}
	if k.RateLimit < MinRateLimit || k.RateLimit > MaxRateLimit {
		violations = append(violations, "rate_limit must be between 1 and 1,000,000")
	}

	if len(violations) > 0 {
		return ErrAPIKeyValidation.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}

// Clone creates a deep copy of the API key.
func (k *APIKey) Clone() *APIKey {
	clone := *k
	if k.Allowlist != nil {
		clone.Allowlist = append([]string(nil), k.Allowlist...)
	}
	return &clone
}

// MaskAPIKeySecret masks an API key secret for safe logging.
func MaskAPIKeySecret(secret string) string {
	if len(secret) < 10 || !strings.HasPrefix(secret, APIKeySecretPrefix) {
		return "***REDACTED***"
	}
	body := secret[len(APIKeySecretPrefix):]
	return APIKeySecretPrefix + body[:3] + "..." + body[len(body)-3:]
}

// timeNow is a hook for testing.
var timeNow = time.Now
