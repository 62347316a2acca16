package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// Token value constants.
const (
	// TokenHashPrefix is the prefix for token hashes.
	TokenHashPrefix = "ctth_"

	// TokenBytesLength is the number of random bytes behind a token value.
	TokenBytesLength = 32

	// TokenBodyLength is the Base64 RawURL encoded length (32 bytes -> 43 chars).
	TokenBodyLength = 43

	// TokenPrefixLength is the length of every kind prefix ("ctla_" etc).
	TokenPrefixLength = 5

	// TokenLength is the total token length (prefix + body).
	TokenLength = TokenPrefixLength + TokenBodyLength

	// TokenHashLength is the total token hash length (prefix + hex SHA-256).
	TokenHashLength = 5 + 64
)

// GenerateTokenValue generates a cryptographically random value for kind.
// Returns the plaintext value and its hash. Only the hash is a lookup key.
func GenerateTokenValue(kind Kind) (plaintext string, hash string, err error) {
	prefix := kind.ValuePrefix()
	if prefix == "" {
		return "", "", ErrPolicyViolation.WithDetails("unknown token kind")
	}

	b := make([]byte, TokenBytesLength)
	if _, err := rand.Read(b); err != nil {
		return "", "", ErrInternalServer.WithCause(err)
	}

	plaintext = prefix + base64.RawURLEncoding.EncodeToString(b)
	return plaintext, HashTokenValue(plaintext), nil
}

// HashTokenValue computes the SHA-256 hash of a token value.
// Format: ctth_{hex_sha256}.
func HashTokenValue(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return TokenHashPrefix + hex.EncodeToString(h[:])
}

// ParseTokenValue checks the format of a presented value and returns the
// kind its prefix names. Malformed values return ok=false.
func ParseTokenValue(value string) (Kind, bool) {
	if len(value) != TokenLength {
		return "", false
	}
	kind, ok := KindFromPrefix(value[:TokenPrefixLength])
	if !ok {
		return "", false
	}
	if _, err := base64.RawURLEncoding.DecodeString(value[TokenPrefixLength:]); err != nil {
		return "", false
	}
	return kind, true
}

// MaskTokenValue masks a token value for safe logging.
// Example: ctqr_ABC...xyz
func MaskTokenValue(value string) string {
	if len(value) < 10 {
		return "***REDACTED***"
	}
	if _, ok := KindFromPrefix(value[:TokenPrefixLength]); ok {
		body := value[TokenPrefixLength:]
		if len(body) > 6 {
			return value[:TokenPrefixLength] + body[:3] + "..." + body[len(body)-3:]
		}
		return value[:TokenPrefixLength] + "***"
	}
	return "***REDACTED***"
}

// ShortHash returns a log-friendly prefix of a token hash.
func ShortHash(hash string) string {
	body := strings.TrimPrefix(hash, TokenHashPrefix)
	if len(body) > 12 {
		body = body[:12]
	}
	return TokenHashPrefix + body
}
