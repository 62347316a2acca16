package domain

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spaolacci/murmur3"
)

// Identifier prefixes (public, use hyphen).
const (
	TokenIDPrefix   = "ctk-"
	RecordIDPrefix  = "ctr-"
	RequestIDPrefix = "ctq-"
	SessionIDPrefix = "cts-"
	AuditIDPrefix   = "cta-"
	idULIDLength    = 26
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID generates a ULID-based identifier with the given prefix.
// Format: {prefix}{ulid_lowercase}.
func NewID(prefix string, now time.Time) (string, error) {
	entropyMu.Lock()
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	entropyMu.Unlock()
	if err != nil {
		return "", ErrInternalServer.WithCause(err)
	}
	return prefix + strings.ToLower(id.String()), nil
}

// IsValidID checks that id carries prefix followed by a ULID.
func IsValidID(prefix, id string) bool {
	id = strings.ToLower(id)
	if !strings.HasPrefix(id, prefix) || len(id) != len(prefix)+idULIDLength {
		return false
	}
	_, err := ulid.Parse(strings.ToUpper(id[len(prefix):]))
	return err == nil
}

// PartitionOf maps an organization to one of n sweeper partitions.
// The mapping is stable for a fixed n.
func PartitionOf(organizationID string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(murmur3.Sum32([]byte(organizationID)) % uint32(n))
}
