// Package seal computes keyed BLAKE3 integrity seals over ordered fields.
//
// A seal binds evidence (signer, signature data, client metadata) to a
// server-held key so a stored record can later be checked for tampering.
// Fields are length-prefixed before hashing, so ("ab","c") and ("a","bc")
// never collide.
package seal

import (
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/zeebo/blake3"
)

// KeySize is the required key length in bytes.
const KeySize = 32

// Prefix identifies the seal format.
const Prefix = "b3k1:"

// ErrKeySize is returned for keys that are not KeySize bytes.
var ErrKeySize = errors.New("seal: key must be 32 bytes")

// Sealer computes and verifies seals with one key. Safe for concurrent use.
type Sealer struct {
	key []byte
}

// New creates a Sealer. The key is copied.
func New(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	return &Sealer{key: append([]byte(nil), key...)}, nil
}

// Seal returns the seal of fields in order. Format: b3k1:{hex}.
func (s *Sealer) Seal(fields ...string) string {
	h, err := blake3.NewKeyed(s.key)
	if err != nil {
		// Key length is checked in New.
		panic("seal: keyed hasher: " + err.Error())
	}
	var n [8]byte
	for _, f := range fields {
		binary.LittleEndian.PutUint64(n[:], uint64(len(f)))
		_, _ = h.Write(n[:])
		_, _ = h.Write([]byte(f))
	}
	return Prefix + hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether seal matches fields.
func (s *Sealer) Verify(seal string, fields ...string) bool {
	if !strings.HasPrefix(seal, Prefix) {
		return false
	}
	want := s.Seal(fields...)
	return subtle.ConstantTimeCompare([]byte(seal), []byte(want)) == 1
}
