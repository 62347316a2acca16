package snapshot

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/yndnr/captoken-go/pkg/crypto/adaptive"
)

// Encryption errors.
var (
	ErrKeyTooShort       = errors.New("snapshot: encryption key too short (minimum 16 bytes)")
	ErrPassphraseTooWeak = errors.New("snapshot: passphrase too weak (minimum 8 characters)")
	ErrDecryptionFailed  = errors.New("snapshot: decryption failed, wrong key or corrupted data")
	ErrKeyRequired       = errors.New("snapshot: archive is encrypted and no key is configured")
)

const (
	// MinKeyLength is the minimum raw key length.
	MinKeyLength = 16

	// MinPassphraseLength is the minimum passphrase length.
	MinPassphraseLength = 8

	// SaltLength is the Argon2id salt length.
	SaltLength = 16

	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
)

// EncryptionConfig configures archive encryption. Either Key or
// Passphrase enables it; Passphrase wins when both are set.
type EncryptionConfig struct {
	Key        []byte
	Passphrase []byte

	// Algorithm is "aes-gcm" or "chacha20-poly1305". Empty picks by platform.
	Algorithm string
}

// Enabled reports whether archives are encrypted.
func (c EncryptionConfig) Enabled() bool {
	return len(c.Key) > 0 || len(c.Passphrase) > 0
}

// ValidateConfig checks key and passphrase strength.
func ValidateConfig(cfg EncryptionConfig) error {
	if len(cfg.Passphrase) > 0 {
		if len(cfg.Passphrase) < MinPassphraseLength {
			return ErrPassphraseTooWeak
		}
		return nil
	}
	if len(cfg.Key) > 0 && len(cfg.Key) < MinKeyLength {
		return ErrKeyTooShort
	}
	switch adaptive.CipherType(cfg.Algorithm) {
	case "", adaptive.CipherAESGCM, adaptive.CipherChaCha20:
		return nil
	default:
		return fmt.Errorf("snapshot: unsupported algorithm: %s", cfg.Algorithm)
	}
}

// newCipher builds the archive cipher. With a passphrase, salt selects
// the derived key; a nil salt generates a fresh one, returned to the caller.
func newCipher(cfg EncryptionConfig, salt []byte, algo adaptive.CipherType) (adaptive.Cipher, []byte, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, nil, err
	}

	var key []byte
	switch {
	case len(cfg.Passphrase) > 0:
		if salt == nil {
			salt = make([]byte, SaltLength)
			if _, err := rand.Read(salt); err != nil {
				return nil, nil, fmt.Errorf("snapshot: generate salt: %w", err)
			}
		}
		key = DeriveKeyFromPassphrase(cfg.Passphrase, salt)
		defer ZeroKey(key)
	case len(cfg.Key) > 0:
		// Stretch short keys to the AEAD key size.
		derived, err := adaptive.DeriveKey(cfg.Key, "captoken backup archive")
		if err != nil {
			return nil, nil, err
		}
		key = derived
		defer ZeroKey(key)
	default:
		return nil, nil, ErrKeyRequired
	}

	if algo == "" {
		algo = adaptive.CipherType(cfg.Algorithm)
	}
	var (
		c   adaptive.Cipher
		err error
	)
	if algo == "" {
		c, err = adaptive.New(key)
	} else {
		c, err = adaptive.NewWithType(key, algo)
	}
	if err != nil {
		return nil, nil, err
	}
	return c, salt, nil
}

// DeriveKeyFromPassphrase derives a 32-byte key with Argon2id.
func DeriveKeyFromPassphrase(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

// GenerateKey returns a random key of length bytes.
func GenerateKey(length int) ([]byte, error) {
	if length < MinKeyLength {
		return nil, ErrKeyTooShort
	}
	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("snapshot: generate key: %w", err)
	}
	return key, nil
}

// ZeroKey overwrites key in place.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}
