package adaptive

import (
	"bytes"
	"testing"
)

var key32 = func() []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}()

func TestRoundTrip(t *testing.T) {
	for _, typ := range []CipherType{CipherAESGCM, CipherChaCha20} {
		t.Run(string(typ), func(t *testing.T) {
			c, err := NewWithType(key32, typ)
			if err != nil {
				t.Fatalf("NewWithType() error = %v", err)
			}
			if c.Type() != typ {
				t.Errorf("Type() = %s", c.Type())
			}

			plaintext := []byte("ctds_ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopq")
			aad := []byte("ctk-01")
			ct, err := c.Encrypt(plaintext, aad)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if len(ct) != len(plaintext)+c.NonceSize()+c.Overhead() {
				t.Errorf("ciphertext length = %d", len(ct))
			}

			got, err := c.Decrypt(ct, aad)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(got, plaintext) {
				t.Errorf("Decrypt() = %q", got)
			}

			if _, err := c.Decrypt(ct, []byte("ctk-02")); err == nil {
				t.Error("Decrypt with wrong additional data should fail")
			}
			if _, err := c.Decrypt(ct[:3], aad); err != ErrCiphertextTooShort {
				t.Errorf("Decrypt(short) error = %v", err)
			}
		})
	}
}

func TestNewWithType_InvalidKey(t *testing.T) {
	if _, err := NewWithType(make([]byte, 7), CipherAESGCM); err == nil {
		t.Error("AES-GCM accepted a 7 byte key")
	}
	if _, err := NewWithType(make([]byte, 16), CipherChaCha20); err == nil {
		t.Error("ChaCha20 accepted a 16 byte key")
	}
	if _, err := NewWithType(key32, "rot13"); err == nil {
		t.Error("unknown type accepted")
	}
}

func TestDeriveKey(t *testing.T) {
	a, err := DeriveKey([]byte("master"), "seal")
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	b, _ := DeriveKey([]byte("master"), "seal")
	c, _ := DeriveKey([]byte("master"), "integrity")

	if len(a) != KeySize {
		t.Errorf("len = %d", len(a))
	}
	if !bytes.Equal(a, b) {
		t.Error("DeriveKey not deterministic")
	}
	if bytes.Equal(a, c) {
		t.Error("different info produced the same key")
	}
	if _, err := DeriveKey(nil, "seal"); err == nil {
		t.Error("empty master accepted")
	}
}
