// Package adaptive provides authenticated encryption with automatic
// algorithm selection.
//
// AES-256-GCM is chosen where the CPU accelerates AES, ChaCha20-Poly1305
// otherwise. Keys are derived from a master secret with HKDF-SHA256 so one
// configured secret can serve several purposes.
//
// Usage:
//
//	key, err := adaptive.DeriveKey(master, "captoken token seal v1")
//	c, err := adaptive.New(key)
//	sealed, err := c.Encrypt(plaintext, aad)
//	plaintext, err := c.Decrypt(sealed, aad)
package adaptive
