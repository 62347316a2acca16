package adaptive

import (
	"crypto/rand"
	"fmt"
	"testing"
)

func sizeLabel(n int) string {
	if n >= 1024 {
		return fmt.Sprintf("%dKB", n/1024)
	}
	return fmt.Sprintf("%dB", n)
}

func BenchmarkEncrypt(b *testing.B) {
	for _, typ := range []CipherType{CipherAESGCM, CipherChaCha20} {
		for _, size := range []int{48, 256, 4096} {
			b.Run(string(typ)+"/"+sizeLabel(size), func(b *testing.B) {
				c, err := NewWithType(key32, typ)
				if err != nil {
					b.Fatalf("NewWithType: %v", err)
				}
				data := make([]byte, size)
				rand.Read(data)
				ad := []byte("ctk-bench")

				b.ReportAllocs()
				b.SetBytes(int64(size))
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if _, err := c.Encrypt(data, ad); err != nil {
						b.Fatalf("Encrypt: %v", err)
					}
				}
			})
		}
	}
}

func BenchmarkDecrypt(b *testing.B) {
	c, err := New(key32)
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	// A token value is 48 bytes.
	data := make([]byte, 48)
	rand.Read(data)
	sealed, err := c.Encrypt(data, nil)
	if err != nil {
		b.Fatalf("Encrypt: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Decrypt(sealed, nil); err != nil {
			b.Fatalf("Decrypt: %v", err)
		}
	}
}

func BenchmarkEncrypt_Parallel(b *testing.B) {
	c, err := New(key32)
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	data := make([]byte, 1024)
	rand.Read(data)

	b.SetBytes(1024)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			sealed, err := c.Encrypt(data, nil)
			if err != nil {
				b.Errorf("Encrypt: %v", err)
				return
			}
			if _, err := c.Decrypt(sealed, nil); err != nil {
				b.Errorf("Decrypt: %v", err)
				return
			}
		}
	})
}

func BenchmarkDeriveKey(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := DeriveKey(key32, "captoken token value"); err != nil {
			b.Fatalf("DeriveKey: %v", err)
		}
	}
}
