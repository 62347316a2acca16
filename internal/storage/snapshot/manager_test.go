package snapshot

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type memSource struct {
	data  []byte
	since uint64
}

func (s *memSource) Backup(w io.Writer) (uint64, error) {
	_, err := w.Write(s.data)
	return s.since, err
}

type memTarget struct {
	got []byte
}

func (t *memTarget) Restore(r io.Reader) error {
	b, err := io.ReadAll(r)
	t.got = b
	return err
}

func newTestManager(t *testing.T, enc EncryptionConfig) *Manager {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.Encryption = enc
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestManager_CreateRestore(t *testing.T) {
	tests := []struct {
		name string
		enc  EncryptionConfig
	}{
		{"plain", EncryptionConfig{}},
		{"raw key", EncryptionConfig{Key: bytes.Repeat([]byte{7}, 16)}},
		{"passphrase", EncryptionConfig{Passphrase: []byte("correct horse battery")}},
		{"chacha", EncryptionConfig{Key: bytes.Repeat([]byte{9}, 32), Algorithm: "chacha20-poly1305"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, tt.enc)
			src := &memSource{data: []byte("badger backup stream"), since: 42}

			info, err := m.Create(src)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if info.Since != 42 || info.Encrypted != tt.enc.Enabled() {
				t.Errorf("info = %+v", info)
			}

			raw, _ := os.ReadFile(info.Path)
			if tt.enc.Enabled() && bytes.Contains(raw, src.data) {
				t.Error("encrypted archive contains plaintext")
			}

			dst := &memTarget{}
			got, err := m.Restore(dst)
			if err != nil {
				t.Fatalf("Restore: %v", err)
			}
			if got.ID != info.ID || !bytes.Equal(dst.got, src.data) {
				t.Errorf("restored %q from %s, want %q from %s", dst.got, got.ID, src.data, info.ID)
			}
		})
	}
}

func TestManager_WrongKey(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.Encryption = EncryptionConfig{Passphrase: []byte("first passphrase")}
	m, _ := NewManager(cfg)
	if _, err := m.Create(&memSource{data: []byte("x")}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	cfg.Encryption = EncryptionConfig{Passphrase: []byte("other passphrase")}
	other, _ := NewManager(cfg)
	if _, err := other.Restore(&memTarget{}); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Restore with wrong passphrase err = %v, want ErrDecryptionFailed", err)
	}

	cfg.Encryption = EncryptionConfig{}
	plain, _ := NewManager(cfg)
	if _, err := plain.Restore(&memTarget{}); !errors.Is(err, ErrKeyRequired) {
		t.Errorf("Restore without key err = %v, want ErrKeyRequired", err)
	}
}

func TestManager_RestoreSkipsCorruptLatest(t *testing.T) {
	m := newTestManager(t, EncryptionConfig{})
	if _, err := m.Create(&memSource{data: []byte("old")}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	latest, err := m.Create(&memSource{data: []byte("new")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	raw, _ := os.ReadFile(latest.Path)
	raw[len(raw)/2] ^= 0xff
	if err := os.WriteFile(latest.Path, raw, 0600); err != nil {
		t.Fatal(err)
	}

	dst := &memTarget{}
	if _, err := m.Restore(dst); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if string(dst.got) != "old" {
		t.Errorf("restored %q, want fallback to %q", dst.got, "old")
	}
}

func TestManager_RestoreEmpty(t *testing.T) {
	m := newTestManager(t, EncryptionConfig{})
	if _, err := m.Restore(&memTarget{}); !errors.Is(err, ErrNoArchives) {
		t.Errorf("err = %v, want ErrNoArchives", err)
	}
	if _, err := m.RestoreFile(filepath.Join(m.cfg.Dir, "missing.ctbk"), &memTarget{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("RestoreFile err = %v, want ErrNotFound", err)
	}
}

func TestManager_RejectsOtherBackend(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.Backend = "sqlite"
	m, _ := NewManager(cfg)
	if _, err := m.Create(&memSource{data: []byte("x")}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	badger, _ := NewManager(DefaultConfig(dir))
	if _, err := badger.Restore(&memTarget{}); err == nil {
		t.Error("Restore accepted an archive from another backend")
	}
}

func TestManager_Prune(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.RetentionCount = 2
	cfg.RetentionDays = 1
	m, _ := NewManager(cfg)

	for i := 0; i < 4; i++ {
		if _, err := m.Create(&memSource{data: []byte{byte(i)}}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	infos, _ := m.List()
	if len(infos) != 4 {
		t.Fatalf("List = %d archives, want 4", len(infos))
	}
	old := time.Now().Add(-72 * time.Hour)
	for _, info := range infos {
		if err := os.Chtimes(info.Path, old, old); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := m.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	left, _ := m.List()
	if len(left) != 2 || left[1].ID != infos[3].ID {
		t.Errorf("left = %d archives, newest kept = %v", len(left), left)
	}
}

func TestManager_GenerateIDSequence(t *testing.T) {
	m := newTestManager(t, EncryptionConfig{})
	a, _ := m.Create(&memSource{data: []byte("a")})
	b, _ := m.Create(&memSource{data: []byte("b")})
	if a.ID == b.ID {
		t.Errorf("duplicate archive id %s", a.ID)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     EncryptionConfig
		wantErr error
	}{
		{"empty", EncryptionConfig{}, nil},
		{"valid key", EncryptionConfig{Key: make([]byte, 32)}, nil},
		{"key too short", EncryptionConfig{Key: make([]byte, 8)}, ErrKeyTooShort},
		{"valid passphrase", EncryptionConfig{Passphrase: []byte("mypassword123")}, nil},
		{"weak passphrase", EncryptionConfig{Passphrase: []byte("short")}, ErrPassphraseTooWeak},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateConfig(tt.cfg); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateConfig = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if err := ValidateConfig(EncryptionConfig{Key: make([]byte, 32), Algorithm: "rot13"}); err == nil {
		t.Error("unknown algorithm accepted")
	}
}

func TestGenerateKeyAndZero(t *testing.T) {
	if _, err := GenerateKey(8); !errors.Is(err, ErrKeyTooShort) {
		t.Errorf("GenerateKey(8) err = %v", err)
	}
	key, err := GenerateKey(32)
	if err != nil || len(key) != 32 {
		t.Fatalf("GenerateKey(32) = %d bytes, %v", len(key), err)
	}
	ZeroKey(key)
	if !bytes.Equal(key, make([]byte, 32)) {
		t.Error("ZeroKey left data")
	}
}
