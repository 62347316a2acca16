package tlsroots

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writePair(t *testing.T, dir, cn string) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IsCA:         true,
		KeyUsage:     x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		DNSNames:     []string{cn},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	certFile = filepath.Join(dir, "tls.crt")
	keyFile = filepath.Join(dir, "tls.key")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestPool(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writePair(t, dir, "ca.example.org")

	if _, err := Pool(certFile, ""); err != nil {
		t.Fatalf("Pool: %v", err)
	}
	if _, err := Pool(keyFile); !errors.Is(err, ErrNoCertsFound) {
		t.Errorf("Pool(key) err = %v, want ErrNoCertsFound", err)
	}
	if _, err := Pool(filepath.Join(dir, "missing.pem")); err == nil {
		t.Error("missing file accepted")
	}

	cfg, err := ClientConfig(certFile)
	if err != nil || cfg == nil || cfg.RootCAs == nil {
		t.Fatalf("ClientConfig = %v, %v", cfg, err)
	}
	if cfg, err := ClientConfig(""); cfg != nil || err != nil {
		t.Errorf("ClientConfig(\"\") = %v, %v", cfg, err)
	}
}

func TestCertReloader(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writePair(t, dir, "one.example.org")

	r, err := NewCertReloader(certFile, keyFile, nil)
	if err != nil {
		t.Fatalf("NewCertReloader: %v", err)
	}
	first, _ := r.GetCertificate(nil)

	writePair(t, dir, "two.example.org")
	if err := r.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	second, _ := r.ServerConfig().GetCertificate(nil)
	if first == second {
		t.Error("Reload kept the old certificate")
	}

	if err := os.WriteFile(keyFile, []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(); err == nil {
		t.Error("Reload accepted a broken key")
	}
	if cur, _ := r.GetCertificate(nil); cur != second {
		t.Error("failed reload replaced the certificate")
	}
}
