package tlsroots

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/yndnr/captoken-go/internal/infra/confloader"
)

// CertReloader holds the current serving certificate.
type CertReloader struct {
	certFile string
	keyFile  string
	cert     atomic.Pointer[tls.Certificate]
	logger   *slog.Logger
}

// NewCertReloader loads the key pair once.
func NewCertReloader(certFile, keyFile string, logger *slog.Logger) (*CertReloader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &CertReloader{certFile: certFile, keyFile: keyFile, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload reads the key pair again. A failed reload keeps the old pair.
func (r *CertReloader) Reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("tlsroots: load key pair: %w", err)
	}
	r.cert.Store(&cert)
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return r.cert.Load(), nil
}

// ServerConfig returns a server TLS configuration using r.
func (r *CertReloader) ServerConfig() *tls.Config {
	return &tls.Config{GetCertificate: r.GetCertificate, MinVersion: tls.VersionTLS12}
}

// Watch reloads the pair whenever w reports a change to either file.
func (r *CertReloader) Watch(w *confloader.Watcher) error {
	for _, f := range []string{r.certFile, r.keyFile} {
		if err := w.Watch(f); err != nil {
			return err
		}
	}
	certAbs, _ := filepath.Abs(r.certFile)
	keyAbs, _ := filepath.Abs(r.keyFile)
	w.OnChange(func(path string) {
		if path != certAbs && path != keyAbs {
			return
		}
		if err := r.Reload(); err != nil {
			r.logger.Error("tls certificate reload failed", "error", err)
			return
		}
		r.logger.Info("tls certificate reloaded", "file", path)
	})
	return nil
}
