package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/yndnr/captoken-go/internal/audit"
	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
	"github.com/yndnr/captoken-go/internal/infra/tlsroots"
	"github.com/yndnr/captoken-go/internal/notify"
	"github.com/yndnr/captoken-go/internal/storage"
	"github.com/yndnr/captoken-go/internal/storage/snapshot"
	"github.com/yndnr/captoken-go/internal/telemetry/logger"
)

// TokenServiceConfig returns the token service configuration. Kinds
// missing from the file keep their built-in defaults.
func (c *ServerConfig) TokenServiceConfig() *service.TokenServiceConfig {
	out := service.DefaultTokenServiceConfig()
	for name, k := range c.Tokens.Kinds {
		out.Kinds[domain.Kind(name)] = kindPolicy(k)
	}
	out.MaxAccuracyTolerance = c.Proximity.MaxAccuracyTolerance
	out.Partitions = c.Sweeper.Partitions
	out.MaxIssueRetries = c.Tokens.MaxIssueRetries
	out.MaxBulkSubjects = c.Tokens.MaxBulkSubjects
	out.RequireAttestation = c.Security.RequireAttestation
	out.ScopeIDFormat = c.Security.ScopeIDFormat
	return out
}

func kindPolicy(k KindSection) service.KindPolicy {
	mode := domain.IdentityMode(k.IdentityMode)
	if mode == "" {
		mode = domain.IdentityAnonymous
	}
	return service.KindPolicy{
		TTL:                  k.TTL,
		MaxUses:              k.MaxUses,
		OneShot:              k.OneShot,
		Unlimited:            k.Unlimited,
		IdentityMode:         mode,
		ConsumeOnFailedCheck: k.ConsumeOnFailedCheck,
		MaxReminders:         k.MaxReminders,
		ReminderFrequency:    domain.ReminderFrequency(k.ReminderFrequency),
		LinkBaseURL:          k.LinkBaseURL,
	}
}

// SweeperConfig returns the sweeper configuration.
func (c *ServerConfig) SweeperConfig() *service.SweeperConfig {
	out := service.DefaultSweeperConfig()
	out.Interval = c.Sweeper.Interval
	out.BatchSize = c.Sweeper.BatchSize
	out.LockTTL = c.Sweeper.LockTTL
	return out
}

// StorageConfig returns the store engine configuration.
func (c *ServerConfig) StorageConfig() storage.Config {
	out := storage.DefaultConfig(c.Storage.DataDir)
	out.Backend = c.Storage.Backend
	out.DSN = c.Storage.DSN
	out.MaxOpenConns = c.Storage.MaxOpenConns
	out.ConnMaxLifetime = c.Storage.ConnMaxLifetime
	if c.Storage.GCInterval > 0 {
		out.Badger.GCInterval = c.Storage.GCInterval.String()
	}
	out.Badger.SyncWrites = c.Storage.SyncWrites
	return out
}

// BackupConfig returns the backup archive configuration. Archives are
// encrypted with the passphrase when set, else with the encryption key.
func (c *ServerConfig) BackupConfig(nodeID string, l *slog.Logger) (snapshot.Config, error) {
	b := c.Storage.Backup
	dir := b.Dir
	if dir == "" {
		dir = filepath.Join(c.Storage.DataDir, "backups")
	}
	out := snapshot.DefaultConfig(dir)
	out.RetentionCount = b.RetentionCount
	out.RetentionDays = b.RetentionDays
	out.Backend = storage.BackendBadger
	out.NodeID = nodeID
	out.Logger = l
	out.Encryption.Algorithm = b.Algorithm

	switch {
	case b.Passphrase != "":
		out.Encryption.Passphrase = []byte(b.Passphrase)
	case c.Security.EncryptionKey != "":
		key, err := DecodeKey(c.Security.EncryptionKey)
		if err != nil {
			return out, fmt.Errorf("security.encryption_key: %w", err)
		}
		out.Encryption.Key = key
	}
	return out, nil
}

// AuditConfig returns the audit sink configuration.
func (c *ServerConfig) AuditConfig() audit.Config {
	out := audit.DefaultConfig()
	out.QueueSize = c.Audit.QueueSize
	out.BatchSize = c.Audit.BatchSize
	out.FlushInterval = c.Audit.FlushInterval
	out.MaxRetries = c.Audit.MaxRetries
	return out
}

// LoggerConfig returns the logger configuration.
func (c *ServerConfig) LoggerConfig() logger.Config {
	out := logger.DefaultConfig()
	out.Level = c.Log.Level
	out.Format = c.Log.Format
	out.AddSource = c.Log.AddSource
	return out
}

// AuthServiceConfig returns the staff authentication configuration.
func (c *ServerConfig) AuthServiceConfig() *service.AuthServiceConfig {
	out := service.DefaultAuthServiceConfig()
	out.GlobalAllowlist = c.Security.GlobalAllowlist
	return out
}

// APIKeys returns the configured staff keys.
func (c *ServerConfig) APIKeys() []*domain.APIKey {
	keys := make([]*domain.APIKey, 0, len(c.Security.APIKeys))
	for _, k := range c.Security.APIKeys {
		keys = append(keys, &domain.APIKey{
			KeyID:          k.ID,
			Name:           k.Name,
			SecretHash:     k.SecretHash,
			Role:           domain.Role(k.Role),
			OrganizationID: k.Organization,
			Allowlist:      k.Allowlist,
			RateLimit:      k.RateLimit,
			Status:         domain.KeyStatusActive,
		})
	}
	return keys
}

// IdentityConfig returns the JWT verifier configuration. ok is false when
// no secret is configured, which disables authenticated signing.
func (c *ServerConfig) IdentityConfig() (cfg service.JWTIdentityConfig, ok bool) {
	if c.Identity.JWTSecret == "" {
		return cfg, false
	}
	return service.JWTIdentityConfig{
		Secret:   []byte(c.Identity.JWTSecret),
		Issuer:   c.Identity.Issuer,
		Audience: c.Identity.Audience,
		Leeway:   c.Identity.Leeway,
	}, true
}

// WebhookConfig returns the webhook dispatcher configuration.
func (c *ServerConfig) WebhookConfig() (notify.WebhookConfig, error) {
	w := c.Notify.Webhook
	out := notify.WebhookConfig{URL: w.URL, Timeout: w.Timeout}
	if w.SigningKey != "" {
		key, err := DecodeKey(w.SigningKey)
		if err != nil {
			return out, fmt.Errorf("notify.webhook.signing_key: %w", err)
		}
		out.SigningKey = key
	}
	tlsCfg, err := tlsroots.ClientConfig(w.CAFile)
	if err != nil {
		return out, err
	}
	out.TLS = tlsCfg
	return out, nil
}

// Keys decodes the encryption and seal keys. Unset keys are nil.
func (c *ServerConfig) Keys() (encryption, sealKey []byte, err error) {
	if c.Security.EncryptionKey != "" {
		if encryption, err = DecodeKey(c.Security.EncryptionKey); err != nil {
			return nil, nil, fmt.Errorf("security.encryption_key: %w", err)
		}
	}
	if c.Security.SealKey != "" {
		if sealKey, err = DecodeKey(c.Security.SealKey); err != nil {
			return nil, nil, fmt.Errorf("security.seal_key: %w", err)
		}
	}
	return encryption, sealKey, nil
}
