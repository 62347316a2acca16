package config

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/storage/snapshot"
)

// KeySize is the size of the encryption and seal keys.
const KeySize = 32

const maxPartitions = 1024

// Verify validates the configuration and reports every violation found.
func Verify(cfg *ServerConfig) error {
	var errs []error
	errs = append(errs, verifyServer(&cfg.Server)...)
	errs = append(errs, verifyStorage(&cfg.Storage)...)
	errs = append(errs, verifySecurity(&cfg.Security)...)
	errs = append(errs, verifyTokens(&cfg.Tokens)...)
	errs = append(errs, verifyRuntime(cfg)...)
	return errors.Join(errs...)
}

func verifyServer(cfg *ServerSection) []error {
	var errs []error
	if _, _, err := net.SplitHostPort(cfg.HTTP.Addr); err != nil {
		errs = append(errs, fmt.Errorf("server.http.addr: %w", err))
	}
	if (cfg.HTTP.TLSCertFile == "") != (cfg.HTTP.TLSKeyFile == "") {
		errs = append(errs, errors.New("server.http: tls_cert_file and tls_key_file must be set together"))
	}
	for _, f := range []string{cfg.HTTP.TLSCertFile, cfg.HTTP.TLSKeyFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			errs = append(errs, fmt.Errorf("server.http: %w", err))
		}
	}
	errs = append(errs, verifyNetworks("server.http.trusted_proxies", cfg.HTTP.TrustedProxies)...)
	errs = append(errs, verifyNetworks("server.http.admin_allow_list", cfg.HTTP.AdminAllowList)...)
	if cfg.HTTP.PublicRateLimit < 0 || cfg.HTTP.PublicBurst < 0 {
		errs = append(errs, errors.New("server.http: public rate limit must not be negative"))
	}
	if cfg.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	return errs
}

func verifyNetworks(key string, entries []string) []error {
	var errs []error
	for _, e := range entries {
		if net.ParseIP(e) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(e); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid IP or CIDR %q", key, e))
		}
	}
	return errs
}

func verifyStorage(cfg *StorageSection) []error {
	var errs []error
	switch cfg.Backend {
	case "memory":
	case "badger":
		if cfg.DataDir == "" {
			errs = append(errs, errors.New("storage.data_dir is required for the badger backend"))
		} else if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
			errs = append(errs, errors.New("cannot create data directory: "+err.Error()))
		}
	case "sqlite", "postgres":
		if cfg.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for the %s backend", cfg.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", cfg.Backend))
	}

	if cfg.Backup.Enabled {
		if cfg.Backend != "badger" {
			errs = append(errs, errors.New("storage.backup requires the badger backend"))
		}
		if cfg.Backup.Interval <= 0 {
			errs = append(errs, errors.New("storage.backup.interval must be positive"))
		}
		if cfg.Backup.RetentionCount < 1 {
			errs = append(errs, errors.New("storage.backup.retention_count must be at least 1"))
		}
		enc := snapshot.EncryptionConfig{Passphrase: []byte(cfg.Backup.Passphrase), Algorithm: cfg.Backup.Algorithm}
		if err := snapshot.ValidateConfig(enc); err != nil {
			errs = append(errs, fmt.Errorf("storage.backup: %w", err))
		}
	}
	return errs
}

func verifySecurity(cfg *SecuritySection) []error {
	var errs []error
	for name, v := range map[string]string{"encryption_key": cfg.EncryptionKey, "seal_key": cfg.SealKey} {
		if v == "" {
			continue
		}
		if _, err := DecodeKey(v); err != nil {
			errs = append(errs, fmt.Errorf("security.%s: %w", name, err))
		}
	}

	seen := make(map[string]bool, len(cfg.APIKeys))
	for i, k := range cfg.APIKeys {
		switch {
		case k.ID == "":
			errs = append(errs, fmt.Errorf("security.api_keys[%d]: id is required", i))
		case seen[k.ID]:
			errs = append(errs, fmt.Errorf("security.api_keys[%d]: duplicate id %s", i, k.ID))
		}
		seen[k.ID] = true
		if !domain.IsValidRole(k.Role) {
			errs = append(errs, fmt.Errorf("security.api_keys[%d]: invalid role %q", i, k.Role))
		}
		if !strings.HasPrefix(k.SecretHash, "$argon2id$") {
			errs = append(errs, fmt.Errorf("security.api_keys[%d]: secret_hash must be an argon2id hash", i))
		}
		errs = append(errs, verifyNetworks(fmt.Sprintf("security.api_keys[%d].allowlist", i), k.Allowlist)...)
	}
	errs = append(errs, verifyNetworks("security.global_allowlist", cfg.GlobalAllowlist)...)

	if cfg.ScopeIDFormat != "any" && cfg.ScopeIDFormat != "uuid" {
		errs = append(errs, fmt.Errorf("security.scope_id_format: must be any or uuid, got %q", cfg.ScopeIDFormat))
	}
	return errs
}

func verifyTokens(cfg *TokensSection) []error {
	var errs []error
	for name, k := range cfg.Kinds {
		kind := domain.Kind(name)
		if !kind.IsValid() {
			errs = append(errs, fmt.Errorf("tokens.kinds: unknown kind %q", name))
			continue
		}
		p := kindPolicy(k)
		if err := p.Policy().Validate(kind); err != nil {
			errs = append(errs, fmt.Errorf("tokens.kinds.%s: %w", name, err))
		}
		switch domain.ReminderFrequency(k.ReminderFrequency) {
		case "", domain.ReminderDaily, domain.ReminderWeekly, domain.ReminderNone:
		default:
			errs = append(errs, fmt.Errorf("tokens.kinds.%s: invalid reminder_frequency %q", name, k.ReminderFrequency))
		}
		if k.MaxReminders < 0 {
			errs = append(errs, fmt.Errorf("tokens.kinds.%s: max_reminders must not be negative", name))
		}
		if k.LinkBaseURL != "" {
			if u, err := url.Parse(k.LinkBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Errorf("tokens.kinds.%s: invalid link_base_url", name))
			}
		}
	}
	if cfg.MaxBulkSubjects < 1 {
		errs = append(errs, errors.New("tokens.max_bulk_subjects must be at least 1"))
	}
	if cfg.MaxIssueRetries < 1 {
		errs = append(errs, errors.New("tokens.max_issue_retries must be at least 1"))
	}
	return errs
}

func verifyRuntime(cfg *ServerConfig) []error {
	var errs []error
	sqlBackend := cfg.Storage.Backend == "sqlite" || cfg.Storage.Backend == "postgres"

	if cfg.Proximity.MaxAccuracyTolerance < 0 {
		errs = append(errs, errors.New("proximity.max_accuracy_tolerance must not be negative"))
	}

	if cfg.Sweeper.Interval <= 0 {
		errs = append(errs, errors.New("sweeper.interval must be positive"))
	}
	if cfg.Sweeper.BatchSize < 1 {
		errs = append(errs, errors.New("sweeper.batch_size must be at least 1"))
	}
	if cfg.Sweeper.Partitions < 1 || cfg.Sweeper.Partitions > maxPartitions {
		errs = append(errs, fmt.Errorf("sweeper.partitions must be between 1 and %d", maxPartitions))
	}

	switch cfg.Notify.Driver {
	case "log":
	case "webhook", "both":
		if u, err := url.Parse(cfg.Notify.Webhook.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, errors.New("notify.webhook.url must be an absolute URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("notify.driver: unknown driver %q", cfg.Notify.Driver))
	}

	switch cfg.Directory.Source {
	case "file":
		if cfg.Directory.File == "" {
			errs = append(errs, errors.New("directory.file is required for the file source"))
		}
	case "sql":
		if !sqlBackend {
			errs = append(errs, errors.New("directory.source sql requires a sqlite or postgres backend"))
		}
		if cfg.Directory.Seed && cfg.Directory.File == "" {
			errs = append(errs, errors.New("directory.seed requires directory.file"))
		}
	default:
		errs = append(errs, fmt.Errorf("directory.source: unknown source %q", cfg.Directory.Source))
	}

	switch cfg.Audit.Writer {
	case "log":
	case "sql", "both":
		if !sqlBackend {
			errs = append(errs, errors.New("audit.writer sql requires a sqlite or postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("audit.writer: unknown writer %q", cfg.Audit.Writer))
	}
	if cfg.Audit.QueueSize < 1 {
		errs = append(errs, errors.New("audit.queue_size must be at least 1"))
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", cfg.Log.Level))
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format: must be json or text, got %q", cfg.Log.Format))
	}
	return errs
}

// DecodeKey decodes a hex or base64 key of KeySize bytes.
func DecodeKey(s string) ([]byte, error) {
	if b, err := hex.DecodeString(s); err == nil && len(b) == KeySize {
		return b, nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil && len(b) == KeySize {
			return b, nil
		}
	}
	return nil, fmt.Errorf("key must be %d bytes, hex or base64 encoded", KeySize)
}
