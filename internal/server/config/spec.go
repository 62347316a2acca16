package config

import "time"

// ServerConfig is the root configuration for captoken-server.
type ServerConfig struct {
	Server    ServerSection    `koanf:"server"`
	Storage   StorageSection   `koanf:"storage"`
	Security  SecuritySection  `koanf:"security"`
	Tokens    TokensSection    `koanf:"tokens"`
	Proximity ProximitySection `koanf:"proximity"`
	Sweeper   SweeperSection   `koanf:"sweeper"`
	Redis     RedisSection     `koanf:"redis"`
	Notify    NotifySection    `koanf:"notify"`
	Directory DirectorySection `koanf:"directory"`
	Audit     AuditSection     `koanf:"audit"`
	Identity  IdentitySection  `koanf:"identity"`
	Log       LogSection       `koanf:"log"`
}

// ServerSection configures the HTTP endpoint.
type ServerSection struct {
	HTTP HTTPConfig `koanf:"http"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr         string        `koanf:"addr"`
	TLSCertFile  string        `koanf:"tls_cert_file"`
	TLSKeyFile   string        `koanf:"tls_key_file"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// TrustedProxies lists the IPs/CIDRs whose forwarding headers are honoured.
	TrustedProxies []string `koanf:"trusted_proxies"`

	// PublicRateLimit is the per-IP request rate on public token endpoints.
	PublicRateLimit float64 `koanf:"public_rate_limit"`
	PublicBurst     int     `koanf:"public_burst"`

	// AdminAllowList restricts /admin/v1 to these IPs/CIDRs. Empty allows all.
	AdminAllowList []string `koanf:"admin_allow_list"`

	MetricsAuthRequired bool     `koanf:"metrics_auth_required"`
	CORSAllowedOrigins  []string `koanf:"cors_allowed_origins"`
}

// StorageSection configures the token store.
type StorageSection struct {
	// Backend is memory, badger, sqlite or postgres.
	Backend string `koanf:"backend"`
	DataDir string `koanf:"data_dir"`

	// DSN is the sqlite path or postgres connection string.
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`

	// GCInterval is the badger value log GC period.
	GCInterval time.Duration `koanf:"gc_interval"`
	SyncWrites bool          `koanf:"sync_writes"`

	Backup BackupSection `koanf:"backup"`
}

// BackupSection configures scheduled badger backups.
type BackupSection struct {
	Enabled        bool          `koanf:"enabled"`
	Dir            string        `koanf:"dir"`
	Interval       time.Duration `koanf:"interval"`
	RetentionCount int           `koanf:"retention_count"`
	RetentionDays  int           `koanf:"retention_days"`
	Passphrase     string        `koanf:"passphrase"`
	Algorithm      string        `koanf:"algorithm"`
}

// SecuritySection configures keys and staff credentials.
type SecuritySection struct {
	// EncryptionKey seals token values at rest (hex or base64, 32 bytes).
	EncryptionKey string `koanf:"encryption_key"`

	// SealKey keys the evidence integrity seal (hex or base64, 32 bytes).
	SealKey string `koanf:"seal_key"`

	APIKeys []APIKeyConfig `koanf:"api_keys"`

	// GlobalAllowlist restricts every API key to these IPs/CIDRs.
	GlobalAllowlist []string `koanf:"global_allowlist"`

	// ScopeIDFormat is "any" or "uuid".
	ScopeIDFormat      string `koanf:"scope_id_format"`
	RequireAttestation bool   `koanf:"require_attestation"`
}

// APIKeyConfig is a staff API key. SecretHash is an Argon2id hash.
// Organization binds the key to one tenant; keys without one span tenants.
type APIKeyConfig struct {
	ID           string   `koanf:"id"`
	Name         string   `koanf:"name"`
	SecretHash   string   `koanf:"secret_hash"`
	Role         string   `koanf:"role"`
	Organization string   `koanf:"organization_id"`
	Allowlist    []string `koanf:"allowlist"`
	RateLimit    int      `koanf:"rate_limit"`
}

// TokensSection configures issuance defaults.
type TokensSection struct {
	// Kinds is keyed by token kind (learner_access, qr_checkin,
	// attendance_signature, document_signature).
	Kinds map[string]KindSection `koanf:"kinds"`

	MaxBulkSubjects int `koanf:"max_bulk_subjects"`
	MaxIssueRetries int `koanf:"max_issue_retries"`
}

// KindSection holds the defaults of one token kind.
type KindSection struct {
	TTL                  time.Duration `koanf:"ttl"`
	MaxUses              int64         `koanf:"max_uses"`
	OneShot              bool          `koanf:"one_shot"`
	Unlimited            bool          `koanf:"unlimited"`
	IdentityMode         string        `koanf:"identity_mode"`
	ConsumeOnFailedCheck bool          `koanf:"consume_on_failed_check"`
	MaxReminders         int           `koanf:"max_reminders"`
	ReminderFrequency    string        `koanf:"reminder_frequency"`
	LinkBaseURL          string        `koanf:"link_base_url"`
}

// ProximitySection configures geofence checks.
type ProximitySection struct {
	// MaxAccuracyTolerance caps the accuracy added to the radius, in meters.
	MaxAccuracyTolerance float64 `koanf:"max_accuracy_tolerance"`
}

// SweeperSection configures the expiry and reminder sweeper.
type SweeperSection struct {
	Enabled    bool          `koanf:"enabled"`
	Interval   time.Duration `koanf:"interval"`
	BatchSize  int           `koanf:"batch_size"`
	LockTTL    time.Duration `koanf:"lock_ttl"`
	Partitions int           `koanf:"partitions"`
}

// RedisSection configures the shared leader lock. An empty Addr uses an
// in-process lock, suitable for a single instance.
type RedisSection struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	TLSCAFile string `koanf:"tls_ca_file"`
	UseTLS    bool   `koanf:"use_tls"`
}

// NotifySection configures notification delivery.
type NotifySection struct {
	// Driver is log, webhook or both.
	Driver  string        `koanf:"driver"`
	Webhook WebhookConfig `koanf:"webhook"`
}

// WebhookConfig configures the webhook dispatcher.
type WebhookConfig struct {
	URL        string        `koanf:"url"`
	Timeout    time.Duration `koanf:"timeout"`
	SigningKey string        `koanf:"signing_key"`
	CAFile     string        `koanf:"ca_file"`
}

// DirectorySection configures the entity directory.
type DirectorySection struct {
	// Source is file or sql.
	Source string `koanf:"source"`
	File   string `koanf:"file"`

	// Seed copies File into the SQL directory at startup.
	Seed bool `koanf:"seed"`
}

// AuditSection configures the audit sink.
type AuditSection struct {
	// Writer is log, sql or both.
	Writer        string        `koanf:"writer"`
	QueueSize     int           `koanf:"queue_size"`
	BatchSize     int           `koanf:"batch_size"`
	FlushInterval time.Duration `koanf:"flush_interval"`
	MaxRetries    int           `koanf:"max_retries"`
}

// IdentitySection configures signer identity assertions.
type IdentitySection struct {
	JWTSecret string        `koanf:"jwt_secret"`
	Issuer    string        `koanf:"issuer"`
	Audience  string        `koanf:"audience"`
	Leeway    time.Duration `koanf:"leeway"`
}

// LogSection configures logging.
type LogSection struct {
	Level     string `koanf:"level"`
	Format    string `koanf:"format"`
	AddSource bool   `koanf:"add_source"`
}
