package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr        = "127.0.0.1:5080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultPublicRateLimit = 10
	DefaultPublicBurst     = 20

	DefaultBackend    = "badger"
	DefaultDataDir    = "/var/lib/captoken-server/data"
	DefaultGCInterval = 10 * time.Minute

	DefaultBackupInterval  = 6 * time.Hour
	DefaultBackupRetention = 7

	DefaultAccuracyTolerance = 50
	DefaultSweepInterval     = time.Minute
	DefaultSweepBatchSize    = 500

	DefaultAuditQueueSize = 4096

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	day := 24 * time.Hour
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:                DefaultHTTPAddr,
				ReadTimeout:         10 * time.Second,
				WriteTimeout:        30 * time.Second,
				PublicRateLimit:     DefaultPublicRateLimit,
				PublicBurst:         DefaultPublicBurst,
				MetricsAuthRequired: true,
			},
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Storage: StorageSection{
			Backend:         DefaultBackend,
			DataDir:         DefaultDataDir,
			MaxOpenConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
			GCInterval:      DefaultGCInterval,
			SyncWrites:      true,
			Backup: BackupSection{
				Interval:       DefaultBackupInterval,
				RetentionCount: DefaultBackupRetention,
				RetentionDays:  DefaultBackupRetention,
			},
		},
		Security: SecuritySection{
			ScopeIDFormat:      "any",
			RequireAttestation: true,
		},
		Tokens: TokensSection{
			Kinds: map[string]KindSection{
				"learner_access": {
					TTL: 30 * day, Unlimited: true, IdentityMode: "anonymous",
				},
				"qr_checkin": {
					TTL: 4 * time.Hour, MaxUses: 200, IdentityMode: "anonymous",
				},
				"attendance_signature": {
					TTL: day, OneShot: true, IdentityMode: "anonymous",
					MaxReminders: 3, ReminderFrequency: "daily",
				},
				"document_signature": {
					TTL: 30 * day, OneShot: true, IdentityMode: "anonymous",
					MaxReminders: 3, ReminderFrequency: "weekly",
				},
			},
			MaxBulkSubjects: 500,
			MaxIssueRetries: 3,
		},
		Proximity: ProximitySection{
			MaxAccuracyTolerance: DefaultAccuracyTolerance,
		},
		Sweeper: SweeperSection{
			Enabled:    true,
			Interval:   DefaultSweepInterval,
			BatchSize:  DefaultSweepBatchSize,
			Partitions: 1,
		},
		Notify: NotifySection{
			Driver:  "log",
			Webhook: WebhookConfig{Timeout: 5 * time.Second},
		},
		Directory: DirectorySection{
			Source: "file",
		},
		Audit: AuditSection{
			Writer:        "log",
			QueueSize:     DefaultAuditQueueSize,
			BatchSize:     64,
			FlushInterval: time.Second,
			MaxRetries:    5,
		},
		Identity: IdentitySection{
			Leeway: 30 * time.Second,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
