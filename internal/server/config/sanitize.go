package config

import "strings"

// Sanitize returns a copy of the config with sensitive fields masked.
//
// This is used for logging configuration without exposing secrets.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	sanitized := *cfg

	sanitized.Security.EncryptionKey = maskSecret(cfg.Security.EncryptionKey)
	sanitized.Security.SealKey = maskSecret(cfg.Security.SealKey)
	sanitized.Storage.DSN = maskDSN(cfg.Storage.DSN)
	sanitized.Storage.Backup.Passphrase = maskSecret(cfg.Storage.Backup.Passphrase)
	sanitized.Redis.Password = maskSecret(cfg.Redis.Password)
	sanitized.Notify.Webhook.SigningKey = maskSecret(cfg.Notify.Webhook.SigningKey)
	sanitized.Identity.JWTSecret = maskSecret(cfg.Identity.JWTSecret)

	if len(cfg.Security.APIKeys) > 0 {
		keys := make([]APIKeyConfig, len(cfg.Security.APIKeys))
		for i, k := range cfg.Security.APIKeys {
			k.SecretHash = maskSecret(k.SecretHash)
			keys[i] = k
		}
		sanitized.Security.APIKeys = keys
	}

	return &sanitized
}

// maskSecret masks a secret value for safe logging.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

// maskDSN hides the password of a URL-style or key=value DSN.
func maskDSN(dsn string) string {
	if at := strings.LastIndex(dsn, "@"); at > 0 {
		if scheme := strings.Index(dsn, "://"); scheme >= 0 && scheme < at {
			creds := dsn[scheme+3 : at]
			if colon := strings.Index(creds, ":"); colon >= 0 {
				return dsn[:scheme+3] + creds[:colon] + ":****" + dsn[at:]
			}
		}
	}
	fields := strings.Fields(dsn)
	for i, f := range fields {
		if strings.HasPrefix(f, "password=") {
			fields[i] = "password=****"
			return strings.Join(fields, " ")
		}
	}
	return dsn
}
