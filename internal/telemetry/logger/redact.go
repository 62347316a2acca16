package logger

import (
	"log/slog"
	"strings"
)

// sensitiveValuePrefixes identify plaintext credentials by their prefix.
var sensitiveValuePrefixes = []string{
	"ctla_", // learner access token
	"ctqr_", // QR check-in token
	"ctas_", // attendance signature token
	"ctds_", // document signature token
	"ctsk_", // API key secret
}

// sensitiveKeyPatterns redact any non-empty string under a matching key.
var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"credential",
	"authorization",
	"bearer",
	"token_value",
	"signature_data",
	"encryption_key",
}

const redactedValue = "***REDACTED***"

func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		v := a.Value.String()
		for _, prefix := range sensitiveValuePrefixes {
			if strings.HasPrefix(v, prefix) {
				return slog.String(a.Key, maskValue(v, prefix))
			}
		}
		if v != "" && IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
		if strings.HasPrefix(v, "eyJ") && strings.Count(v, ".") == 2 {
			return slog.String(a.Key, redactedValue)
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	return a
}

func maskValue(value, prefix string) string {
	body := value[len(prefix):]
	if len(body) <= 6 {
		return prefix + "***"
	}
	return prefix + body[:3] + "..." + body[len(body)-3:]
}

// RedactString masks value if it carries a sensitive prefix.
func RedactString(value string) string {
	for _, prefix := range sensitiveValuePrefixes {
		if strings.HasPrefix(value, prefix) {
			return maskValue(value, prefix)
		}
	}
	return value
}

// IsSensitiveKey reports whether values under key are always redacted.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(k, pattern) {
			return true
		}
	}
	return false
}
