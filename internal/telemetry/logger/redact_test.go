package logger

import (
	"log/slog"
	"testing"
)

func TestRedactSensitive(t *testing.T) {
	tests := []struct {
		name string
		attr slog.Attr
		want string
	}{
		{"qr token value", slog.String("value", "ctqr_ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopq"), "ctqr_ABC...opq"},
		{"document token", slog.String("link", "ctds_ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopq"), "ctds_ABC...opq"},
		{"api secret", slog.String("x", "ctsk_ABCDEFGHIJKLMNOP"), "ctsk_ABC...NOP"},
		{"secret key", slog.String("jwt_secret", "plain"), redactedValue},
		{"authorization", slog.String("Authorization", "Bearer x"), redactedValue},
		{"jwt shaped", slog.String("subject_hint", "eyJhbGciOi.eyJzdWIiOi.sig"), redactedValue},
		{"token id is public", slog.String("token_id", "ctk-01hx"), "ctk-01hx"},
		{"plain value", slog.String("kind", "qr_checkin"), "qr_checkin"},
		{"empty secret", slog.String("secret", ""), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := redactSensitive(tt.attr)
			if got.Value.String() != tt.want {
				t.Errorf("redactSensitive() = %q, want %q", got.Value.String(), tt.want)
			}
		})
	}
}

func TestRedactSensitive_Group(t *testing.T) {
	g := slog.Group("req", slog.String("value", "ctla_ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopq"), slog.Int("n", 1))
	got := redactSensitive(g)
	attrs := got.Value.Group()
	if attrs[0].Value.String() != "ctla_ABC...opq" {
		t.Errorf("nested value = %q", attrs[0].Value.String())
	}
	if attrs[1].Value.Int64() != 1 {
		t.Error("non-string attribute changed")
	}
}

func TestRedactString(t *testing.T) {
	if got := RedactString("ctas_ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopq"); got != "ctas_ABC...opq" {
		t.Errorf("RedactString() = %q", got)
	}
	if got := RedactString("hello"); got != "hello" {
		t.Errorf("RedactString(hello) = %q", got)
	}
	if got := RedactString("ctqr_abc"); got != "ctqr_***" {
		t.Errorf("RedactString(short) = %q", got)
	}
}
