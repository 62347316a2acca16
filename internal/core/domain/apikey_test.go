package domain

import (
	"strings"
	"testing"
	"time"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleIssuer, PermTokenIssue, true},
		{RoleIssuer, PermSystemSweep, false},
		{RoleValidator, PermTokenRead, true},
		{RoleValidator, PermTokenRevoke, false},
		{RoleAdmin, PermSystemSweep, true},
		{RoleMetrics, PermTokenRead, false},
		{Role("unknown"), PermMetricsRead, false},
	}

	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestNewAPIKey(t *testing.T) {
	key, secret, err := NewAPIKey("ops", RoleIssuer)
	if err != nil {
		t.Fatalf("NewAPIKey() error = %v", err)
	}
	if !strings.HasPrefix(key.KeyID, APIKeyIDPrefix) || len(key.KeyID) != 31 {
		t.Errorf("KeyID = %q", key.KeyID)
	}
	if !strings.HasPrefix(secret, APIKeySecretPrefix) {
		t.Errorf("secret = %q", secret)
	}
	if !strings.HasPrefix(key.SecretHash, "$argon2id$v=19$") {
		t.Errorf("SecretHash = %q", key.SecretHash)
	}
	if err := key.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestAPIKey_IsActive(t *testing.T) {
	orig := timeNow
	defer func() { timeNow = orig }()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	timeNow = func() time.Time { return now }

	k := &APIKey{Status: KeyStatusActive, ExpiresAt: now.Add(time.Minute).UnixMilli()}
	if !k.IsActive() {
		t.Error("key should be active")
	}
	k.ExpiresAt = now.Add(-time.Minute).UnixMilli()
	if k.IsActive() {
		t.Error("expired key should be inactive")
	}
	k.ExpiresAt = 0
	k.Status = KeyStatusDisabled
	if k.IsActive() {
		t.Error("disabled key should be inactive")
	}
}

func TestAPIKey_Validate(t *testing.T) {
	k := &APIKey{KeyID: "ctak-x", SecretHash: "h", Role: "root", Status: KeyStatusActive, RateLimit: 0}
	err := k.Validate()
	if err == nil {
		t.Fatal("Validate() should fail")
	}
	for _, want := range []string{"invalid role", "rate_limit"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() = %v, missing %q", err, want)
		}
	}
}

func TestMaskAPIKeySecret(t *testing.T) {
	if got := MaskAPIKeySecret("ctsk_abcdefghijklmnop"); got != "ctsk_abc...nop" {
		t.Errorf("MaskAPIKeySecret() = %q", got)
	}
	if got := MaskAPIKeySecret("tmas_abcdefghijklmnop"); got != "***REDACTED***" {
		t.Errorf("MaskAPIKeySecret(foreign) = %q", got)
	}
}

func TestAPIKey_ResolveOrganization(t *testing.T) {
	bound := &APIKey{KeyID: "ctak-a", OrganizationID: "org-a"}
	unbound := &APIKey{KeyID: "ctak-any"}

	tests := []struct {
		name      string
		key       *APIKey
		requested string
		wantOrg   string
		wantOK    bool
	}{
		{"bound, nothing requested", bound, "", "org-a", true},
		{"bound, own org", bound, "org-a", "org-a", true},
		{"bound, other org", bound, "org-b", "", false},
		{"unbound passes request", unbound, "org-b", "org-b", true},
		{"unbound, nothing requested", unbound, "", "", true},
		{"no key", nil, "org-c", "org-c", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			org, ok := tt.key.ResolveOrganization(tt.requested)
			if org != tt.wantOrg || ok != tt.wantOK {
				t.Errorf("ResolveOrganization(%q) = %q, %v, want %q, %v", tt.requested, org, ok, tt.wantOrg, tt.wantOK)
			}
		})
	}
}

func TestVerifySecret(t *testing.T) {
	hash, err := HashSecret("ctsk_example")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}

	tests := []struct {
		name   string
		secret string
		hash   string
		want   bool
	}{
		{"match", "ctsk_example", hash, true},
		{"wrong secret", "ctsk_other", hash, false},
		{"not argon2id", "ctsk_example", strings.Replace(hash, "argon2id", "argon2i", 1), false},
		{"bad params", "ctsk_example", strings.Replace(hash, "m=16384", "m=x", 1), false},
		{"truncated", "ctsk_example", hash[:20], false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySecret(tt.secret, tt.hash); got != tt.want {
				t.Errorf("VerifySecret() = %v, want %v", got, tt.want)
			}
		})
	}
}
