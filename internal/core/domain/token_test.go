package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestGenerateTokenValue(t *testing.T) {
	for _, kind := range ValidKinds() {
		t.Run(string(kind), func(t *testing.T) {
			plaintext, hash, err := GenerateTokenValue(kind)
			if err != nil {
				t.Fatalf("GenerateTokenValue() error = %v", err)
			}
			if !strings.HasPrefix(plaintext, kind.ValuePrefix()) {
				t.Errorf("value %q lacks prefix %q", plaintext, kind.ValuePrefix())
			}
			if len(plaintext) != TokenLength {
				t.Errorf("value length = %d, want %d", len(plaintext), TokenLength)
			}
			if len(hash) != TokenHashLength {
				t.Errorf("hash length = %d, want %d", len(hash), TokenHashLength)
			}
			if HashTokenValue(plaintext) != hash {
				t.Error("HashTokenValue(plaintext) should equal returned hash")
			}
			got, ok := ParseTokenValue(plaintext)
			if !ok || got != kind {
				t.Errorf("ParseTokenValue() = %q, %v; want %q, true", got, ok, kind)
			}
		})
	}
}

func TestGenerateTokenValue_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		v, _, err := GenerateTokenValue(KindQRCheckIn)
		if err != nil {
			t.Fatalf("GenerateTokenValue() error = %v", err)
		}
		if seen[v] {
			t.Fatalf("duplicate value %q", v)
		}
		seen[v] = true
	}
}

func TestGenerateTokenValue_UnknownKind(t *testing.T) {
	if _, _, err := GenerateTokenValue(Kind("bogus")); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestParseTokenValue(t *testing.T) {
	tests := []struct {
		name  string
		value string
		ok    bool
	}{
		{"valid", "ctqr_ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopq", true},
		{"wrong prefix", "tmtk_ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopq", false},
		{"too short", "ctqr_ABC", false},
		{"bad alphabet", "ctqr_ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmn+/=", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := ParseTokenValue(tt.value); ok != tt.ok {
				t.Errorf("ParseTokenValue(%q) ok = %v, want %v", tt.value, ok, tt.ok)
			}
		})
	}
}

func TestMaskTokenValue(t *testing.T) {
	v := "ctds_ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopq"
	if got := MaskTokenValue(v); got != "ctds_ABC...opq" {
		t.Errorf("MaskTokenValue() = %q", got)
	}
	if got := MaskTokenValue("short"); got != "***REDACTED***" {
		t.Errorf("MaskTokenValue(short) = %q", got)
	}
}

func newTestToken(now time.Time) *Token {
	return &Token{
		ID:        "ctk-test",
		Kind:      KindQRCheckIn,
		Scope:     Scope{OrganizationID: "org-a", SubjectType: "session", SubjectID: "s1", TargetType: "session", TargetID: "s1"},
		IssuedAt:  now.UnixMilli(),
		ExpiresAt: now.Add(time.Hour).UnixMilli(),
		MaxUses:   2,
		Status:    StatusActive,
	}
}

func TestToken_State(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(*Token)
		want   Status
	}{
		{"fresh", func(*Token) {}, StatusActive},
		{"expired lazily", func(tk *Token) { tk.ExpiresAt = now.Add(-time.Second).UnixMilli() }, StatusExpired},
		{"exhausted", func(tk *Token) { tk.UseCount = 2 }, StatusExhausted},
		{"one-shot consumed", func(tk *Token) { tk.OneShot, tk.MaxUses, tk.Consumed = true, 0, true }, StatusConsumed},
		{"unlimited never exhausts", func(tk *Token) { tk.Unlimited, tk.MaxUses, tk.UseCount = true, 0, 1000 }, StatusActive},
		{"revoked wins over expiry", func(tk *Token) {
			tk.RevokedAt = now.UnixMilli()
			tk.ExpiresAt = now.Add(-time.Hour).UnixMilli()
		}, StatusRevoked},
		{"persisted expiry is final", func(tk *Token) { tk.Status = StatusExpired }, StatusExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := newTestToken(now)
			tt.mutate(tk)
			if got := tk.State(now); got != tt.want {
				t.Errorf("State() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToken_CheckUsable_OrganizationHint(t *testing.T) {
	now := time.Now()
	tk := newTestToken(now)

	if err := tk.CheckUsable(now, "org-a"); err != nil {
		t.Errorf("matching hint: err = %v", err)
	}
	if err := tk.CheckUsable(now, "org-b"); err != ErrTokenNotFound {
		t.Errorf("mismatched hint: err = %v, want not found", err)
	}

	tk.RevokedAt = now.UnixMilli()
	if err := tk.CheckUsable(now, "org-a"); err != ErrTokenRevoked {
		t.Errorf("revoked: err = %v, want revoked", err)
	}
	if err := tk.CheckUsable(now, "org-b"); err != ErrTokenNotFound {
		t.Errorf("revoked, mismatched hint: err = %v, want not found", err)
	}

	tk.RevokedAt = 0
	later := now.Add(48 * time.Hour)
	if err := tk.CheckUsable(later, "org-b"); err != ErrTokenNotFound {
		t.Errorf("expired, mismatched hint: err = %v, want not found", err)
	}
}

func TestToken_StatusAfterUse(t *testing.T) {
	now := time.Now()
	tk := newTestToken(now)
	if got := tk.StatusAfterUse(); got != StatusActive {
		t.Errorf("first of two uses: %q", got)
	}
	tk.UseCount = 1
	if got := tk.StatusAfterUse(); got != StatusExhausted {
		t.Errorf("last use: %q", got)
	}
	tk.OneShot, tk.MaxUses, tk.UseCount = true, 0, 0
	if got := tk.StatusAfterUse(); got != StatusConsumed {
		t.Errorf("one-shot: %q", got)
	}
}

func TestToken_RemainingUses(t *testing.T) {
	tk := newTestToken(time.Now())
	tk.UseCount = 1
	if got := tk.RemainingUses(); got != 1 {
		t.Errorf("RemainingUses() = %d, want 1", got)
	}
	tk.Unlimited = true
	if got := tk.RemainingUses(); got != -1 {
		t.Errorf("RemainingUses() unlimited = %d, want -1", got)
	}
}

func TestScope_Validate(t *testing.T) {
	s := Scope{OrganizationID: "o", SubjectType: "student", SubjectID: "s", TargetType: "session"}
	err := s.Validate()
	if err == nil || !strings.Contains(err.Error(), "target_id") {
		t.Errorf("Validate() = %v, want missing target_id", err)
	}
	s.TargetID = "t"
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		policy  Policy
		wantErr bool
	}{
		{"multi-use", KindQRCheckIn, Policy{TTL: time.Hour, MaxUses: 30}, false},
		{"one-shot signature", KindDocumentSignature, Policy{TTL: time.Hour, OneShot: true}, false},
		{"unlimited access", KindLearnerAccess, Policy{TTL: time.Hour, Unlimited: true}, false},
		{"zero ttl", KindQRCheckIn, Policy{MaxUses: 1}, true},
		{"negative max uses", KindQRCheckIn, Policy{TTL: time.Hour, MaxUses: -1}, true},
		{"no use mode", KindQRCheckIn, Policy{TTL: time.Hour}, true},
		{"two use modes", KindQRCheckIn, Policy{TTL: time.Hour, MaxUses: 2, OneShot: true}, true},
		{"multi-use signature", KindAttendanceSignature, Policy{TTL: time.Hour, MaxUses: 2}, true},
		{"signature consumes on failure", KindDocumentSignature, Policy{TTL: time.Hour, OneShot: true, ConsumeOnFailedCheck: true}, true},
		{"qr consumes on failure", KindQRCheckIn, Policy{TTL: time.Hour, MaxUses: 5, ConsumeOnFailedCheck: true}, false},
		{"bad identity mode", KindDocumentSignature, Policy{TTL: time.Hour, OneShot: true, IdentityMode: "sso"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate(tt.kind)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPayload_JSONRoundTrip(t *testing.T) {
	lat, lon := 48.8566, 2.3522
	in := Payload{Signature: &SignaturePayload{
		RequestID: "ctq-1",
		Anchor:    &ProximityAnchor{Latitude: &lat, Longitude: &lon, AllowedRadiusMeters: 100, RequireGeolocation: true},
	}}

	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(b), `"type":"signature"`) {
		t.Errorf("payload JSON lacks type tag: %s", b)
	}

	var out Payload
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out.RequestID() != "ctq-1" || !out.Anchor().HasCoordinates() {
		t.Errorf("decoded payload = %+v", out.Signature)
	}
	if !out.MatchesKind(KindAttendanceSignature) || out.MatchesKind(KindQRCheckIn) {
		t.Error("MatchesKind mismatch")
	}
}

func TestToken_CloneIsDeep(t *testing.T) {
	lat := 1.0
	tk := newTestToken(time.Now())
	tk.Payload = Payload{CheckIn: &CheckInPayload{Anchor: &ProximityAnchor{Latitude: &lat, Longitude: &lat}}}

	c := tk.Clone()
	*c.Payload.CheckIn.Anchor.Latitude = 2
	if *tk.Payload.CheckIn.Anchor.Latitude != 1 {
		t.Error("Clone shares anchor coordinates")
	}
}

func TestPartitionOf(t *testing.T) {
	if got := PartitionOf("org-a", 1); got != 0 {
		t.Errorf("PartitionOf(n=1) = %d", got)
	}
	p := PartitionOf("org-a", 8)
	if p < 0 || p >= 8 {
		t.Errorf("PartitionOf(n=8) = %d out of range", p)
	}
	if PartitionOf("org-a", 8) != p {
		t.Error("PartitionOf not stable")
	}
}

func TestNewID(t *testing.T) {
	id, err := NewID(TokenIDPrefix, time.Now())
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if !IsValidID(TokenIDPrefix, id) {
		t.Errorf("IsValidID(%q) = false", id)
	}
	if IsValidID(RecordIDPrefix, id) {
		t.Error("IsValidID accepted the wrong prefix")
	}
}
