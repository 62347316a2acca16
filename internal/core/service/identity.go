package service

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/pkg/clock"
)

// JWTIdentityConfig configures bearer assertion verification.
type JWTIdentityConfig struct {
	// Secret is the HMAC key shared with the identity provider.
	Secret []byte
	// Issuer and Audience are checked when set.
	Issuer   string
	Audience string
	// Leeway tolerates clock skew on exp/nbf/iat (default: 30s).
	Leeway time.Duration
}

// JWTIdentityVerifier verifies HS256 bearer assertions and returns their
// subject claim as the signer identity.
type JWTIdentityVerifier struct {
	cfg   JWTIdentityConfig
	clock clock.Clock
}

// NewJWTIdentityVerifier creates a verifier. A nil clock uses real time.
func NewJWTIdentityVerifier(cfg JWTIdentityConfig, c clock.Clock) *JWTIdentityVerifier {
	if cfg.Leeway <= 0 {
		cfg.Leeway = 30 * time.Second
	}
	if c == nil {
		c = clock.Real()
	}
	return &JWTIdentityVerifier{cfg: cfg, clock: c}
}

// VerifyIdentity validates the assertion and returns its subject.
func (v *JWTIdentityVerifier) VerifyIdentity(_ context.Context, assertion string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.cfg.Leeway),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(assertion, claims, func(*jwt.Token) (any, error) {
		return v.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return "", domain.ErrIdentityInvalid.WithCause(err)
	}
	if claims.Subject == "" {
		return "", domain.ErrIdentityInvalid.WithDetails("assertion has no subject")
	}
	return claims.Subject, nil
}

// Sign issues an assertion for subject valid for ttl. It serves tooling and
// tests; production assertions come from the identity provider.
func (v *JWTIdentityVerifier) Sign(subject string, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    v.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if v.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{v.cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.cfg.Secret)
}
