package service

import (
	"context"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/telemetry/logger"
)

// APIKeyRepository looks up staff API keys.
type APIKeyRepository interface {
	// Get returns the key or ErrAPIKeyInvalid.
	Get(ctx context.Context, keyID string) (*domain.APIKey, error)

	// Touch records the last use of a key.
	Touch(ctx context.Context, keyID string, at time.Time) error
}

// AuthServiceConfig configures staff authentication.
type AuthServiceConfig struct {
	// CacheTTL bounds how long a key loaded from the repository is reused.
	// Default: 60s
	CacheTTL time.Duration

	// CacheSize bounds the number of cached keys.
	// Default: 1024
	CacheSize int

	// GlobalAllowlist restricts every key to these IPs or CIDRs. Empty means
	// no restriction.
	GlobalAllowlist []string
}

// DefaultAuthServiceConfig returns the default configuration.
func DefaultAuthServiceConfig() *AuthServiceConfig {
	return &AuthServiceConfig{
		CacheTTL:  time.Minute,
		CacheSize: 1024,
	}
}

// AuthService authenticates staff API keys and enforces their role and
// rate limit.
type AuthService struct {
	repo        APIKeyRepository
	cache       *expirable.LRU[string, *domain.APIKey]
	limiters    sync.Map // key ID -> *rate.Limiter
	globalAllow []string
}

// NewAuthService creates an AuthService over repo.
func NewAuthService(repo APIKeyRepository, config *AuthServiceConfig) *AuthService {
	if config == nil {
		config = DefaultAuthServiceConfig()
	}
	size, ttl := config.CacheSize, config.CacheTTL
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &AuthService{
		repo:        repo,
		cache:       expirable.NewLRU[string, *domain.APIKey](size, nil, ttl),
		globalAllow: config.GlobalAllowlist,
	}
}

// ValidateAPIKeyRequest carries the presented credentials.
type ValidateAPIKeyRequest struct {
	KeyID     string
	KeySecret string
	ClientIP  string
}

// ValidateAPIKeyResponse is the result of a successful validation.
type ValidateAPIKeyResponse struct {
	Valid  bool
	APIKey *domain.APIKey
}

// ValidateAPIKey checks the secret, status, expiry and IP allowlist of a
// key. Keys are cached after the first repository load, so only the first
// use within CacheTTL updates the last-used time.
func (s *AuthService) ValidateAPIKey(ctx context.Context, req *ValidateAPIKeyRequest) (*ValidateAPIKeyResponse, error) {
	if req.KeyID == "" || req.KeySecret == "" {
		return nil, domain.ErrAPIKeyMissing
	}

	key, cached := s.cache.Get(req.KeyID)
	if !cached {
		var err error
		if key, err = s.repo.Get(ctx, req.KeyID); err != nil {
			return nil, domain.ErrAPIKeyInvalid.WithCause(err)
		}
	}

	if key.Status != domain.KeyStatusActive {
		return nil, domain.ErrAPIKeyDisabled
	}
	if key.IsExpired() {
		return nil, domain.ErrAPIKeyInvalid.WithDetails("api key expired")
	}
	if err := s.checkAllowlist(req.ClientIP, key.Allowlist); err != nil {
		return nil, err
	}
	if !domain.VerifySecret(req.KeySecret, key.SecretHash) {
		return nil, domain.ErrAPIKeyInvalid.WithDetails("invalid secret")
	}

	if !cached {
		if err := s.repo.Touch(ctx, key.KeyID, time.Now()); err != nil {
			logger.L(ctx).Warn("api key touch failed", "key_id", key.KeyID, "error", err)
		}
		s.cache.Add(req.KeyID, key)
	}
	return &ValidateAPIKeyResponse{Valid: true, APIKey: key}, nil
}

// InvalidateCache drops a cached key so the next call reloads it.
func (s *AuthService) InvalidateCache(keyID string) {
	s.cache.Remove(keyID)
}

// CheckPermission checks the key's role grants perm.
func (s *AuthService) CheckPermission(apiKey *domain.APIKey, perm domain.Permission) error {
	if !domain.HasPermission(apiKey.Role, perm) {
		return domain.ErrPermissionDenied.WithDetails(
			"role " + string(apiKey.Role) + " does not have permission " + string(perm),
		)
	}
	return nil
}

// CheckRateLimit applies a per-key token bucket of rateLimit requests per
// second with an equal burst.
func (s *AuthService) CheckRateLimit(_ context.Context, keyID string, rateLimit int) error {
	v, ok := s.limiters.Load(keyID)
	if !ok {
		v, _ = s.limiters.LoadOrStore(keyID, rate.NewLimiter(rate.Limit(rateLimit), rateLimit))
	}
	limiter := v.(*rate.Limiter)
	if limiter.Allow() {
		return nil
	}
	r := limiter.Reserve()
	delay := r.Delay()
	r.Cancel()
	return domain.ErrRateLimited.WithDetails("rate limit exceeded, retry after " + delay.String())
}

// checkAllowlist admits clientIP when the global and key allowlists are
// both empty or one of their entries matches.
func (s *AuthService) checkAllowlist(clientIP string, keyAllow []string) error {
	if len(s.globalAllow) == 0 && len(keyAllow) == 0 {
		return nil
	}
	addr, err := netip.ParseAddr(clientIP)
	if err != nil {
		return domain.ErrIPNotAllowed.WithDetails("invalid client IP format")
	}
	addr = addr.Unmap()
	if allowed(addr, s.globalAllow) || allowed(addr, keyAllow) {
		return nil
	}
	return domain.ErrIPNotAllowed.WithDetails("client IP not in allowlist")
}

func allowed(addr netip.Addr, entries []string) bool {
	for _, e := range entries {
		if strings.Contains(e, "/") {
			if p, err := netip.ParsePrefix(e); err == nil && p.Contains(addr) {
				return true
			}
			continue
		}
		if a, err := netip.ParseAddr(e); err == nil && a.Unmap() == addr {
			return true
		}
	}
	return false
}
