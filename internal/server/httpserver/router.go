package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
	"github.com/yndnr/captoken-go/internal/server/httpserver/handler"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	Handler *handler.Handler

	// AuthService authenticates staff API keys.
	AuthService *service.AuthService

	// Metrics serves /metrics and observes requests. Optional.
	Metrics interface {
		HTTPObserver
		Handler() http.Handler
	}

	Logger *slog.Logger

	// TrustedProxies may set X-Forwarded-For.
	TrustedProxies []string

	// AdminAllowList is the IP/CIDR allowlist for /admin/v1 (empty = no restriction).
	AdminAllowList []string

	// MetricsAuthRequired indicates if /metrics endpoint requires authentication.
	MetricsAuthRequired bool

	// CORSAllowedOrigins is the list of allowed CORS origins (empty = allow all).
	CORSAllowedOrigins []string

	// PublicRateLimit is the per-IP limit on the public token endpoints.
	PublicRateLimit float64
	PublicBurst     int
}

// NewRouter creates and configures the HTTP router with all routes and middleware.
func NewRouter(cfg *RouterConfig) (http.Handler, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	resolver, err := NewIPResolver(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	h := cfg.Handler

	// Order: Recover -> RequestID -> ClientIP -> Metrics -> Logging -> CORS -> route specific.
	base := []Middleware{
		Recover(cfg.Logger),
		RequestID(),
		ClientIP(resolver),
	}
	if cfg.Metrics != nil {
		base = append(base, Metrics(cfg.Metrics))
	}
	base = append(base, Logging(cfg.Logger), CORS(cfg.CORSAllowedOrigins))

	route := func(fn http.HandlerFunc, extra ...Middleware) http.Handler {
		mws := make([]Middleware, 0, len(base)+len(extra))
		mws = append(mws, base...)
		mws = append(mws, extra...)
		return Chain(fn, mws...)
	}
	staff := func(fn http.HandlerFunc, perm domain.Permission) http.Handler {
		return route(fn, Auth(cfg.AuthService, perm))
	}
	acl := NetworkACL(cfg.AdminAllowList, cfg.Logger)
	admin := func(fn http.HandlerFunc, perm domain.Permission) http.Handler {
		return route(fn, acl, Auth(cfg.AuthService, perm))
	}

	mux := http.NewServeMux()

	// Health endpoints - no authentication required
	mux.Handle("GET /health", route(h.Health))
	mux.Handle("GET /ready", route(h.Ready))

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", route(cfg.Metrics.Handler().ServeHTTP,
			MetricsAuth(cfg.AuthService, cfg.MetricsAuthRequired)))
	}

	// Public link endpoints. The token value is the credential.
	public := PublicRateLimit(cfg.PublicRateLimit, cfg.PublicBurst)
	mux.Handle("GET /tokens/{value}", route(h.Peek, public))
	mux.Handle("POST /tokens/{value}/consume", route(h.Present, public))
	mux.Handle("POST /tokens/{value}/decline", route(h.Decline, public))

	// Staff endpoints
	mux.Handle("POST /tokens", staff(h.Issue, domain.PermTokenIssue))
	mux.Handle("POST /tokens/bulk", staff(h.IssueBulk, domain.PermTokenIssue))
	mux.Handle("POST /tokens/{value}/revoke", staff(h.RevokeByValue, domain.PermTokenRevoke))

	// Admin endpoints - optional network ACL
	mux.Handle("GET /admin/v1/tokens", admin(h.ListTokens, domain.PermTokenRead))
	mux.Handle("GET /admin/v1/tokens/{id}", admin(h.GetToken, domain.PermTokenRead))
	mux.Handle("GET /admin/v1/tokens/{id}/records", admin(h.ListRecords, domain.PermTokenRead))
	mux.Handle("POST /admin/v1/tokens/{id}/revoke", admin(h.RevokeByID, domain.PermTokenRevoke))
	mux.Handle("POST /admin/v1/requests/{id}/cancel", admin(h.CancelRequest, domain.PermRequestCancel))

	mux.Handle("POST /admin/v1/sessions", admin(h.CreateSession, domain.PermSessionManage))
	mux.Handle("GET /admin/v1/sessions/{id}", admin(h.GetSession, domain.PermSessionManage))
	mux.Handle("POST /admin/v1/sessions/{id}/launch", admin(h.LaunchSession, domain.PermSessionManage))
	mux.Handle("POST /admin/v1/sessions/{id}/close", admin(h.CloseSession, domain.PermSessionManage))
	mux.Handle("POST /admin/v1/sessions/{id}/cancel", admin(h.CancelSession, domain.PermSessionManage))

	mux.Handle("POST /admin/v1/sweep", admin(h.Sweep, domain.PermSystemSweep))
	mux.Handle("POST /admin/v1/backups", admin(h.CreateBackup, domain.PermSystemSweep))
	mux.Handle("GET /admin/v1/backups", admin(h.ListBackups, domain.PermSystemSweep))

	return mux, nil
}

// DefaultRouterConfig returns default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		MetricsAuthRequired: true,
		PublicRateLimit:     10,
		PublicBurst:         20,
	}
}
