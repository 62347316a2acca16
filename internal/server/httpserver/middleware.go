package httpserver

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
	"github.com/yndnr/captoken-go/internal/server/httpserver/handler"
	"github.com/yndnr/captoken-go/internal/telemetry/logger"
)

// Context keys for request-scoped values.
type contextKey string

const (
	// ContextKeyStartTime is the context key for request start time.
	ContextKeyStartTime contextKey = "start_time"
)

// maxRequestIDLength bounds client-supplied request IDs.
const maxRequestIDLength = 128

// Middleware wraps an http.Handler with additional functionality.
type Middleware func(http.Handler) http.Handler

// Chain chains multiple middlewares together. The first middleware runs first.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// HTTPObserver records request metrics.
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, d time.Duration)
}

// RequestID adds a unique request ID to each request.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" || len(requestID) > maxRequestIDLength {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)

			ctx := logger.WithRequestID(r.Context(), requestID)
			ctx = context.WithValue(ctx, ContextKeyStartTime, time.Now())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP resolves the client address once and stores it for the services.
func ClientIP(resolver *IPResolver) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := service.WithClientIP(r.Context(), resolver.ClientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Auth authenticates a staff API key and checks perm.
func Auth(authSvc *service.AuthService, perm domain.Permission) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyID, keySecret := extractAPIKeyCredentials(r)
			if keyID == "" || keySecret == "" {
				writeDomainError(w, r, domain.ErrAPIKeyMissing)
				return
			}

			resp, err := authSvc.ValidateAPIKey(r.Context(), &service.ValidateAPIKeyRequest{
				KeyID:     keyID,
				KeySecret: keySecret,
				ClientIP:  service.ClientIPFromContext(r.Context()),
			})
			if err != nil {
				writeDomainError(w, r, err)
				return
			}
			if !resp.Valid || resp.APIKey == nil {
				writeDomainError(w, r, domain.ErrAPIKeyInvalid)
				return
			}

			if err := authSvc.CheckPermission(resp.APIKey, perm); err != nil {
				writeDomainError(w, r, domain.ErrPermissionDenied.WithDetails(string(perm)))
				return
			}

			if err := authSvc.CheckRateLimit(r.Context(), keyID, resp.APIKey.RateLimit); err != nil {
				w.Header().Set("Retry-After", "1")
				writeDomainError(w, r, domain.ErrRateLimited)
				return
			}

			ctx := service.WithStaffKey(r.Context(), resp.APIKey)
			ctx = logger.WithActor(ctx, resp.APIKey.KeyID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MetricsAuth guards /metrics. Metrics and admin keys are accepted.
func MetricsAuth(authSvc *service.AuthService, authRequired bool) Middleware {
	if !authRequired {
		return func(next http.Handler) http.Handler { return next }
	}
	return Auth(authSvc, domain.PermMetricsRead)
}

// PublicRateLimit limits public token endpoints per client IP.
func PublicRateLimit(rps float64, burst int) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiters := newIPLimiters(rate.Limit(rps), burst, 10*time.Minute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.allow(service.ClientIPFromContext(r.Context())) {
				w.Header().Set("Retry-After", "1")
				writeDomainError(w, r, domain.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ipLimiters keeps one token bucket per IP and forgets idle ones.
type ipLimiters struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idle    time.Duration
	entries map[string]*ipLimiter
	swept   time.Time
}

type ipLimiter struct {
	limiter *rate.Limiter
	seen    time.Time
}

func newIPLimiters(limit rate.Limit, burst int, idle time.Duration) *ipLimiters {
	return &ipLimiters{
		limit:   limit,
		burst:   burst,
		idle:    idle,
		entries: make(map[string]*ipLimiter),
		swept:   time.Now(),
	}
}

func (l *ipLimiters) allow(ip string) bool {
	now := time.Now()
	l.mu.Lock()
	if now.Sub(l.swept) > l.idle {
		for k, e := range l.entries {
			if now.Sub(e.seen) > l.idle {
				delete(l.entries, k)
			}
		}
		l.swept = now
	}
	e, ok := l.entries[ip]
	if !ok {
		e = &ipLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[ip] = e
	}
	e.seen = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// Logging logs every completed request.
func Logging(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			startTime, _ := r.Context().Value(ContextKeyStartTime).(time.Time)
			attrs := []any{
				"request_id", logger.RequestIDFromContext(r.Context()),
				"method", r.Method,
				"route", r.Pattern,
				"status", wrapped.statusCode,
				"duration_ms", time.Since(startTime).Milliseconds(),
				"client_ip", service.ClientIPFromContext(r.Context()),
			}
			if apiKey := GetAPIKeyFromContext(r.Context()); apiKey != nil {
				attrs = append(attrs, "api_key_id", apiKey.KeyID, "role", string(apiKey.Role))
			}

			switch {
			case wrapped.statusCode >= 500:
				log.Error("request completed with error", attrs...)
			case wrapped.statusCode >= 400:
				log.Warn("request completed with client error", attrs...)
			default:
				log.Info("request completed", attrs...)
			}
		})
	}
}

// Metrics observes request counts and latency by route pattern.
func Metrics(obs HTTPObserver) Middleware {
	return func(next http.Handler) http.Handler {
		if obs == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			obs.ObserveHTTP(r.Method, r.Pattern, wrapped.statusCode, time.Since(start))
		})
	}
}

// Recover recovers from panics and returns 500 error.
func Recover(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("panic recovered",
						"request_id", logger.RequestIDFromContext(r.Context()),
						"error", err,
						"path", r.URL.Path,
					)
					writeDomainError(w, r, domain.ErrInternalServer)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// NetworkACL rejects clients outside allowList. An empty list allows all.
func NetworkACL(allowList []string, log *slog.Logger) Middleware {
	networks, err := parseNetworks(allowList)
	if err != nil {
		log.Warn("invalid entries in admin allowlist", "error", err)
	}

	return func(next http.Handler) http.Handler {
		if len(allowList) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := service.ClientIPFromContext(r.Context())
			if ip := net.ParseIP(clientIP); ip != nil && containsIP(networks, ip) {
				next.ServeHTTP(w, r)
				return
			}
			log.Warn("request denied by network ACL", "client_ip", clientIP, "path", r.URL.Path)
			writeDomainError(w, r, domain.ErrIPNotAllowed)
		})
	}
}

// CORS adds Cross-Origin Resource Sharing headers.
func CORS(allowedOrigins []string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := len(allowedOrigins) == 0
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, Authorization")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractAPIKeyCredentials extracts API key credentials from request headers.
// It supports two formats:
// 1. X-API-Key-ID + X-API-Key headers
// 2. Authorization: Bearer <key_id>:<key_secret>
func extractAPIKeyCredentials(r *http.Request) (keyID, keySecret string) {
	if id := r.Header.Get("X-API-Key-ID"); id != "" {
		return id, r.Header.Get("X-API-Key")
	}
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		if parts := strings.SplitN(apiKey, ":", 2); len(parts) == 2 {
			return parts[0], parts[1]
		}
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		if parts := strings.SplitN(strings.TrimPrefix(authHeader, "Bearer "), ":", 2); len(parts) == 2 {
			return parts[0], parts[1]
		}
	}
	return "", ""
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

// GetAPIKeyFromContext retrieves the authenticated API key from context.
func GetAPIKeyFromContext(ctx context.Context) *domain.APIKey {
	return service.StaffKeyFromContext(ctx)
}

// writeDomainError writes err in the standard envelope.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	de := &domain.DomainError{Code: domain.ErrInternalServer.Code, Message: domain.ErrInternalServer.Message}
	if d, ok := err.(*domain.DomainError); ok {
		de = d
	} else if code := domain.GetErrorCode(err); code != "" {
		de = &domain.DomainError{Code: code, Message: err.Error()}
	}
	handler.WriteError(w, r, handler.StatusForCode(de.Code), de.Code, de.Message, nil)
}
