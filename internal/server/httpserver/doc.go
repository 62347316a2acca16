// Package httpserver provides the HTTP/HTTPS server for captoken.
//
// Routes are registered on a stdlib ServeMux, each with its own middleware
// chain:
//
//   - Public link endpoints: /tokens/{value}, consume, decline (per-IP rate limit)
//   - Staff endpoints: /tokens, /tokens/bulk, /tokens/{value}/revoke
//   - Admin endpoints: /admin/v1/* (optional network ACL)
//   - Operational endpoints: /health, /ready, /metrics
//
// TLS certificates are served through tlsroots.CertReloader so that they can
// be rotated without a restart.
package httpserver
