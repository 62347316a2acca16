// Package main provides the entry point for captoken-server.
//
// The server hosts the captoken HTTP API:
//
//   - Public token endpoints for peeking, presenting and declining links
//   - Staff endpoints for issuance and revocation, guarded by API keys
//   - Admin endpoints for sessions, requests, sweeps and backups
//   - Health, readiness and Prometheus metrics
//
// Alongside the API it runs the expiry and reminder sweeper, scheduled
// Badger backups, and a file watcher that reloads the log level, the
// static entity directory and the TLS key pair.
//
// Usage:
//
//	captoken-server [flags]
//	captoken-server --config /etc/captoken/server.yaml
package main
