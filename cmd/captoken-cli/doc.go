// Package main provides the entry point for captoken-cli.
//
// The CLI talks to captoken-server over its HTTP API for:
//
//   - Token issuance, inspection, presentation and revocation
//   - Attendance sessions and signature requests
//   - Health probes, sweeps and backups
//   - API key generation and connection profiles
//
// Usage:
//
//	captoken-cli [global flags] command [flags]
//	captoken-cli --profile prod token list --kind qr_checkin
//	captoken-cli config set-profile local --server http://localhost:5080
package main
