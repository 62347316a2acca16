// Package handler provides HTTP request handlers for captoken.
//
// This package contains handlers for all HTTP endpoints:
//
//   - public.go: Token peek, consumption, signing and decline
//   - staff.go: Issuance, revocation and token inspection
//   - admin.go: Requests, attendance sessions, sweeps and backups
//   - health.go: Health and readiness checks
//
// All handlers follow a consistent pattern:
//
//   - Parse and validate request
//   - Call domain service
//   - Format and return response
//   - Handle errors with appropriate HTTP status codes
//
// Public handlers never reveal why a link failed: every token-state
// failure answers 410 with the same code.
package handler
