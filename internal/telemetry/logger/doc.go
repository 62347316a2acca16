// Package logger provides structured logging for captoken.
//
//   - logger.go: slog-based logger with a process-wide adjustable level
//   - context.go: context propagation of logger, request ID and actor
//   - redact.go: masking of token values, secrets and bearer assertions
//
// Token values must never reach a log line in clear; the redaction hook
// runs on every attribute, including nested groups.
package logger
