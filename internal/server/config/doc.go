// Package config provides server configuration for captoken.
//
// This package defines the server configuration structure and validation:
//
//   - spec.go: ServerConfig struct definition
//   - default.go: Default configuration values
//   - verify.go: Business validation (addresses, keys, kind policies)
//   - sanitize.go: Log sanitization (hide sensitive values)
//   - load.go: Load (defaults, file, environment, Verify)
//   - convert.go: Conversion into service and storage configurations
//
// Configuration is loaded via internal/infra/confloader from a YAML file
// and CAPTOKEN_ environment variables.
package config
