// Package command provides the captoken-cli command tree, built with
// urfave/cli/v2.
//
//   - root.go: App, global flags and connection setup
//   - token.go: issue, bulk, peek, consume, decline, revoke, get, list, records
//   - session.go: attendance sessions
//   - request.go: signature request cancellation
//   - system.go: health, readiness, sweep and backups
//   - apikey.go: local API key generation for the server configuration
//   - config.go: CLI profiles
package command
