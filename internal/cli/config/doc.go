// Package config provides the captoken-cli configuration file
// (~/.captoken/cli.yaml).
//
//   - spec.go: CLIConfig and Profile
//   - loader.go: loading, saving and profile resolution
//
// A profile names a server and the staff credentials used against it.
package config
