// Package buildinfo reports the version of the running binary.
//
// Release builds inject values with ldflags:
//
//	go build -ldflags "-X github.com/yndnr/captoken-go/internal/infra/buildinfo.Version=v1.0.0"
//
// Development builds fall back to the VCS stamp recorded by the toolchain.
package buildinfo
