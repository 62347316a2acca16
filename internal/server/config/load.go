package config

import (
	"github.com/yndnr/captoken-go/internal/infra/confloader"
)

// Load applies the YAML file at path (optional) and CAPTOKEN_* environment
// overrides to the defaults, then verifies the result.
func Load(path string) (*ServerConfig, error) {
	cfg := Default()
	var opts []confloader.Option
	if path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}
	if err := Verify(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
