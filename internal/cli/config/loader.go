package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath returns the default CLI config file path.
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".captoken", "cli.yaml")
}

// Load loads CLI configuration from file. A missing file yields Default().
func Load(path string) (*CLIConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]Profile)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path with owner-only permissions; it holds secrets.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Validate checks output format and profile references.
func (c *CLIConfig) Validate() error {
	switch c.DefaultOutput {
	case "", "table", "json", "yaml":
	default:
		return fmt.Errorf("default_output must be table, json or yaml, got %q", c.DefaultOutput)
	}
	if c.CurrentProfile != "" {
		if _, ok := c.Profiles[c.CurrentProfile]; !ok {
			return fmt.Errorf("current_profile %q is not defined", c.CurrentProfile)
		}
	}
	for name, p := range c.Profiles {
		if p.Server == "" {
			return fmt.Errorf("profile %q: server is required", name)
		}
	}
	return nil
}

// Resolve returns the named profile, or the current one when name is
// empty. Without either the default server is returned.
func (c *CLIConfig) Resolve(name string) (Profile, error) {
	if name == "" {
		name = c.CurrentProfile
	}
	if name == "" {
		return Profile{Server: DefaultServer}, nil
	}
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile %q not found", name)
	}
	return p, nil
}

// Merge overlays non-empty fields of override on p.
func (p Profile) Merge(override Profile) Profile {
	if override.Server != "" {
		p.Server = override.Server
	}
	if override.APIKeyID != "" {
		p.APIKeyID = override.APIKeyID
	}
	if override.APIKey != "" {
		p.APIKey = override.APIKey
	}
	if override.CAFile != "" {
		p.CAFile = override.CAFile
	}
	if override.Organization != "" {
		p.Organization = override.Organization
	}
	return p
}
