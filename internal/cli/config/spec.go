package config

// CLIConfig is the configuration for captoken-cli.
type CLIConfig struct {
	DefaultOutput string `yaml:"default_output"` // table, json, yaml

	// CurrentProfile is used when --profile is not given.
	CurrentProfile string `yaml:"current_profile,omitempty"`

	Profiles map[string]Profile `yaml:"profiles"`
}

// Profile stores saved connection details.
type Profile struct {
	Server   string `yaml:"server"`
	APIKeyID string `yaml:"api_key_id,omitempty"`
	APIKey   string `yaml:"api_key,omitempty"`
	CAFile   string `yaml:"ca_file,omitempty"`

	// Organization is the default organization for commands that need one.
	Organization string `yaml:"organization,omitempty"`
}

// DefaultServer is used without a profile or --server.
const DefaultServer = "http://localhost:5080"

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		DefaultOutput: "table",
		Profiles:      make(map[string]Profile),
	}
}
