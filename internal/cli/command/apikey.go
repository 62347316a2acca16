package command

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/yndnr/captoken-go/internal/core/domain"
)

// APIKeyCommand returns the apikey subcommand group. Staff keys live in the
// server configuration, so keys are generated locally.
func APIKeyCommand() *cli.Command {
	return &cli.Command{
		Name:    "apikey",
		Aliases: []string{"key"},
		Usage:   "Generate staff API keys",
		Subcommands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "Generate a key and print its server configuration entry",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "name",
						Aliases:  []string{"n"},
						Usage:    "Key name",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "role",
						Aliases:  []string{"r"},
						Usage:    "Key role (admin, issuer, validator, metrics)",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "rate-limit",
						Value: domain.DefaultKeyRateLimit,
						Usage: "Rate limit (QPS)",
					},
					&cli.StringFlag{
						Name:  "key-org",
						Usage: "Bind the key to one organization (empty spans all)",
					},
					&cli.StringSliceFlag{
						Name:  "allow",
						Usage: "Allowed client IP or CIDR (repeatable)",
					},
				},
				Action: apikeyGenerate,
			},
		},
	}
}

// apiKeyEntry mirrors one security.api_keys entry of the server config.
type apiKeyEntry struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	SecretHash     string   `yaml:"secret_hash"`
	Role           string   `yaml:"role"`
	OrganizationID string   `yaml:"organization_id,omitempty"`
	Allowlist      []string `yaml:"allowlist,omitempty"`
	RateLimit      int      `yaml:"rate_limit"`
}

func apikeyGenerate(c *cli.Context) error {
	role := c.String("role")
	if !domain.IsValidRole(role) {
		return fmt.Errorf("invalid role %q", role)
	}
	key, secret, err := domain.NewAPIKey(c.String("name"), domain.Role(role))
	if err != nil {
		return err
	}
	key.RateLimit = c.Int("rate-limit")
	key.Allowlist = c.StringSlice("allow")
	key.OrganizationID = c.String("key-org")
	if err := key.Validate(); err != nil {
		return err
	}

	w := stdout(c)
	fmt.Fprintf(w, "# Secret for %s (shown once, store it now):\n#   %s\n", key.KeyID, secret)
	fmt.Fprintln(w, "# Add under security.api_keys:")
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode([]apiKeyEntry{{
		ID:             key.KeyID,
		Name:           key.Name,
		SecretHash:     key.SecretHash,
		Role:           string(key.Role),
		OrganizationID: key.OrganizationID,
		Allowlist:      key.Allowlist,
		RateLimit:      key.RateLimit,
	}}); err != nil {
		return err
	}
	return enc.Close()
}
