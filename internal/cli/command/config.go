package command

import (
	"fmt"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/captoken-go/internal/cli/config"
	"github.com/yndnr/captoken-go/internal/cli/output"
	serverconfig "github.com/yndnr/captoken-go/internal/server/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration management",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show CLI profiles (secrets masked)",
				Action: configShow,
			},
			{
				Name:      "use",
				Usage:     "Select the current profile",
				ArgsUsage: "PROFILE",
				Action:    configUse,
			},
			{
				Name:      "set-profile",
				Usage:     "Create or update a profile",
				ArgsUsage: "PROFILE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "server", Usage: "Server address"},
					&cli.StringFlag{Name: "api-key-id", Usage: "API Key ID"},
					&cli.StringFlag{Name: "api-key", Usage: "API Key secret"},
					&cli.StringFlag{Name: "ca-file", Usage: "PEM CA bundle"},
					&cli.StringFlag{Name: "org", Usage: "Default organization"},
				},
				Action: configSetProfile,
			},
			{
				Name:      "check-server",
				Usage:     "Validate a server configuration file",
				ArgsUsage: "FILE",
				Action:    configCheckServer,
			},
		},
	}
}

func configShow(c *cli.Context) error {
	cfg := cliConfig(c)
	p, err := printer(c)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(cfg.Profiles))
	masked := make(map[string]config.Profile, len(cfg.Profiles))
	for name, prof := range cfg.Profiles {
		if prof.APIKey != "" {
			prof.APIKey = "******"
		}
		masked[name] = prof
		names = append(names, name)
	}
	sort.Strings(names)

	view := map[string]any{
		"path":            c.String("config"),
		"default_output":  cfg.DefaultOutput,
		"current_profile": cfg.CurrentProfile,
		"profiles":        masked,
	}
	return p.Print(view, func(bool) *output.Table {
		t := &output.Table{Headers: []string{"", "PROFILE", "SERVER", "API KEY ID", "ORG"}}
		for _, name := range names {
			prof := masked[name]
			current := ""
			if name == cfg.CurrentProfile {
				current = "*"
			}
			t.AddRow(current, name, prof.Server, output.Cell(prof.APIKeyID), output.Cell(prof.Organization))
		}
		return t
	})
}

func configUse(c *cli.Context) error {
	name := c.Args().First()
	cfg := cliConfig(c)
	if _, ok := cfg.Profiles[name]; !ok {
		return fmt.Errorf("profile %q not found", name)
	}
	cfg.CurrentProfile = name
	if err := config.Save(cfg, c.String("config")); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "Current profile: %s\n", name)
	return nil
}

func configSetProfile(c *cli.Context) error {
	name := strings.TrimSpace(c.Args().First())
	if name == "" {
		return fmt.Errorf("PROFILE is required")
	}
	cfg := cliConfig(c)
	prof := cfg.Profiles[name].Merge(config.Profile{
		Server:       c.String("server"),
		APIKeyID:     c.String("api-key-id"),
		APIKey:       c.String("api-key"),
		CAFile:       c.String("ca-file"),
		Organization: c.String("org"),
	})
	if prof.Server == "" {
		return fmt.Errorf("--server is required for a new profile")
	}
	cfg.Profiles[name] = prof
	if cfg.CurrentProfile == "" {
		cfg.CurrentProfile = name
	}
	if err := config.Save(cfg, c.String("config")); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "Profile %s saved\n", name)
	return nil
}

func configCheckServer(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("FILE is required")
	}
	cfg, err := serverconfig.Load(path)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration:\n%v", err), 1)
	}

	kinds := make([]string, 0, len(cfg.Tokens.Kinds))
	for k := range cfg.Tokens.Kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	w := stdout(c)
	fmt.Fprintf(w, "Configuration %s is valid\n\n", path)
	t := &output.Table{Headers: []string{"SETTING", "VALUE"}}
	t.AddRow("listen", cfg.Server.HTTP.Addr)
	t.AddRow("tls", fmt.Sprint(cfg.Server.HTTP.TLSCertFile != ""))
	t.AddRow("storage", cfg.Storage.Backend)
	t.AddRow("backups", fmt.Sprint(cfg.Storage.Backup.Enabled))
	t.AddRow("api keys", fmt.Sprint(len(cfg.Security.APIKeys)))
	t.AddRow("kinds", strings.Join(kinds, ","))
	t.AddRow("sweeper", fmt.Sprint(cfg.Sweeper.Enabled))
	t.AddRow("notify", cfg.Notify.Driver)
	t.AddRow("directory", cfg.Directory.Source)
	return t.Render(w)
}
