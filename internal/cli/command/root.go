package command

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/captoken-go/internal/cli/config"
	"github.com/yndnr/captoken-go/internal/cli/connection"
	"github.com/yndnr/captoken-go/internal/cli/output"
	"github.com/yndnr/captoken-go/internal/infra/buildinfo"
)

const metaConfig = "cliConfig"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "captoken-cli",
		Usage:   "captoken command-line management tool",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			TokenCommand(),
			SessionCommand(),
			RequestCommand(),
			SystemCommand(),
			APIKeyCommand(),
			ConfigCommand(),
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			if c.App.Metadata == nil {
				c.App.Metadata = make(map[string]any)
			}
			c.App.Metadata[metaConfig] = cfg
			return nil
		},
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "CLI config file",
			EnvVars: []string{"CAPTOKEN_CLI_CONFIG"},
			Value:   config.DefaultConfigPath(),
		},
		&cli.StringFlag{
			Name:    "profile",
			Aliases: []string{"p"},
			Usage:   "Connection profile from the config file",
			EnvVars: []string{"CAPTOKEN_PROFILE"},
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "captoken server address (e.g., localhost:5080)",
			EnvVars: []string{"CAPTOKEN_SERVER"},
		},
		&cli.StringFlag{
			Name:    "api-key-id",
			Aliases: []string{"k"},
			Usage:   "API Key ID for authentication",
			EnvVars: []string{"CAPTOKEN_API_KEY_ID"},
		},
		&cli.StringFlag{
			Name:    "api-key",
			Aliases: []string{"K"},
			Usage:   "API Key secret for authentication",
			EnvVars: []string{"CAPTOKEN_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "ca-file",
			Usage:   "PEM CA bundle for https servers",
			EnvVars: []string{"CAPTOKEN_CA_FILE"},
		},
		&cli.StringFlag{
			Name:    "org",
			Usage:   "Organization ID (defaults to the profile organization)",
			EnvVars: []string{"CAPTOKEN_ORG"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Request timeout",
			Value: connection.DefaultTimeout,
		},
	}
}

// cliConfig returns the loaded config file, or defaults.
func cliConfig(c *cli.Context) *config.CLIConfig {
	if cfg, ok := c.App.Metadata[metaConfig].(*config.CLIConfig); ok {
		return cfg
	}
	return config.Default()
}

// profile resolves the effective connection settings: the selected
// profile overlaid with explicit flags and environment variables.
func profile(c *cli.Context) (config.Profile, error) {
	p, err := cliConfig(c).Resolve(c.String("profile"))
	if err != nil {
		return config.Profile{}, err
	}
	return p.Merge(config.Profile{
		Server:       c.String("server"),
		APIKeyID:     c.String("api-key-id"),
		APIKey:       c.String("api-key"),
		CAFile:       c.String("ca-file"),
		Organization: c.String("org"),
	}), nil
}

// EnsureConnected returns an HTTP client for the effective profile.
func EnsureConnected(c *cli.Context) (*connection.HTTPClient, error) {
	p, err := profile(c)
	if err != nil {
		return nil, err
	}
	return connection.NewHTTPClient(p.Server, connection.Options{
		APIKeyID: p.APIKeyID,
		APIKey:   p.APIKey,
		CAFile:   p.CAFile,
		Timeout:  c.Duration("timeout"),
	})
}

// organization returns the organization for a command, or an error.
func organization(c *cli.Context) (string, error) {
	p, err := profile(c)
	if err != nil {
		return "", err
	}
	if p.Organization == "" {
		return "", fmt.Errorf("organization is required (--org or profile organization)")
	}
	return p.Organization, nil
}

// printer returns the output printer for the selected format.
func printer(c *cli.Context) (*output.Printer, error) {
	name := c.String("output")
	if name == "" {
		name = cliConfig(c).DefaultOutput
	}
	format, err := output.ParseFormat(name)
	if err != nil {
		return nil, err
	}
	return &output.Printer{W: stdout(c), Format: format, Wide: c.Bool("wide")}, nil
}

func stdout(c *cli.Context) io.Writer {
	if c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

// call performs one request and unwraps the response into out. GET
// requests ignore body.
func call(c *cli.Context, method, path string, body, out any) error {
	client, err := EnsureConnected(c)
	if err != nil {
		return err
	}
	parent := c.Context
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, c.Duration("timeout")+time.Second)
	defer cancel()

	var resp *http.Response
	if method == http.MethodGet {
		resp, err = client.Get(ctx, path)
	} else {
		resp, err = client.Post(ctx, path, body)
	}
	if err != nil {
		return err
	}
	return connection.ParseResponse(resp, out)
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
