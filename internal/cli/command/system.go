package command

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/captoken-go/internal/cli/output"
	"github.com/yndnr/captoken-go/internal/core/service"
	"github.com/yndnr/captoken-go/internal/server/httpserver/handler"
	"github.com/yndnr/captoken-go/internal/storage/snapshot"
)

// SystemCommand returns the system subcommand group.
func SystemCommand() *cli.Command {
	return &cli.Command{
		Name:    "system",
		Aliases: []string{"sys"},
		Usage:   "System management commands",
		Subcommands: []*cli.Command{
			{
				Name:   "health",
				Usage:  "Check server liveness",
				Action: systemProbe("/health"),
			},
			{
				Name:   "ready",
				Usage:  "Check that the server can reach its store",
				Action: systemProbe("/ready"),
			},
			{
				Name:   "sweep",
				Usage:  "Run one expiry and reminder sweep now",
				Action: systemSweep,
			},
			{
				Name:  "backup",
				Usage: "Manage store backups",
				Subcommands: []*cli.Command{
					{
						Name:   "create",
						Usage:  "Create a backup now",
						Action: backupCreate,
					},
					{
						Name:   "list",
						Usage:  "List backups",
						Action: backupList,
					},
				},
			},
		},
	}
}

func systemProbe(path string) cli.ActionFunc {
	return func(c *cli.Context) error {
		var res map[string]string
		if err := call(c, http.MethodGet, path, nil, &res); err != nil {
			PrintError("%s check failed: %v", strings.TrimPrefix(path, "/"), err)
			return cli.Exit("server unhealthy", 1)
		}
		p, err := printer(c)
		if err != nil {
			return err
		}
		return p.Print(res, func(bool) *output.Table {
			t := &output.Table{Headers: []string{"STATUS", "VERSION", "TIME"}}
			t.AddRow(res["status"], output.Cell(res["version"]), res["time"])
			return t
		})
	}
}

func systemSweep(c *cli.Context) error {
	var report service.SweepReport
	if err := call(c, http.MethodPost, "/admin/v1/sweep", nil, &report); err != nil {
		return err
	}
	p, err := printer(c)
	if err != nil {
		return err
	}
	return p.Print(&report, func(bool) *output.Table {
		t := &output.Table{Headers: []string{"FIELD", "VALUE"}}
		t.AddRow("partitions", fmt.Sprint(report.Partitions))
		t.AddRow("expired_tokens", strconv.Itoa(report.ExpiredTokens))
		t.AddRow("expired_requests", strconv.Itoa(report.ExpiredRequests))
		t.AddRow("reminders_sent", strconv.Itoa(report.RemindersSent))
		t.AddRow("reminder_failures", strconv.Itoa(report.ReminderFailures))
		t.AddRow("failures", strconv.Itoa(report.Failures))
		return t
	})
}

func backupCreate(c *cli.Context) error {
	var info snapshot.Info
	if err := call(c, http.MethodPost, "/admin/v1/backups", nil, &info); err != nil {
		return err
	}
	return printBackups(c, &info, []*snapshot.Info{&info})
}

func backupList(c *cli.Context) error {
	var res handler.ListBackupsResponse
	if err := call(c, http.MethodGet, "/admin/v1/backups", nil, &res); err != nil {
		return err
	}
	return printBackups(c, &res, res.Items)
}

func printBackups(c *cli.Context, data any, infos []*snapshot.Info) error {
	p, err := printer(c)
	if err != nil {
		return err
	}
	return p.Print(data, func(wide bool) *output.Table {
		t := &output.Table{Headers: []string{"BACKUP ID", "CREATED", "SIZE", "ENCRYPTED"}}
		if wide {
			t.Headers = append(t.Headers, "BACKEND", "PATH", "CHECKSUM")
		}
		for _, in := range infos {
			row := []string{in.ID, output.Millis(in.CreatedAt), humanBytes(in.Size), strconv.FormatBool(in.Encrypted)}
			if wide {
				row = append(row, output.Cell(in.Backend), in.Path, output.Cell(in.Checksum))
			}
			t.AddRow(row...)
		}
		return t
	})
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
