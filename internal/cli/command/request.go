package command

import (
	"fmt"
	"net/http"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/captoken-go/internal/cli/output"
	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/server/httpserver/handler"
)

// RequestCommand returns the signature request subcommand group.
func RequestCommand() *cli.Command {
	return &cli.Command{
		Name:    "request",
		Aliases: []string{"req"},
		Usage:   "Manage signature requests",
		Subcommands: []*cli.Command{
			{
				Name:      "cancel",
				Usage:     "Cancel a pending request and revoke its token",
				ArgsUsage: "REQUEST_ID",
				Action:    requestCancel,
			},
		},
	}
}

func requestCancel(c *cli.Context) error {
	id, err := valueArg(c, "REQUEST_ID")
	if err != nil {
		return err
	}
	org, err := organization(c)
	if err != nil {
		return err
	}
	var req domain.Request
	if err := call(c, http.MethodPost, "/admin/v1/requests/"+id+"/cancel", &handler.OrgRequest{OrganizationID: org}, &req); err != nil {
		return err
	}

	p, err := printer(c)
	if err != nil {
		return err
	}
	return p.Print(&req, func(bool) *output.Table {
		t := &output.Table{Headers: []string{"REQUEST ID", "TOKEN ID", "STATUS", "REMINDERS", "RESOLVED"}}
		t.AddRow(req.ID, req.TokenID, string(req.Status),
			fmt.Sprintf("%d/%d", req.ReminderCount, req.MaxReminders), output.Millis(req.ResolvedAt))
		return t
	})
}
