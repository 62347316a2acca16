package command

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/captoken-go/internal/cli/output"
	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/server/httpserver/handler"
)

// SessionCommand returns the attendance session subcommand group.
func SessionCommand() *cli.Command {
	return &cli.Command{
		Name:    "session",
		Aliases: []string{"sess"},
		Usage:   "Manage attendance sessions",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a draft session for a target",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "target-type", Value: domain.EntityClassSession, Usage: "Target entity type"},
					&cli.StringFlag{Name: "target", Usage: "Target ID", Required: true},
					&cli.StringFlag{Name: "title", Usage: "Session title"},
					&cli.Float64Flag{Name: "lat", Usage: "Anchor latitude"},
					&cli.Float64Flag{Name: "lng", Usage: "Anchor longitude"},
					&cli.Float64Flag{Name: "radius", Usage: "Anchor radius in meters"},
					&cli.BoolFlag{Name: "require-geo", Usage: "Reject signatures without a location"},
					&cli.DurationFlag{Name: "token-ttl", Usage: "TTL of the signature tokens issued at launch"},
				},
				Action: sessionCreate,
			},
			{
				Name:      "get",
				Usage:     "Show a session",
				ArgsUsage: "SESSION_ID",
				Action:    sessionGet,
			},
			{
				Name:      "launch",
				Usage:     "Launch a session and issue one signature token per attendee",
				ArgsUsage: "SESSION_ID",
				Action:    sessionLaunch,
			},
			{
				Name:      "close",
				Usage:     "Close a launched session",
				ArgsUsage: "SESSION_ID",
				Action:    sessionFinish("close"),
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a session and its pending requests",
				ArgsUsage: "SESSION_ID",
				Action:    sessionFinish("cancel"),
			},
		},
	}
}

func sessionCreate(c *cli.Context) error {
	org, err := organization(c)
	if err != nil {
		return err
	}
	body := &handler.CreateSessionRequest{
		OrganizationID:  org,
		TargetType:      c.String("target-type"),
		TargetID:        c.String("target"),
		Title:           c.String("title"),
		TokenTTLSeconds: int64(c.Duration("token-ttl") / time.Second),
		Anchor: domain.ProximityAnchor{
			AllowedRadiusMeters: c.Float64("radius"),
			RequireGeolocation:  c.Bool("require-geo"),
		},
	}
	if c.IsSet("lat") != c.IsSet("lng") {
		return fmt.Errorf("--lat and --lng must be given together")
	}
	if c.IsSet("lat") {
		lat, lng := c.Float64("lat"), c.Float64("lng")
		body.Anchor.Latitude, body.Anchor.Longitude = &lat, &lng
	}

	var sess domain.AttendanceSession
	if err := call(c, http.MethodPost, "/admin/v1/sessions", body, &sess); err != nil {
		return err
	}
	return printSession(c, &sess)
}

func sessionGet(c *cli.Context) error {
	id, err := valueArg(c, "SESSION_ID")
	if err != nil {
		return err
	}
	org, err := organization(c)
	if err != nil {
		return err
	}
	var sess domain.AttendanceSession
	if err := call(c, http.MethodGet, "/admin/v1/sessions/"+id+"?org="+url.QueryEscape(org), nil, &sess); err != nil {
		return err
	}
	return printSession(c, &sess)
}

func sessionLaunch(c *cli.Context) error {
	id, err := valueArg(c, "SESSION_ID")
	if err != nil {
		return err
	}
	org, err := organization(c)
	if err != nil {
		return err
	}
	var res handler.LaunchSessionResponse
	if err := call(c, http.MethodPost, "/admin/v1/sessions/"+id+"/launch", &handler.OrgRequest{OrganizationID: org}, &res); err != nil {
		return err
	}
	if err := printSession(c, res.Session); err != nil {
		return err
	}
	return printBulk(c, &res.BulkIssueResponse)
}

// sessionFinish returns the action for close and cancel.
func sessionFinish(transition string) cli.ActionFunc {
	return func(c *cli.Context) error {
		id, err := valueArg(c, "SESSION_ID")
		if err != nil {
			return err
		}
		org, err := organization(c)
		if err != nil {
			return err
		}
		var sess domain.AttendanceSession
		if err := call(c, http.MethodPost, "/admin/v1/sessions/"+id+"/"+transition, &handler.OrgRequest{OrganizationID: org}, &sess); err != nil {
			return err
		}
		return printSession(c, &sess)
	}
}

func printSession(c *cli.Context, sess *domain.AttendanceSession) error {
	p, err := printer(c)
	if err != nil {
		return err
	}
	return p.Print(sess, func(wide bool) *output.Table {
		t := &output.Table{Headers: []string{"SESSION ID", "TARGET", "STATUS", "RADIUS", "CREATED"}}
		if wide {
			t.Headers = append(t.Headers, "TITLE", "LAUNCHED", "CLOSED")
		}
		row := []string{
			sess.ID,
			sess.TargetType + "/" + sess.TargetID,
			string(sess.Status),
			fmt.Sprintf("%.0fm", sess.Anchor.AllowedRadiusMeters),
			output.Millis(sess.CreatedAt),
		}
		if wide {
			row = append(row, output.Cell(sess.Title), output.Millis(sess.LaunchedAt), output.Millis(sess.ClosedAt))
		}
		t.AddRow(row...)
		return t
	})
}
