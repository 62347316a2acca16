package command

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/captoken-go/internal/cli/output"
	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
	"github.com/yndnr/captoken-go/internal/server/httpserver/handler"
)

// TokenCommand returns the token subcommand group.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:    "token",
		Aliases: []string{"tok"},
		Usage:   "Issue, inspect and revoke capability tokens",
		Subcommands: []*cli.Command{
			{
				Name:   "issue",
				Usage:  "Issue one token",
				Flags:  append(issueFlags(), &cli.StringFlag{Name: "subject", Usage: "Subject ID", Required: true}),
				Action: tokenIssue,
			},
			{
				Name:  "bulk",
				Usage: "Issue tokens for many subjects; without --subject every enrolled subject",
				Flags: append(issueFlags(), &cli.StringSliceFlag{
					Name:  "subject",
					Usage: "Subject ID (repeatable)",
				}),
				Action: tokenBulk,
			},
			{
				Name:      "peek",
				Usage:     "Validate a token value without consuming it",
				ArgsUsage: "VALUE",
				Action:    tokenPeek,
			},
			{
				Name:      "consume",
				Aliases:   []string{"present"},
				Usage:     "Present a token value as a client would",
				ArgsUsage: "VALUE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "presenter", Usage: "Presenter ID (QR check-in)"},
					&cli.StringFlag{Name: "fingerprint", Usage: "Device fingerprint"},
					&cli.Float64Flag{Name: "lat", Usage: "Latitude of the presenter"},
					&cli.Float64Flag{Name: "lng", Usage: "Longitude of the presenter"},
					&cli.Float64Flag{Name: "accuracy", Usage: "Reported accuracy in meters"},
				},
				Action: tokenConsume,
			},
			{
				Name:      "decline",
				Usage:     "Decline a signature request",
				ArgsUsage: "VALUE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reason", Usage: "Decline reason"},
				},
				Action: tokenDecline,
			},
			{
				Name:      "revoke",
				Usage:     "Revoke a token by value, or by ID with --id",
				ArgsUsage: "VALUE|TOKEN_ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "id", Usage: "Treat the argument as a token ID"},
				},
				Action: tokenRevoke,
			},
			{
				Name:      "get",
				Usage:     "Show a token",
				ArgsUsage: "TOKEN_ID",
				Action:    tokenGet,
			},
			{
				Name:  "list",
				Usage: "List tokens of the organization",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Usage: "Filter by kind"},
					&cli.StringFlag{Name: "status", Usage: "Filter by status"},
					&cli.StringFlag{Name: "subject", Usage: "Filter by subject ID"},
					&cli.StringFlag{Name: "target", Usage: "Filter by target ID"},
					&cli.IntFlag{Name: "limit", Value: 100, Usage: "Maximum tokens (1-1000)"},
				},
				Action: tokenList,
			},
			{
				Name:      "records",
				Usage:     "List the usage records of a token",
				ArgsUsage: "TOKEN_ID",
				Action:    tokenRecords,
			},
		},
	}
}

// issueFlags are shared by issue and bulk.
func issueFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "kind",
			Usage:    "learner_access, qr_checkin, attendance_signature or document_signature",
			Required: true,
		},
		&cli.StringFlag{Name: "subject-type", Value: domain.EntityStudent, Usage: "Subject entity type"},
		&cli.StringFlag{Name: "target-type", Usage: "Target entity type", Required: true},
		&cli.StringFlag{Name: "target", Usage: "Target ID", Required: true},
		&cli.DurationFlag{Name: "ttl", Usage: "Override the kind TTL"},
		&cli.Int64Flag{Name: "max-uses", Usage: "Use limit"},
		&cli.BoolFlag{Name: "one-shot", Usage: "Single use"},
		&cli.BoolFlag{Name: "unlimited", Usage: "No use limit"},
		&cli.StringFlag{Name: "identity-mode", Usage: "anonymous, optional or required"},
		&cli.Float64Flag{Name: "lat", Usage: "Anchor latitude"},
		&cli.Float64Flag{Name: "lng", Usage: "Anchor longitude"},
		&cli.Float64Flag{Name: "radius", Usage: "Anchor radius in meters"},
		&cli.BoolFlag{Name: "require-geo", Usage: "Reject presentations without a location"},
		&cli.StringFlag{Name: "session-id", Usage: "Attendance session ID"},
		&cli.StringFlag{Name: "document-ref", Usage: "Document reference (document_signature)"},
		&cli.StringFlag{Name: "remind", Usage: "Reminder frequency: daily or weekly"},
		&cli.IntFlag{Name: "max-reminders", Value: 3, Usage: "Reminder cap"},
	}
}

// issueBody builds the issuance request from flags.
func issueBody(c *cli.Context, subject string) (*handler.IssueTokenRequest, error) {
	org, err := organization(c)
	if err != nil {
		return nil, err
	}
	body := &handler.IssueTokenRequest{
		Kind: c.String("kind"),
		Scope: domain.Scope{
			OrganizationID: org,
			SubjectType:    c.String("subject-type"),
			SubjectID:      subject,
			TargetType:     c.String("target-type"),
			TargetID:       c.String("target"),
		},
		SessionID:   c.String("session-id"),
		DocumentRef: c.String("document-ref"),
	}

	if c.IsSet("ttl") || c.IsSet("max-uses") || c.Bool("one-shot") || c.Bool("unlimited") || c.IsSet("identity-mode") {
		if !c.IsSet("ttl") {
			return nil, fmt.Errorf("--ttl is required when overriding the policy")
		}
		body.Policy = &handler.PolicyBody{
			TTLSeconds:   int64(c.Duration("ttl").Seconds()),
			MaxUses:      c.Int64("max-uses"),
			OneShot:      c.Bool("one-shot"),
			Unlimited:    c.Bool("unlimited"),
			IdentityMode: c.String("identity-mode"),
		}
	}

	if c.IsSet("radius") || c.IsSet("lat") || c.Bool("require-geo") {
		anchor := &domain.ProximityAnchor{
			AllowedRadiusMeters: c.Float64("radius"),
			RequireGeolocation:  c.Bool("require-geo"),
		}
		if c.IsSet("lat") != c.IsSet("lng") {
			return nil, fmt.Errorf("--lat and --lng must be given together")
		}
		if c.IsSet("lat") {
			lat, lng := c.Float64("lat"), c.Float64("lng")
			anchor.Latitude, anchor.Longitude = &lat, &lng
		}
		body.Anchor = anchor
	}

	if f := c.String("remind"); f != "" {
		body.Reminders = &handler.RemindersBody{Frequency: f, MaxReminders: c.Int("max-reminders")}
	}
	return body, nil
}

func tokenIssue(c *cli.Context) error {
	body, err := issueBody(c, c.String("subject"))
	if err != nil {
		return err
	}
	var res service.IssueResult
	if err := call(c, http.MethodPost, "/tokens", body, &res); err != nil {
		return err
	}

	p, err := printer(c)
	if err != nil {
		return err
	}
	return p.Print(&res, func(bool) *output.Table {
		t := &output.Table{Headers: []string{"FIELD", "VALUE"}}
		t.AddRow("token_id", res.Token.ID)
		t.AddRow("value", res.Value)
		if res.Link != "" {
			t.AddRow("link", res.Link)
		}
		t.AddRow("expires_at", output.Millis(res.Token.ExpiresAt))
		if res.Request != nil {
			t.AddRow("request_id", res.Request.ID)
		}
		return t
	})
}

func tokenBulk(c *cli.Context) error {
	body, err := issueBody(c, "")
	if err != nil {
		return err
	}
	req := &handler.BulkIssueRequest{IssueTokenRequest: *body, SubjectIDs: c.StringSlice("subject")}

	spin := output.NewSpinner(c.App.ErrWriter, "Issuing tokens")
	if c.App.ErrWriter != nil {
		spin.Start()
	}
	var res handler.BulkIssueResponse
	err = call(c, http.MethodPost, "/tokens/bulk", req, &res)
	if c.App.ErrWriter != nil {
		spin.Stop()
	}
	if err != nil {
		return err
	}
	return printBulk(c, &res)
}

// printBulk prints per-subject issuance outcomes.
func printBulk(c *cli.Context, res *handler.BulkIssueResponse) error {
	p, err := printer(c)
	if err != nil {
		return err
	}
	return p.Print(res, func(wide bool) *output.Table {
		t := &output.Table{Headers: []string{"SUBJECT", "TOKEN ID", "VALUE", "ERROR"}}
		if wide {
			t.Headers = append(t.Headers, "LINK", "REQUEST ID")
		}
		for _, it := range res.Items {
			errText := "-"
			if it.Error != nil {
				errText = it.Error.Code
			}
			row := []string{it.SubjectID, output.Cell(it.TokenID), output.Cell(it.Value), errText}
			if wide {
				row = append(row, output.Cell(it.Link), output.Cell(it.RequestID))
			}
			t.AddRow(row...)
		}
		t.AddRow("", "", fmt.Sprintf("issued %d, failed %d", res.Issued, res.Failed), "")
		return t
	})
}

func valueArg(c *cli.Context, what string) (string, error) {
	v := strings.TrimSpace(c.Args().First())
	if v == "" {
		return "", fmt.Errorf("%s is required", what)
	}
	return url.PathEscape(v), nil
}

// optionalOrg returns the organization hint if one is configured.
func optionalOrg(c *cli.Context) string {
	org, _ := organization(c)
	return org
}

func tokenPeek(c *cli.Context) error {
	value, err := valueArg(c, "VALUE")
	if err != nil {
		return err
	}
	path := "/tokens/" + value
	if org := optionalOrg(c); org != "" {
		path += "?org=" + url.QueryEscape(org)
	}
	var res handler.PeekResponse
	if err := call(c, http.MethodGet, path, nil, &res); err != nil {
		return err
	}

	p, err := printer(c)
	if err != nil {
		return err
	}
	return p.Print(&res, func(bool) *output.Table {
		t := &output.Table{Headers: []string{"FIELD", "VALUE"}}
		t.AddRow("kind", string(res.Kind))
		t.AddRow("subject", res.Scope.SubjectType+"/"+res.Scope.SubjectID)
		t.AddRow("target", res.Scope.TargetType+"/"+res.Scope.TargetID)
		t.AddRow("expires_at", output.Millis(res.ExpiresAt))
		remaining := "unlimited"
		if res.RemainingUses >= 0 {
			remaining = strconv.FormatInt(res.RemainingUses, 10)
		}
		t.AddRow("remaining_uses", remaining)
		if res.RequestStatus != "" {
			t.AddRow("request_status", string(res.RequestStatus))
		}
		return t
	})
}

func tokenConsume(c *cli.Context) error {
	value, err := valueArg(c, "VALUE")
	if err != nil {
		return err
	}
	body := &handler.PresentRequest{
		OrganizationID: optionalOrg(c),
		Presenter:      c.String("presenter"),
		Fingerprint:    c.String("fingerprint"),
	}
	if c.IsSet("lat") != c.IsSet("lng") {
		return fmt.Errorf("--lat and --lng must be given together")
	}
	if c.IsSet("lat") {
		body.Geolocation = &domain.Geolocation{
			Latitude:  c.Float64("lat"),
			Longitude: c.Float64("lng"),
			Accuracy:  c.Float64("accuracy"),
		}
	}

	var res handler.PresentResponse
	if err := call(c, http.MethodPost, "/tokens/"+value+"/consume", body, &res); err != nil {
		return err
	}
	p, err := printer(c)
	if err != nil {
		return err
	}
	return p.Print(&res, func(bool) *output.Table {
		t := &output.Table{Headers: []string{"RECORD ID", "SEQUENCE", "LOCATION VERIFIED", "DISTANCE"}}
		distance := "-"
		if res.DistanceMeters != nil {
			distance = fmt.Sprintf("%.1fm", *res.DistanceMeters)
		}
		t.AddRow(res.RecordID, strconv.FormatInt(res.Sequence, 10), strconv.FormatBool(res.LocationVerified), distance)
		return t
	})
}

func tokenDecline(c *cli.Context) error {
	value, err := valueArg(c, "VALUE")
	if err != nil {
		return err
	}
	var res map[string]any
	body := &handler.DeclineRequest{OrganizationID: optionalOrg(c), Reason: c.String("reason")}
	if err := call(c, http.MethodPost, "/tokens/"+value+"/decline", body, &res); err != nil {
		return err
	}
	p, err := printer(c)
	if err != nil {
		return err
	}
	return p.Print(res, nil)
}

func tokenRevoke(c *cli.Context) error {
	arg, err := valueArg(c, "VALUE or TOKEN_ID")
	if err != nil {
		return err
	}
	org, err := organization(c)
	if err != nil {
		return err
	}
	path := "/tokens/" + arg + "/revoke"
	if c.Bool("id") {
		path = "/admin/v1/tokens/" + arg + "/revoke"
	}

	var tok domain.Token
	if err := call(c, http.MethodPost, path, &handler.OrgRequest{OrganizationID: org}, &tok); err != nil {
		return err
	}
	return printTokens(c, &tok, []*domain.Token{&tok})
}

func tokenGet(c *cli.Context) error {
	id, err := valueArg(c, "TOKEN_ID")
	if err != nil {
		return err
	}
	org, err := organization(c)
	if err != nil {
		return err
	}
	var tok domain.Token
	if err := call(c, http.MethodGet, "/admin/v1/tokens/"+id+"?org="+url.QueryEscape(org), nil, &tok); err != nil {
		return err
	}
	return printTokens(c, &tok, []*domain.Token{&tok})
}

func tokenList(c *cli.Context) error {
	org, err := organization(c)
	if err != nil {
		return err
	}
	q := url.Values{"org": {org}, "limit": {strconv.Itoa(c.Int("limit"))}}
	for flag, param := range map[string]string{"kind": "kind", "status": "status", "subject": "subject_id", "target": "target_id"} {
		if v := c.String(flag); v != "" {
			q.Set(param, v)
		}
	}

	var res handler.ListTokensResponse
	if err := call(c, http.MethodGet, "/admin/v1/tokens?"+q.Encode(), nil, &res); err != nil {
		return err
	}
	return printTokens(c, &res, res.Items)
}

// printTokens prints data, or a token table in table format.
func printTokens(c *cli.Context, data any, tokens []*domain.Token) error {
	p, err := printer(c)
	if err != nil {
		return err
	}
	return p.Print(data, func(wide bool) *output.Table {
		t := &output.Table{Headers: []string{"TOKEN ID", "KIND", "SUBJECT", "STATUS", "USES", "EXPIRES"}}
		if wide {
			t.Headers = append(t.Headers, "TARGET", "ISSUED BY", "ISSUED")
		}
		for _, tok := range tokens {
			uses := strconv.FormatInt(tok.UseCount, 10)
			switch {
			case tok.Unlimited:
				uses += "/-"
			case tok.OneShot:
				uses += "/1"
			default:
				uses += "/" + strconv.FormatInt(tok.MaxUses, 10)
			}
			row := []string{tok.ID, string(tok.Kind), tok.Scope.SubjectID, string(tok.Status), uses, output.Millis(tok.ExpiresAt)}
			if wide {
				row = append(row, tok.Scope.TargetType+"/"+tok.Scope.TargetID, output.Cell(tok.IssuedBy), output.Millis(tok.IssuedAt))
			}
			t.AddRow(row...)
		}
		return t
	})
}

func tokenRecords(c *cli.Context) error {
	id, err := valueArg(c, "TOKEN_ID")
	if err != nil {
		return err
	}
	org, err := organization(c)
	if err != nil {
		return err
	}
	var res handler.ListRecordsResponse
	if err := call(c, http.MethodGet, "/admin/v1/tokens/"+id+"/records?org="+url.QueryEscape(org), nil, &res); err != nil {
		return err
	}

	p, err := printer(c)
	if err != nil {
		return err
	}
	return p.Print(&res, func(wide bool) *output.Table {
		t := &output.Table{Headers: []string{"SEQ", "RECORD ID", "PRESENTER", "VALID", "LOCATION", "CREATED"}}
		if wide {
			t.Headers = append(t.Headers, "IP", "ERROR")
		}
		for _, r := range res.Items {
			location := "-"
			if r.DistanceMeters != nil {
				location = fmt.Sprintf("%.1fm", *r.DistanceMeters)
				if r.LocationVerified {
					location += " ok"
				}
			}
			row := []string{strconv.FormatInt(r.Sequence, 10), r.ID, output.Cell(r.Presenter), strconv.FormatBool(r.Valid), location, output.Millis(r.CreatedAt)}
			if wide {
				row = append(row, output.Cell(r.Client.IP), output.Cell(r.ValidationError))
			}
			t.AddRow(row...)
		}
		return t
	})
}
