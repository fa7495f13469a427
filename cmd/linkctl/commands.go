package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"codelink/backend/internal/client"
)

// App returns the linkctl command tree.
func App() *cli.App {
	return &cli.App{
		Name:    "linkctl",
		Usage:   "short-code cross-device login client",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Usage:   "codelink server address (e.g. localhost:8000)",
				EnvVars: []string{"CODELINK_SERVER"},
				Value:   "localhost:8000",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print results as JSON",
			},
		},
		Commands: []*cli.Command{
			requestCommand(),
			approveCommand(),
			dataCommand(),
			auditCommand(),
		},
	}
}

func newClient(c *cli.Context) *client.Client {
	return client.New(c.String("server"), nil)
}

func requestCommand() *cli.Command {
	return &cli.Command{
		Name:  "request",
		Usage: "issue a login code, show it, and wait until another device approves it",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Minute, Usage: "give up after this long"},
			&cli.DurationFlag{Name: "interval", Value: time.Second, Usage: "pause between polls"},
			&cli.DurationFlag{Name: "wait", Value: 20 * time.Second, Usage: "server-side long-poll per request (0 disables)"},
			&cli.BoolFlag{Name: "fetch-data", Usage: "call the protected endpoint once the token arrives"},
		},
		Action: func(c *cli.Context) error {
			cl := newClient(c)
			ctx := c.Context
			issued, err := cl.Issue(ctx)
			if err != nil {
				return fmt.Errorf("issue: %w", err)
			}
			if !c.Bool("json") {
				fmt.Fprintf(c.App.Writer, "Login code: %s\nApprove it on a signed-in device (expires %s).\n",
					issued.LoginCode, issued.ExpiresAt.Local().Format(time.Kitchen))
			}

			token, err := cl.WaitForToken(ctx, issued.LoginCode, issued.Fingerprint, client.PollOptions{
				Interval: c.Duration("interval"),
				Wait:     c.Duration("wait"),
				Timeout:  c.Duration("timeout"),
			})
			if errors.Is(err, context.DeadlineExceeded) {
				return errors.New("timed out waiting for approval")
			}
			if err != nil {
				return fmt.Errorf("redeem: %w", err)
			}

			result := map[string]any{
				"loginCode":           issued.LoginCode,
				"fingerprint":         issued.Fingerprint,
				"authenticationToken": token,
			}
			if c.Bool("fetch-data") {
				data, err := cl.Data(ctx, issued.Fingerprint, token)
				if err != nil {
					return fmt.Errorf("data: %w", err)
				}
				result["data"] = data.Data
			}
			return printResult(c, result, func(w io.Writer) {
				fmt.Fprintf(w, "Approved.\nFingerprint: %s\nToken:       %s\n", issued.Fingerprint, token)
				if d, ok := result["data"]; ok {
					fmt.Fprintf(w, "Data:        %v\n", d)
				}
			})
		},
	}
}

func approveCommand() *cli.Command {
	return &cli.Command{
		Name:      "approve",
		Usage:     "approve a login code shown on another device",
		ArgsUsage: "<login-code>",
		Action: func(c *cli.Context) error {
			code := c.Args().First()
			if code == "" {
				return cli.Exit("usage: linkctl approve <login-code>", 2)
			}
			err := newClient(c).Approve(c.Context, code)
			switch {
			case errors.Is(err, client.ErrNotFound):
				return fmt.Errorf("login code %s is unknown or expired", code)
			case errors.Is(err, client.ErrConflict):
				return fmt.Errorf("login code %s was already approved", code)
			case err != nil:
				return fmt.Errorf("approve: %w", err)
			}
			return printResult(c, map[string]any{"loginCode": code, "status": "approved"}, func(w io.Writer) {
				fmt.Fprintf(w, "Approved %s.\n", code)
			})
		},
	}
}

func dataCommand() *cli.Command {
	return &cli.Command{
		Name:  "data",
		Usage: "call the protected endpoint with a token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "fingerprint", Required: true, EnvVars: []string{"CODELINK_FINGERPRINT"}},
			&cli.StringFlag{Name: "token", Required: true, EnvVars: []string{"CODELINK_TOKEN"}},
		},
		Action: func(c *cli.Context) error {
			data, err := newClient(c).Data(c.Context, c.String("fingerprint"), c.String("token"))
			if errors.Is(err, client.ErrUnauthorized) {
				return errors.New("token rejected")
			}
			if err != nil {
				return fmt.Errorf("data: %w", err)
			}
			return printResult(c, map[string]any{"data": data.Data, "fingerprint": data.Fingerprint}, func(w io.Writer) {
				fmt.Fprintf(w, "%s\n", data.Data)
			})
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:      "audit",
		Usage:     "show the newest audit entries of an authentication record",
		ArgsUsage: "<record-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "token", Required: true, Usage: "operator token (AUDIT_TOKEN on the server)", EnvVars: []string{"CODELINK_AUDIT_TOKEN"}},
			&cli.IntFlag{Name: "limit", Value: 20, Usage: "entries to show"},
		},
		Action: func(c *cli.Context) error {
			recordID := c.Args().First()
			if recordID == "" {
				return cli.Exit("usage: linkctl audit --token <operator-token> <record-id>", 2)
			}
			entries, err := newClient(c).Audit(c.Context, c.String("token"), recordID, c.Int("limit"))
			switch {
			case errors.Is(err, client.ErrUnauthorized):
				return errors.New("operator token rejected")
			case errors.Is(err, client.ErrNotFound):
				return errors.New("audit trail is not enabled on this server")
			case err != nil:
				return fmt.Errorf("audit: %w", err)
			}
			return printResult(c, map[string]any{"recordId": recordID, "entries": entries}, func(w io.Writer) {
				if len(entries) == 0 {
					fmt.Fprintf(w, "No audit entries for %s.\n", recordID)
					return
				}
				for _, e := range entries {
					line := e.CreatedAt.Format(time.RFC3339) + "  " + e.Action
					if e.Reason != "" {
						line += "  reason=" + e.Reason
					}
					if e.RequestID != "" {
						line += "  request=" + e.RequestID
					}
					fmt.Fprintln(w, line)
				}
			})
		},
	}
}

func printResult(c *cli.Context, v map[string]any, text func(io.Writer)) error {
	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(c.App.Writer)
	return nil
}
