package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

// healthReport is the JSON form of "server health".
type healthReport struct {
	URL           string `json:"url"`
	Healthy       bool   `json:"healthy"`
	NodeConnected *bool  `json:"node_connected,omitempty"`
	NodeError     string `json:"node_error,omitempty"`
	Height        uint64 `json:"height,omitempty"`
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check wallet daemon health",
		Description: `Checks that the daemon is serving. With --node the wallet snapshot is
fetched as well and the node connection is reported; --require-node
turns a disconnected node into a failure.`,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "node",
				Usage: "Also report the wallet's node connection",
			},
			&cli.BoolFlag{
				Name:  "require-node",
				Usage: "Fail unless the wallet is connected to its node (implies --node)",
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set BEAM_SERVER_URL env var or use --server-url)")
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			cl := newClient(c)
			if err := cl.Health(ctx); err != nil {
				return fmt.Errorf("daemon at %s is unhealthy: %w", serverURL, err)
			}
			report := healthReport{URL: serverURL, Healthy: true}

			requireNode := c.Bool("require-node")
			if c.Bool("node") || requireNode {
				snap, err := cl.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to fetch wallet status: %w", err)
				}
				connected := snap.NodeConnected
				report.NodeConnected = &connected
				report.NodeError = snap.NodeError
				report.Height = snap.Status.StateID.Height
			}

			if c.Bool("json") {
				if err := outputJSON(c.App.Writer, report); err != nil {
					return err
				}
			} else {
				printHealth(c, report)
			}

			if requireNode && !*report.NodeConnected {
				return fmt.Errorf("wallet is not connected to its node")
			}
			return nil
		},
	}
}

func printHealth(c *cli.Context, r healthReport) {
	w := c.App.Writer
	fmt.Fprintf(w, "✓ Daemon is healthy\n")
	fmt.Fprintf(w, "  URL:    %s\n", r.URL)
	if r.NodeConnected == nil {
		return
	}
	if *r.NodeConnected {
		fmt.Fprintf(w, "  Node:   connected (height %d)\n", r.Height)
		return
	}
	if r.NodeError != "" {
		fmt.Fprintf(w, "  Node:   disconnected (%s)\n", r.NodeError)
		return
	}
	fmt.Fprintf(w, "  Node:   disconnected\n")
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]string{
					"version": version,
					"commit":  commit,
					"built":   date,
				})
			}
			fmt.Fprintf(c.App.Writer, "beam CLI\n")
			fmt.Fprintf(c.App.Writer, "  Version: %s\n", version)
			fmt.Fprintf(c.App.Writer, "  Commit:  %s\n", commit)
			fmt.Fprintf(c.App.Writer, "  Built:   %s\n", date)
			return nil
		},
	}
}
