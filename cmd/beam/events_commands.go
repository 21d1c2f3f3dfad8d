package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Aaronyf/beam/service/events"
	"github.com/urfave/cli/v2"
)

func eventsCommands() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Wallet event stream commands",
		Subcommands: []*cli.Command{
			streamEventsCommand(),
			awaitEventCommand(),
		},
	}
}

func eventFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "kind",
			Aliases: []string{"k"},
			Usage:   "Only stream events of this kind (repeatable)",
		},
		&cli.StringSliceFlag{
			Name:    "filter",
			Aliases: []string{"f"},
			Usage:   "jq filter the event must satisfy (repeatable, all must match)",
		},
	}
}

func streamEventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Stream wallet events from the daemon",
		Description: `Connect to the daemon's event stream and print events as they arrive.

Filters run against {"kind", "emitted_at", "payload"}.

Examples:
  beam events stream --kind tx_list_changed
  beam events stream -f '.kind == "error"' -f '.payload.kind == "node_address"'`,
		Flags: eventFlags(),
		Action: func(c *cli.Context) error {
			codes, err := compileFilters(c.StringSlice("filter"))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			jsonOutput := c.Bool("json")
			count := 0
			err = newClient(c).Stream(ctx, c.StringSlice("kind"), func(env events.Envelope) error {
				v, err := envelopeValue(env)
				if err != nil {
					return err
				}
				if !matchAll(codes, v) {
					return nil
				}
				count++
				return printEnvelope(c, env, jsonOutput)
			})
			if errors.Is(err, context.Canceled) {
				if !jsonOutput {
					fmt.Fprintf(c.App.Writer, "\n✅ Received %d events\n", count)
				}
				return nil
			}
			return err
		},
	}
}

func awaitEventCommand() *cli.Command {
	return &cli.Command{
		Name:  "await",
		Usage: "Wait for the first wallet event matching the filters",
		Description: `Block until an event satisfying every filter arrives, print it and exit.

Example:
  beam events await -k receiver_address_checked -f '.payload.valid' --timeout 30s`,
		Flags: append(eventFlags(),
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait (0 waits forever)",
				Value: time.Minute,
			},
		),
		Action: func(c *cli.Context) error {
			codes, err := compileFilters(c.StringSlice("filter"))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout := c.Duration("timeout"); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			var found *events.Envelope
			err = newClient(c).Stream(ctx, c.StringSlice("kind"), func(env events.Envelope) error {
				v, err := envelopeValue(env)
				if err != nil {
					return err
				}
				if !matchAll(codes, v) {
					return nil
				}
				found = &env
				return errFound
			})
			switch {
			case found != nil:
				return printEnvelope(c, *found, c.Bool("json"))
			case errors.Is(err, context.DeadlineExceeded):
				return fmt.Errorf("no matching event within %s", c.Duration("timeout"))
			case err != nil:
				return err
			default:
				return fmt.Errorf("event stream closed before a matching event arrived")
			}
		},
	}
}

var errFound = errors.New("found")

func printEnvelope(c *cli.Context, env events.Envelope, jsonOutput bool) error {
	if jsonOutput {
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, string(data))
		return nil
	}
	fmt.Fprintf(c.App.Writer, "[%s] %-26s %s\n", env.EmittedAt.Format(time.RFC3339), env.Kind, string(env.Payload))
	return nil
}
