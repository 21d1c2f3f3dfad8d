package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "beam",
		Usage: "Command-line client for the beam wallet daemon",
		Description: `A command-line tool for driving and inspecting a beam wallet daemon.

Wallet commands are queued by the daemon and answered on its event stream;
use "beam events" to watch the results.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			walletCommands(),
			addressCommands(),
			eventsCommands(),
			// Store inspection commands
			{
				Name:  "db",
				Usage: "Wallet database inspection commands",
				Subcommands: []*cli.Command{
					dbTransactionsCommand(),
					dbCoinsCommand(),
					dbAddressesCommand(),
					dbStateCommand(),
				},
			},
			// NATS event relay commands
			{
				Name:  "nats",
				Usage: "NATS event relay commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Aliases: []string{"s"},
				Usage:   "Wallet daemon URL",
				EnvVars: []string{"BEAM_SERVER_URL", "SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
		// jq filters routinely contain commas
		DisableSliceFlagSeparator: true,
	}
}
