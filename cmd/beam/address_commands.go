package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/Aaronyf/beam/client"
	"github.com/Aaronyf/beam/service/wallet"
	"github.com/urfave/cli/v2"
)

func addressCommands() *cli.Command {
	return &cli.Command{
		Name:    "address",
		Aliases: []string{"addr"},
		Usage:   "Address book commands",
		Subcommands: []*cli.Command{
			listAddressesCommand(),
			addAddressCommand(),
			generateAddressCommand(),
			deleteAddressCommand(),
		},
	}
}

func listAddressesCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List address book entries",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "own",
				Usage: "List own addresses instead of contacts",
			},
			&cli.BoolFlag{
				Name:  "refresh",
				Usage: "Ask the daemon to re-emit the address list first",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := requestContext(c)
			defer cancel()
			cl := newClient(c)
			own := c.Bool("own")

			if c.Bool("refresh") {
				if err := cl.RefreshAddresses(ctx, own); err != nil {
					return fmt.Errorf("failed to refresh addresses: %w", err)
				}
			}
			addrs, err := cl.Addresses(ctx, own)
			if err != nil {
				return fmt.Errorf("failed to list addresses: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, addrs)
			}
			if len(addrs) == 0 {
				fmt.Fprintln(c.App.Writer, "No addresses found")
				return nil
			}
			return printAddresses(c, addrs)
		},
	}
}

func printAddresses(c *cli.Context, addrs []wallet.WalletAddress) error {
	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WALLET ID\tLABEL\tOWN\tCREATED\tEXPIRES")
	for _, a := range addrs {
		expires := "never"
		if a.Duration > 0 {
			expires = a.CreateTime.Add(a.Duration).Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n", a.WalletID, a.Label, a.Own, a.CreateTime.Format(time.RFC3339), expires)
	}
	return w.Flush()
}

func addAddressCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Create or update an address book entry",
		ArgsUsage: "<wallet_id>",
		Description: `Save an address with a label. Own addresses must already have key
material in the daemon's key store; use "beam address generate" to create one.

Example:
  beam address add 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin --label exchange --expires 720h`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "label",
				Usage: "Address label",
			},
			&cli.BoolFlag{
				Name:  "own",
				Usage: "Mark the address as one of the wallet's own",
			},
			&cli.DurationFlag{
				Name:  "expires",
				Usage: "Lifetime of the address (0 never expires)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet ID is required")
			}
			ctx, cancel := requestContext(c)
			defer cancel()

			err := newClient(c).CreateAddress(ctx, client.AddressRequest{
				WalletID: c.Args().Get(0),
				Label:    c.String("label"),
				Own:      c.Bool("own"),
				Duration: c.Duration("expires"),
			})
			if err != nil {
				return fmt.Errorf("failed to save address: %w", err)
			}
			return queued(c, "create_address")
		},
	}
}

func generateAddressCommand() *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "Generate a new own address",
		Description: `Ask the daemon for a fresh key pair. The new ID is delivered as a
new_address_generated event and shows up in "beam wallet status".`,
		Action: func(c *cli.Context) error {
			ctx, cancel := requestContext(c)
			defer cancel()
			if err := newClient(c).GenerateAddress(ctx); err != nil {
				return fmt.Errorf("failed to generate address: %w", err)
			}
			return queued(c, "generate_address")
		},
	}
}

func deleteAddressCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete an address book entry",
		ArgsUsage: "<wallet_id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "own",
				Usage: "Delete an own address and erase its key material",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet ID is required")
			}
			ctx, cancel := requestContext(c)
			defer cancel()
			if err := newClient(c).DeleteAddress(ctx, c.Args().Get(0), c.Bool("own")); err != nil {
				return fmt.Errorf("failed to delete address: %w", err)
			}
			return queued(c, "delete_address")
		},
	}
}
