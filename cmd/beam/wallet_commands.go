package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Aaronyf/beam/client"
	"github.com/Aaronyf/beam/service/wallet"
	"github.com/urfave/cli/v2"
)

func walletCommands() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "Wallet commands",
		Subcommands: []*cli.Command{
			sendCommand(),
			syncCommand(),
			changeCommand(),
			statusCommand(),
			utxosCommand(),
			transactionsCommand(),
			cancelCommand(),
			deleteTxCommand(),
			peersCommand(),
			nodeCommand(),
			passwordCommand(),
			checkReceiverCommand(),
			currentIDsCommand(),
		},
	}
}

// newClient builds a daemon client from the global flags.
func newClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// queued reports an accepted command.
func queued(c *cli.Context, command string) error {
	if c.Bool("json") {
		return outputJSON(c.App.Writer, map[string]string{"status": "accepted", "command": command})
	}
	fmt.Fprintf(c.App.Writer, "✓ %s queued\n", command)
	return nil
}

func requestContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, 30*time.Second)
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send coins to a receiver",
		ArgsUsage: "<receiver> <amount>",
		Description: `Queue a transfer. Amounts are decimal coin strings.

Example:
  beam wallet send 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin 1.25 --fee 0.0001`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "sender",
				Usage: "Sending wallet ID (defaults to the current sender)",
			},
			&cli.StringFlag{
				Name:  "fee",
				Usage: "Transaction fee",
			},
			&cli.StringFlag{
				Name:  "comment",
				Usage: "Comment attached to the transaction",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("receiver and amount are required")
			}
			ctx, cancel := requestContext(c)
			defer cancel()

			err := newClient(c).Send(ctx, client.SendRequest{
				Sender:   c.String("sender"),
				Receiver: c.Args().Get(0),
				Amount:   c.Args().Get(1),
				Fee:      c.String("fee"),
				Comment:  c.String("comment"),
			})
			if err != nil {
				return fmt.Errorf("failed to send: %w", err)
			}
			return queued(c, "send")
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Synchronize the wallet with the node",
		Action: func(c *cli.Context) error {
			ctx, cancel := requestContext(c)
			defer cancel()
			if err := newClient(c).Sync(ctx); err != nil {
				return fmt.Errorf("failed to sync: %w", err)
			}
			return queued(c, "sync")
		},
	}
}

func changeCommand() *cli.Command {
	return &cli.Command{
		Name:      "change",
		Usage:     "Compute the change a transfer of the given amount would produce",
		ArgsUsage: "<amount>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("amount is required")
			}
			ctx, cancel := requestContext(c)
			defer cancel()
			if err := newClient(c).CalcChange(ctx, c.Args().Get(0)); err != nil {
				return fmt.Errorf("failed to calculate change: %w", err)
			}
			return queued(c, "calc_change")
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the wallet status",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "refresh",
				Usage: "Ask the daemon to re-emit its status first",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := requestContext(c)
			defer cancel()
			cl := newClient(c)

			if c.Bool("refresh") {
				if err := cl.RefreshStatus(ctx); err != nil {
					return fmt.Errorf("failed to refresh status: %w", err)
				}
			}

			snap, err := cl.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, snap)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Wallet Status\n")
			fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "Available:    %s\n", snap.Status.Available)
			fmt.Fprintf(w, "Sent:         %s\n", snap.Status.Sent)
			fmt.Fprintf(w, "Received:     %s\n", snap.Status.Received)
			fmt.Fprintf(w, "Unconfirmed:  %s\n", snap.Status.Unconfirmed)
			fmt.Fprintf(w, "State:        %d (%s)\n", snap.Status.StateID.Height, snap.Status.StateID.Hash)
			if !snap.Status.LastUpdate.IsZero() {
				fmt.Fprintf(w, "Last Update:  %s\n", snap.Status.LastUpdate.Format(time.RFC3339))
			}
			fmt.Fprintf(w, "Node:         %s\n", nodeState(snap))
			if snap.Sync.Total > 0 {
				fmt.Fprintf(w, "Sync:         %d/%d\n", snap.Sync.Done, snap.Sync.Total)
			}
			if snap.Change != nil {
				fmt.Fprintf(w, "Change:       %s\n", *snap.Change)
			}
			if snap.CurrentSender != nil {
				fmt.Fprintf(w, "Sender:       %s\n", snap.CurrentSender)
			}
			if snap.CurrentReceiver != nil {
				fmt.Fprintf(w, "Receiver:     %s\n", snap.CurrentReceiver)
			}
			if snap.LastError != nil {
				fmt.Fprintf(w, "Last Error:   %s: %s\n", snap.LastError.ErrorKind, snap.LastError.Message)
			}
			return nil
		},
	}
}

func nodeState(snap *client.Snapshot) string {
	switch {
	case snap.NodeConnected:
		return "connected"
	case snap.NodeError != "":
		return "failed: " + snap.NodeError
	default:
		return "disconnected"
	}
}

func utxosCommand() *cli.Command {
	return &cli.Command{
		Name:  "utxos",
		Usage: "List the wallet's coins",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "refresh",
				Usage: "Ask the daemon to re-emit its coin set first",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := requestContext(c)
			defer cancel()
			cl := newClient(c)

			if c.Bool("refresh") {
				if err := cl.RefreshUTXOs(ctx); err != nil {
					return fmt.Errorf("failed to refresh coins: %w", err)
				}
			}
			coins, err := cl.UTXOs(ctx)
			if err != nil {
				return fmt.Errorf("failed to list coins: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, coins)
			}
			if len(coins) == 0 {
				fmt.Fprintln(c.App.Writer, "No coins found")
				return nil
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tAMOUNT\tSTATUS\tCREATE TX\tSPENT TX")
			for _, coin := range coins {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", coin.ID, coin.Amount, coin.Status, optionalID(coin.CreateTxID), optionalID(coin.SpentTxID))
			}
			return w.Flush()
		},
	}
}

func transactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "transactions",
		Aliases: []string{"txs"},
		Usage:   "List the transaction history",
		Action: func(c *cli.Context) error {
			ctx, cancel := requestContext(c)
			defer cancel()

			txs, err := newClient(c).Transactions(ctx)
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, txs)
			}
			if len(txs) == 0 {
				fmt.Fprintln(c.App.Writer, "No transactions found")
				return nil
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDIRECTION\tAMOUNT\tFEE\tSTATUS\tPEER\tCREATED")
			for _, tx := range txs {
				direction := "in"
				if tx.Sender {
					direction = "out"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					tx.ID, direction, tx.Amount, tx.Fee, tx.Status, tx.PeerID, tx.CreateTime.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel a pending transaction",
		ArgsUsage: "<tx_id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("transaction ID is required")
			}
			ctx, cancel := requestContext(c)
			defer cancel()
			if err := newClient(c).CancelTx(ctx, c.Args().Get(0)); err != nil {
				return fmt.Errorf("failed to cancel transaction: %w", err)
			}
			return queued(c, "cancel_tx")
		},
	}
}

func deleteTxCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a finished transaction from the history",
		ArgsUsage: "<tx_id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("transaction ID is required")
			}
			ctx, cancel := requestContext(c)
			defer cancel()
			if err := newClient(c).DeleteTx(ctx, c.Args().Get(0)); err != nil {
				return fmt.Errorf("failed to delete transaction: %w", err)
			}
			return queued(c, "delete_tx")
		},
	}
}

func peersCommand() *cli.Command {
	return &cli.Command{
		Name:  "peers",
		Usage: "List transaction counterparties",
		Action: func(c *cli.Context) error {
			ctx, cancel := requestContext(c)
			defer cancel()

			peers, err := newClient(c).Peers(ctx)
			if err != nil {
				return fmt.Errorf("failed to list peers: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, peers)
			}
			if len(peers) == 0 {
				fmt.Fprintln(c.App.Writer, "No peers found")
				return nil
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WALLET ID\tLABEL")
			for _, p := range peers {
				fmt.Fprintf(w, "%s\t%s\n", p.WalletID, p.Label)
			}
			return w.Flush()
		},
	}
}

func nodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "node",
		Usage:     "Switch the wallet to another node",
		ArgsUsage: "<host:port>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("node address is required")
			}
			ctx, cancel := requestContext(c)
			defer cancel()
			if err := newClient(c).SetNodeAddress(ctx, c.Args().Get(0)); err != nil {
				return fmt.Errorf("failed to set node address: %w", err)
			}
			return queued(c, "set_node_address")
		},
	}
}

func passwordCommand() *cli.Command {
	return &cli.Command{
		Name:  "password",
		Usage: "Change the wallet password",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "new",
				Usage:    "New wallet password",
				EnvVars:  []string{"BEAM_NEW_PASSWORD"},
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := requestContext(c)
			defer cancel()
			if err := newClient(c).ChangePassword(ctx, c.String("new")); err != nil {
				return fmt.Errorf("failed to change password: %w", err)
			}
			return queued(c, "change_password")
		},
	}
}

func checkReceiverCommand() *cli.Command {
	return &cli.Command{
		Name:      "check-receiver",
		Usage:     "Check whether an address can receive funds",
		ArgsUsage: "<address>",
		Description: `Queue a receiver check and print the last cached result.

The check result is delivered as a receiver_address_checked event; run the
command again, or use "beam events await", to see a fresh result.`,
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("address is required")
			}
			addr := c.Args().Get(0)
			ctx, cancel := requestContext(c)
			defer cancel()
			cl := newClient(c)

			if err := cl.CheckReceiver(ctx, addr); err != nil {
				return fmt.Errorf("failed to check receiver: %w", err)
			}
			valid, checked, err := cl.ReceiverCheck(ctx, addr)
			if err != nil {
				return fmt.Errorf("failed to read receiver check: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]any{"address": addr, "valid": valid, "checked": checked})
			}
			switch {
			case !checked:
				fmt.Fprintf(c.App.Writer, "… %s queued for checking\n", addr)
			case valid:
				fmt.Fprintf(c.App.Writer, "✓ %s is a valid receiver\n", addr)
			default:
				fmt.Fprintf(c.App.Writer, "✗ %s is not a valid receiver\n", addr)
			}
			return nil
		},
	}
}

func currentIDsCommand() *cli.Command {
	return &cli.Command{
		Name:      "current-ids",
		Usage:     "Set the current sender and receiver IDs",
		ArgsUsage: "<sender> <receiver>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("sender and receiver are required")
			}
			ctx, cancel := requestContext(c)
			defer cancel()
			if err := newClient(c).SetCurrentIDs(ctx, c.Args().Get(0), c.Args().Get(1)); err != nil {
				return fmt.Errorf("failed to set current IDs: %w", err)
			}
			return queued(c, "set_current_ids")
		},
	}
}

func optionalID(id *wallet.TxID) string {
	if id == nil {
		return "-"
	}
	return id.String()
}
