package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Aaronyf/beam/service/db"
	"github.com/Aaronyf/beam/service/wallet"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func dbTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "transactions",
		Aliases: []string{"txs"},
		Usage:   "List the stored transaction history",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (pending, in_progress, cancelled, completed, failed)",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			txs, err := store.TxHistory(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			// Filter by status if specified
			if statusFilter := c.String("status"); statusFilter != "" {
				filtered := make([]wallet.TxDescription, 0)
				for _, tx := range txs {
					if string(tx.Status) == statusFilter {
						filtered = append(filtered, tx)
					}
				}
				txs = filtered
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, txs)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSENDER\tAMOUNT\tFEE\tSTATUS\tPEER\tMODIFIED")
			for _, tx := range txs {
				fmt.Fprintf(w, "%s\t%t\t%s\t%s\t%s\t%s\t%s\n",
					tx.ID,
					tx.Sender,
					tx.Amount,
					tx.Fee,
					tx.Status,
					tx.PeerID,
					tx.ModifyTime.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d transactions\n", len(txs))
			return nil
		},
	}
}

func dbCoinsCommand() *cli.Command {
	return &cli.Command{
		Name:  "coins",
		Usage: "List the stored coin set",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "available",
				Usage: "Only list coins that can be spent",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			availableOnly := c.Bool("available")
			coins := make([]wallet.Coin, 0)
			var total wallet.Amount
			err = store.VisitCoins(c.Context, func(coin wallet.Coin) bool {
				if availableOnly && !coin.IsAvailable() {
					return true
				}
				coins = append(coins, coin)
				total += coin.Amount
				return true
			})
			if err != nil {
				return fmt.Errorf("failed to list coins: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, coins)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tAMOUNT\tSTATUS\tCREATE TX\tSPENT TX")
			for _, coin := range coins {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", coin.ID, coin.Amount, coin.Status, optionalID(coin.CreateTxID), optionalID(coin.SpentTxID))
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d coins, %s\n", len(coins), total)
			return nil
		},
	}
}

func dbAddressesCommand() *cli.Command {
	return &cli.Command{
		Name:  "addresses",
		Usage: "List the stored address book",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "own",
				Usage: "List own addresses instead of contacts",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			addrs, err := store.Addresses(c.Context, c.Bool("own"))
			if err != nil {
				return fmt.Errorf("failed to list addresses: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, addrs)
			}
			if err := printAddresses(c, addrs); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "\nTotal: %d addresses\n", len(addrs))
			return nil
		},
	}
}

func dbStateCommand() *cli.Command {
	return &cli.Command{
		Name:  "state",
		Usage: "Show the stored chain state and last update time",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			state, err := store.SystemStateID(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get system state: %w", err)
			}
			updated, err := store.LastUpdateTime(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get last update time: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]any{
					"state_id":    state,
					"last_update": updated,
				})
			}
			lastUpdate := "never"
			if !updated.IsZero() {
				lastUpdate = updated.Format(time.RFC3339)
			}
			fmt.Fprintf(c.App.Writer, "Height:       %d\n", state.Height)
			fmt.Fprintf(c.App.Writer, "Hash:         %s\n", state.Hash)
			fmt.Fprintf(c.App.Writer, "Last Update:  %s\n", lastUpdate)
			return nil
		},
	}
}

// storeOpener opens the wallet store named by the database URL. Tests
// replace it with an in-memory store.
var storeOpener = func(ctx context.Context, dbURL string) (wallet.DB, func(), error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	store := db.NewStore(pool, nil)
	if err := store.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return store, pool.Close, nil
}

// getStore creates a database connection and returns a store.
func getStore(c *cli.Context) (wallet.DB, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}
	return storeOpener(c.Context, dbURL)
}
