package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"expensetracker/internal/amqp"
	"expensetracker/internal/cli"
	"expensetracker/internal/core"
	apphttp "expensetracker/internal/http"
)

func newImportCommand(opts *rootOptions) *cobra.Command {
	var user, from, to string
	var async bool

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import bank transactions for a user",
		Long: "Import booked and pending transactions of the user's linked account.\n" +
			"--from and --to (YYYY-MM-DD) go together; without them the provider's default window is used.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dateFrom, dateTo, err := parseWindow(from, to)
			if err != nil {
				return err
			}
			if async {
				return opts.publishImport(cmd, user, dateFrom, dateTo)
			}
			return opts.withApp(cmd, func(ctx context.Context, app *cli.App) error {
				result, err := app.Importer.Import(ctx, user, dateFrom, dateTo)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d (inserted %d, updated %d) from %s\n",
					result.Imported, result.Inserted, result.Updated, strings.Join(result.Accounts, ", "))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID (required)")
	_ = cmd.MarkFlagRequired("user")
	cmd.Flags().StringVar(&from, "from", "", "first booking date, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last booking date, YYYY-MM-DD")
	cmd.Flags().BoolVar(&async, "async", false, "queue the import for the worker instead of running it")
	return cmd
}

func parseWindow(from, to string) (*core.Date, *core.Date, error) {
	parse := func(name, s string) (*core.Date, error) {
		if s == "" {
			return nil, nil
		}
		d, err := core.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("--%s %q: %w", name, s, core.ErrInvalidDate)
		}
		return &d, nil
	}
	dateFrom, err := parse("from", from)
	if err != nil {
		return nil, nil, err
	}
	dateTo, err := parse("to", to)
	if err != nil {
		return nil, nil, err
	}
	return dateFrom, dateTo, nil
}

func (o *rootOptions) publishImport(cmd *cobra.Command, user string, from, to *core.Date) error {
	cfg, _, err := o.load(cmd)
	if err != nil {
		return err
	}
	if cfg.AMQPURL == "" {
		return errors.New("--async needs AMQP_URL")
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		return err
	}
	defer client.Close()

	msg := amqp.NewImportRequestMessage(user, from, to)
	if err := client.PublishImportRequest(cmd.Context(), msg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "queued import %s\n", msg.ID)
	return nil
}

func newTransactionsCommand(opts *rootOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "List a user's transactions, pending first, then newest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *cli.App) error {
				txs, err := app.Transactions.ListTransactions(ctx, user)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "DATE\tTYPE\tAMOUNT\tCATEGORY\tDESCRIPTION\tKEY")
				for _, tx := range txs {
					date := "pending"
					if tx.BookingDate != nil {
						date = tx.BookingDate.String()
					}
					fmt.Fprintf(tw, "%s\t%s\t%s %s\t%s\t%s\t%s\n",
						date, tx.Type, tx.Amount.StringFixed(2), tx.Currency, tx.Category, tx.Description, tx.Key)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newCategoriesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Inspect the category catalog",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List categories and their subcategories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *cli.App) error {
				cats, err := app.Categories.ListCategories(ctx)
				if err != nil {
					return err
				}
				for _, c := range cats {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", c.Name, strings.Join(c.SubCategories, ", "))
				}
				return nil
			})
		},
	}

	// The catalog is seeded whenever services start on an empty store; this
	// only reports what happened.
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Seed the catalog when the store holds none",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *cli.App) error {
				cats, err := app.Categories.ListCategories(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d categories in catalog\n", len(cats))
				return nil
			})
		},
	}

	cmd.AddCommand(list, seed)
	return cmd
}

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var user string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an API token for a user with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			tok, err := apphttp.IssueToken(cfg.JWTSecret, user, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID (required)")
	_ = cmd.MarkFlagRequired("user")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
