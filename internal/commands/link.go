package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"expensetracker/internal/cli"
	"expensetracker/internal/core"
	"expensetracker/internal/services"
)

func newUserCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var name, email string
	add := &cobra.Command{
		Use:   "add <id>",
		Short: "Create or update a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *cli.App) error {
				u, err := services.EnsureUser(ctx, app.Store, core.User{ID: args[0], Name: name, Email: email})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %s saved\n", u.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().StringVar(&email, "email", "", "email address")

	cmd.AddCommand(add)
	return cmd
}

func newLinkCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Drive a user's bank link",
	}
	cmd.AddCommand(
		newLinkStartCommand(opts),
		newLinkCompleteCommand(opts),
		newLinkRefreshCommand(opts),
		newLinkShowCommand(opts),
	)
	return cmd
}

func newLinkStartCommand(opts *rootOptions) *cobra.Command {
	var user string
	var req services.StartLinkRequest

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Create an agreement and requisition and print the consent URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *cli.App) error {
				url, err := app.Links.StartLink(ctx, user, req)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), url)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID (required)")
	_ = cmd.MarkFlagRequired("user")
	cmd.Flags().StringVar(&req.InstitutionID, "institution", services.DefaultInstitutionID, "institution ID")
	cmd.Flags().IntVar(&req.MaxHistoricalDays, "history-days", services.DefaultMaxHistoricalDays, "days of history to request")
	cmd.Flags().IntVar(&req.AccessValidForDays, "valid-days", services.DefaultAccessValidForDays, "days the access stays valid")
	cmd.Flags().StringSliceVar(&req.AccessScope, "scope", append([]string(nil), core.DefaultAccessScope...), "access scope")
	cmd.Flags().StringVar(&req.UserLanguage, "language", services.DefaultUserLanguage, "consent page language")
	return cmd
}

func newLinkCompleteCommand(opts *rootOptions) *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Finish a link after consent, as the provider callback would",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *cli.App) error {
				link, err := app.Links.CompleteLink(ctx, ref)
				if err != nil {
					return err
				}
				printLink(cmd.OutOrStdout(), link)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "requisition ID (required)")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func newLinkRefreshCommand(opts *rootOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-read accounts and agreement from the provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *cli.App) error {
				link, err := app.Links.RefreshLink(ctx, user)
				if err != nil {
					return err
				}
				printLink(cmd.OutOrStdout(), link)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newLinkShowCommand(opts *rootOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *cli.App) error {
				link, err := app.Links.GetLink(ctx, user)
				if err != nil {
					return err
				}
				printLink(cmd.OutOrStdout(), link)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func printLink(out io.Writer, l *core.BankLink) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "user\t%s\n", l.UserID)
	fmt.Fprintf(tw, "status\t%s\n", l.Status)
	fmt.Fprintf(tw, "institution\t%s\n", l.InstitutionID)
	fmt.Fprintf(tw, "requisition\t%s\n", l.RequisitionID)
	fmt.Fprintf(tw, "agreement\t%s\n", l.AgreementID)
	fmt.Fprintf(tw, "accounts\t%s\n", strings.Join(l.LinkedAccountIDs, ", "))
	if exp := l.ExpiresAt(); !exp.IsZero() {
		fmt.Fprintf(tw, "expires\t%s\n", exp.Format(time.RFC3339))
	}
	if l.Status == core.LinkAwaitingUserConsent && l.ConsentURL != "" {
		fmt.Fprintf(tw, "consent\t%s\n", l.ConsentURL)
	}
	_ = tw.Flush()
}

func newInstitutionsCommand(opts *rootOptions) *cobra.Command {
	var country string
	cmd := &cobra.Command{
		Use:   "institutions",
		Short: "List the banks available in a country",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *cli.App) error {
				insts, err := app.Links.ListInstitutions(ctx, country)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tBIC\tDAYS")
				for _, inst := range insts {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", inst.ID, inst.Name, inst.BIC, inst.TransactionTotalDays)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&country, "country", "nl", "two letter country code")
	return cmd
}
