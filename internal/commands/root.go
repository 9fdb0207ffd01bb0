// Package commands implements trackerctl, the operator CLI for bank links,
// imports and the category catalog.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"expensetracker/internal/cli"
	"expensetracker/internal/config"
	"expensetracker/internal/log"
)

type rootOptions struct {
	verbose bool
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "trackerctl",
		Short: "Manage bank links, imports and categories of the expense tracker",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at the configured LOG_LEVEL instead of warn")

	rootCmd.AddCommand(
		newUserCommand(opts),
		newLinkCommand(opts),
		newInstitutionsCommand(opts),
		newImportCommand(opts),
		newTransactionsCommand(opts),
		newCategoriesCommand(opts),
		newTokenCommand(opts),
	)
	return rootCmd
}

// load reads .env and the environment. Logs go to stderr so command output
// stays clean.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, *log.Logger, error) {
	cli.LoadEnvFile()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	level := slog.LevelWarn
	if o.verbose {
		level = cfg.SlogLevel()
	}
	logger := log.New(log.Config{Level: level, Output: cmd.ErrOrStderr()})
	return cfg, logger, nil
}

// withApp runs fn against freshly wired services and closes them after.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *cli.App) error) error {
	cfg, logger, err := o.load(cmd)
	if err != nil {
		return err
	}
	app, err := cli.NewApp(cmd.Context(), logger, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := fn(cmd.Context(), app); err != nil {
		return fmt.Errorf("%s: %w", cmd.CommandPath(), err)
	}
	return nil
}
