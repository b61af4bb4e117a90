package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jonathan/mp-harvester/internal/observability"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts <query>",
	Short: "Search official accounts by name",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccounts,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
}

func runAccounts(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		accounts, err := a.engine.SearchAccounts(ctx, args[0])
		if err != nil {
			return err
		}
		observability.NewPrinter(cmd.OutOrStdout()).PrintAccounts(accounts)
		return nil
	})
}
