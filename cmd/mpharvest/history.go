package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/mp-harvester/internal/history"
	"github.com/jonathan/mp-harvester/internal/observability"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show or edit recently used accounts and past searches",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remembered accounts and recent searches",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyRemoveCmd = &cobra.Command{
	Use:   "remove <fakeid>",
	Short: "Forget one account",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryRemove,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget every account and search",
	Args:  cobra.NoArgs,
	RunE:  runHistoryClear,
}

var historyLimit int

func init() {
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of recent searches to show")
	historyCmd.AddCommand(historyListCmd, historyRemoveCmd, historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

// withHistory opens only the history database; it needs no session or cache.
func withHistory(cmd *cobra.Command, fn func(ctx context.Context, h *history.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Log, nil)
	defer func() { _ = logger.Sync() }()

	h, err := history.Open(cfg.HistoryDB, cfg.MaxHistory, logger.Named("history"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := h.Close(); cerr != nil {
			logger.Warn("failed to close history", zap.Error(cerr))
		}
	}()
	return fn(cmd.Context(), h)
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	return withHistory(cmd, func(ctx context.Context, h *history.Store) error {
		accounts, err := h.Accounts(ctx)
		if err != nil {
			return err
		}
		runs, err := h.Acquisitions(ctx, historyLimit)
		if err != nil {
			return err
		}
		p := observability.NewPrinter(cmd.OutOrStdout())
		p.PrintAccountHistory(accounts)
		p.PrintAcquisitions(runs)
		return nil
	})
}

func runHistoryRemove(cmd *cobra.Command, args []string) error {
	return withHistory(cmd, func(ctx context.Context, h *history.Store) error {
		if err := h.Remove(ctx, args[0]); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s.\n", args[0])
		return nil
	})
}

func runHistoryClear(cmd *cobra.Command, _ []string) error {
	return withHistory(cmd, func(ctx context.Context, h *history.Store) error {
		if err := h.Clear(ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
		return nil
	})
}
