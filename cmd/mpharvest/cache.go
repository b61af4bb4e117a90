package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/mp-harvester/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage cached responses",
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <url>...",
	Short: "Drop the cached copy of one or more articles",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCacheInvalidate,
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired entries from the cache",
	Args:  cobra.NoArgs,
	RunE:  runCachePurge,
}

func init() {
	cacheCmd.AddCommand(cacheInvalidateCmd, cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheInvalidate(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		for _, link := range args {
			fp, err := a.engine.Fingerprint(link)
			if err != nil {
				return fmt.Errorf("failed to fingerprint %s: %w", link, err)
			}
			if err := a.cache.Invalidate(ctx, fp); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", fp[:12], link)
		}
		return nil
	})
}

func runCachePurge(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		p, ok := a.cache.(cache.Purger)
		if !ok {
			return fmt.Errorf("cache backend %q does not support purging", a.cfg.CacheBackend)
		}
		n, err := p.Purge(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired entries.\n", n)
		return nil
	})
}
