package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/mp-harvester/internal/observability"
)

var articleCmd = &cobra.Command{
	Use:   "article <url>",
	Short: "Fetch and extract a single article",
	Args:  cobra.ExactArgs(1),
	RunE:  runArticle,
}

var articleFormat string

func init() {
	articleCmd.Flags().StringVarP(&articleFormat, "format", "f", "", "Print the record as json or md instead of a summary")
	rootCmd.AddCommand(articleCmd)
}

func runArticle(cmd *cobra.Command, args []string) error {
	if articleFormat != "" {
		if err := checkFormat(articleFormat); err != nil {
			return err
		}
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		article, err := a.engine.FetchArticle(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to fetch article: %w", err)
		}
		if articleFormat != "" {
			return writeArticle(cmd.OutOrStdout(), article, articleFormat)
		}
		observability.NewPrinter(cmd.OutOrStdout()).PrintArticle(article)
		return nil
	})
}
