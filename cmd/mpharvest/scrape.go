package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/jonathan/mp-harvester/internal/acquire"
	"github.com/jonathan/mp-harvester/internal/observability"
	"github.com/jonathan/mp-harvester/internal/types"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape <account>...",
	Short: "Collect the published articles of one or more accounts",
	Long: `Searches each account by name, fetches up to --pages listing pages and, with
--content, every article body. Interrupting the command returns what was
collected so far.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScrape,
}

var (
	scrapePages   int
	scrapeContent bool
	scrapeSince   string
	scrapeUntil   string
	scrapeKeyword string
	scrapeFakeID  string
	scrapeOut     string
	scrapeFormat  string
)

func init() {
	scrapeCmd.Flags().IntVarP(&scrapePages, "pages", "p", 0, "Listing pages per account (default from config)")
	scrapeCmd.Flags().BoolVar(&scrapeContent, "content", false, "Also fetch article bodies (default from config)")
	scrapeCmd.Flags().StringVar(&scrapeSince, "since", "", "Only articles published on or after this date (YYYY-MM-DD)")
	scrapeCmd.Flags().StringVar(&scrapeUntil, "until", "", "Only articles published on or before this date (YYYY-MM-DD)")
	scrapeCmd.Flags().StringVarP(&scrapeKeyword, "keyword", "k", "", "Only articles whose title, digest or body contain this text")
	scrapeCmd.Flags().StringVar(&scrapeFakeID, "fakeid", "", "Skip account search and use this account id (single account only)")
	scrapeCmd.Flags().StringVarP(&scrapeOut, "out", "o", "", "Write results to this file instead of printing a table")
	scrapeCmd.Flags().StringVarP(&scrapeFormat, "format", "f", formatJSON, "Output file format: json or md")
	rootCmd.AddCommand(scrapeCmd)
}

func scrapeOptions(cmd *cobra.Command, includeDefault bool) (acquire.SearchOptions, error) {
	since, err := acquire.ParseDate(scrapeSince, false)
	if err != nil {
		return acquire.SearchOptions{}, err
	}
	until, err := acquire.ParseDate(scrapeUntil, true)
	if err != nil {
		return acquire.SearchOptions{}, err
	}
	if !since.IsZero() && !until.IsZero() && until.Before(since) {
		return acquire.SearchOptions{}, fmt.Errorf("--until is before --since")
	}

	include := includeDefault
	if cmd.Flags().Changed("content") {
		include = scrapeContent
	}
	return acquire.SearchOptions{
		FakeID:         scrapeFakeID,
		MaxPages:       scrapePages,
		IncludeContent: include,
		Since:          since,
		Until:          until,
		Keyword:        scrapeKeyword,
		OnProgress:     progressPrinter(cmd.ErrOrStderr()),
	}, nil
}

// progressPrinter reports progress on w. Batches run several searches at
// once, so writes are serialized here as well.
func progressPrinter(w io.Writer) acquire.ProgressCallback {
	var mu sync.Mutex
	return func(ev acquire.ProgressEvent) {
		var line string
		switch ev.Step {
		case acquire.StepPage, acquire.StepPageFailed:
			line = fmt.Sprintf("[page %d/%d] %s", ev.Done, ev.Total, ev.Message)
		case acquire.StepArticle, acquire.StepArticleFailed:
			line = fmt.Sprintf("[article %d/%d] %s", ev.Done, ev.Total, ev.Message)
		case acquire.StepComplete:
			return
		default:
			line = ev.Message
		}
		mu.Lock()
		defer mu.Unlock()
		_, _ = fmt.Fprintln(w, line)
	}
}

func runScrape(cmd *cobra.Command, args []string) error {
	if err := checkFormat(scrapeFormat); err != nil {
		return err
	}
	if scrapeFakeID != "" && len(args) > 1 {
		return fmt.Errorf("--fakeid works with a single account")
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		opts, err := scrapeOptions(cmd, a.cfg.IncludeContent)
		if err != nil {
			return err
		}

		var (
			sets      []*types.SearchResultSet
			searchErr error
		)
		if len(args) == 1 {
			opts.Query = args[0]
			var set *types.SearchResultSet
			set, searchErr = a.engine.Search(ctx, opts)
			if set != nil {
				sets = append(sets, set)
			}
		} else {
			sets, searchErr = a.engine.ScrapeAccounts(ctx, args, opts)
		}

		if err := emitResults(cmd, sets); err != nil {
			return err
		}
		if ctx.Err() != nil {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Interrupted; partial results kept.")
		}
		return searchErr
	})
}

func emitResults(cmd *cobra.Command, sets []*types.SearchResultSet) error {
	if len(sets) == 0 {
		return nil
	}
	if scrapeOut == "" {
		p := observability.NewPrinter(cmd.OutOrStdout())
		for _, set := range sets {
			p.PrintSearchResult(set)
		}
		return nil
	}

	f, err := createOutput(scrapeOut)
	if err != nil {
		return err
	}
	if err := writeResults(f, sets, scrapeFormat); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d result sets to %s\n", len(sets), scrapeOut)
	return nil
}
