package acquire

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/mp-harvester/internal/fetch"
	"github.com/jonathan/mp-harvester/internal/types"
)

// batchParallelism bounds how many account searches of a batch run at once.
const batchParallelism = 3

// ScrapeAccounts runs one search per account name with shared options and
// returns the sets in input order. An account that cannot be searched gets
// a set holding only its failure. An error is returned only when every
// account failed.
func (e *Engine) ScrapeAccounts(ctx context.Context, names []string, opts SearchOptions) ([]*types.SearchResultSet, error) {
	sets := make([]*types.SearchResultSet, len(names))
	errs := make([]error, len(names))

	g := new(errgroup.Group)
	g.SetLimit(batchParallelism)
	for i, name := range names {
		if ctx.Err() != nil {
			sets[i] = canceledSet(name)
			continue
		}
		g.Go(func() error {
			o := opts
			o.Query, o.FakeID = strings.TrimSpace(name), ""
			set, err := e.Search(ctx, o)
			if err != nil {
				errs[i] = err
				e.logger.Warn("account scrape failed", zap.String("account", name), zap.Error(err))
				if set == nil {
					set = failedSet(name, err)
				}
			}
			sets[i] = set
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if len(names) > 0 && failed == len(names) {
		return sets, fmt.Errorf("all %d account scrapes failed: %w", failed, errors.Join(errs...))
	}
	return sets, nil
}

func failedSet(name string, err error) *types.SearchResultSet {
	return &types.SearchResultSet{
		Query:    name,
		Articles: []types.ArticleRecord{},
		Failures: []types.PageFailure{{Page: -1, Kind: fetch.Classify(err), Error: err.Error()}},
	}
}

func canceledSet(name string) *types.SearchResultSet {
	return &types.SearchResultSet{
		Query:    name,
		Articles: []types.ArticleRecord{},
		Failures: []types.PageFailure{},
		Canceled: true,
	}
}
