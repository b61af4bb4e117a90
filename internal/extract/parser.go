package extract

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/jonathan/mp-harvester/internal/fetch"
	"github.com/jonathan/mp-harvester/internal/types"
)

// Result is the structured form of one response. Exactly one of Accounts,
// Listing or Article is set, according to Kind.
type Result struct {
	Kind     fetch.Kind           `json:"kind"`
	Accounts []types.Account      `json:"accounts,omitempty"`
	Listing  *types.ListingPage   `json:"listing,omitempty"`
	Article  *types.ArticleRecord `json:"article,omitempty"`
}

// Parser extracts records from responses. It is stateless and safe for
// concurrent use; the same input always yields the same output.
type Parser struct {
	sel    Selectors
	logger *zap.Logger
}

// NewParser creates a Parser using sel.
func NewParser(sel Selectors, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{sel: sel, logger: logger}
}

// Parse dispatches on the response kind.
func (p *Parser) Parse(resp *fetch.Response) (*Result, error) {
	if resp == nil {
		return nil, &ParseError{Message: "nil response"}
	}

	res := &Result{Kind: resp.Kind}
	switch resp.Kind {
	case fetch.KindAccountSearch:
		accounts, err := ParseAccounts(resp.Body)
		if err != nil {
			return nil, err
		}
		res.Accounts = accounts
	case fetch.KindArticleList:
		listing, err := ParseListing(resp.Body, resp.Page)
		if err != nil {
			return nil, err
		}
		res.Listing = listing
	case fetch.KindArticle:
		article, err := p.ParseArticle(resp.URL, resp.Body)
		if err != nil {
			return nil, err
		}
		if article.Degraded || article.Empty {
			p.logger.Debug("article extracted with gaps",
				zap.String("url", article.URL),
				zap.Strings("missing", article.Missing),
				zap.Bool("empty", article.Empty),
			)
		}
		res.Article = article
	default:
		return nil, &ParseError{Message: fmt.Sprintf("unsupported response kind %q", resp.Kind)}
	}
	return res, nil
}
