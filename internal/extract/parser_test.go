package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jonathan/mp-harvester/internal/fetch"
)

func TestParser_Parse(t *testing.T) {
	p := NewParser(DefaultSelectors(), zaptest.NewLogger(t))

	t.Run("account search", func(t *testing.T) {
		res, err := p.Parse(&fetch.Response{Kind: fetch.KindAccountSearch, Body: []byte(`{"list":[{"fakeid":"F","nickname":"N"}]}`)})
		require.NoError(t, err)
		assert.Len(t, res.Accounts, 1)
		assert.Nil(t, res.Listing)
		assert.Nil(t, res.Article)
	})

	t.Run("article list", func(t *testing.T) {
		res, err := p.Parse(&fetch.Response{Kind: fetch.KindArticleList, Page: 1, Body: []byte(`{"app_msg_cnt":1,"app_msg_list":[]}`)})
		require.NoError(t, err)
		require.NotNil(t, res.Listing)
		assert.Equal(t, 1, res.Listing.Page)
		assert.Empty(t, res.Listing.Articles)
	})

	t.Run("article", func(t *testing.T) {
		res, err := p.Parse(&fetch.Response{Kind: fetch.KindArticle, URL: "https://mp.weixin.qq.com/s/Abc", Body: readFixture(t, "article.html")})
		require.NoError(t, err)
		require.NotNil(t, res.Article)
		assert.Equal(t, "Understanding the Go scheduler", res.Article.Title)
	})

	t.Run("unsupported kind", func(t *testing.T) {
		_, err := p.Parse(&fetch.Response{Kind: "video"})
		var perr *ParseError
		assert.ErrorAs(t, err, &perr)
	})

	t.Run("nil response", func(t *testing.T) {
		_, err := p.Parse(nil)
		assert.Error(t, err)
	})
}
