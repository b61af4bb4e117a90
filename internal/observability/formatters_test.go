package observability

import (
	"bytes"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/mp-harvester/internal/history"
	"github.com/jonathan/mp-harvester/internal/types"
)

func TestTruncate_CJKWidth(t *testing.T) {
	s := Truncate("微信公众号文章标题非常长的一段文字", 12)
	assert.LessOrEqual(t, runewidth.StringWidth(s), 12)
	assert.Contains(t, s, "...")

	assert.Equal(t, "short", Truncate("short", 12))
}

func TestPrintAccounts(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintAccounts([]types.Account{
		{Nickname: "Go语言中文网", FakeID: "MzA3MDAx", Alias: "golangchina"},
	})
	output := buf.String()

	assert.Contains(t, output, "Nickname")
	assert.Contains(t, output, "Go语言中文网")
	assert.Contains(t, output, "MzA3MDAx")
}

func TestPrintAccounts_Empty(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintAccounts(nil)
	assert.Contains(t, buf.String(), "No accounts found")
}

func TestPrintSearchResult(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	set := &types.SearchResultSet{
		Query:          "golang",
		RequestedPages: 3,
		FetchedPages:   2,
		Articles: []types.ArticleRecord{
			{Rank: 1, Title: "First", PublishedAt: time.Unix(1700000000, 0), Body: "body"},
			{Rank: 2, Title: "Second", Empty: true},
		},
		Failures: []types.PageFailure{{Page: 2, Kind: types.FailureTransient, Error: "timeout"}},
	}

	p.PrintSearchResult(set)
	output := buf.String()

	assert.Contains(t, output, "golang (2 articles, 2/3 pages)")
	assert.Contains(t, output, "First")
	assert.Contains(t, output, "empty")
	assert.Contains(t, output, "Failures")
	assert.Contains(t, output, "timeout")
	assert.Contains(t, output, "Status: partial")
}

func TestPrintSearchResult_Nil(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintSearchResult(nil)
	assert.Empty(t, buf.String())
}

func TestPrintArticle(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintArticle(&types.ArticleRecord{
		Title:   "深度解析 Go 调度器",
		URL:     "https://mp.weixin.qq.com/s/abc",
		Account: "Go夜读",
		Body:    "# Heading\n\nline 1\nline 2\nline 3\nline 4\nline 5\nline 6",
		Missing: []string{"author"},
	})
	output := buf.String()

	assert.Contains(t, output, "深度解析 Go 调度器")
	assert.Contains(t, output, "Go夜读")
	assert.Contains(t, output, "Missing:  author")
	assert.Contains(t, output, "... and 3 more lines")
}

func TestPrintFields(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintFields("SESSION", [][2]string{{"Status", "valid"}, {"Expires", "2024-01-01"}})
	assert.Contains(t, buf.String(), "SESSION")
	assert.Contains(t, buf.String(), "Status:   valid")
}

func TestPrintAccountHistory(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintAccountHistory([]history.AccountEntry{{
		Account:  types.Account{Nickname: "Gopher Weekly", FakeID: "FAKE1"},
		LastUsed: time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local),
		UseCount: 4,
	}})
	output := buf.String()

	assert.Contains(t, output, "Gopher Weekly")
	assert.Contains(t, output, "2024-03-01 12:00")
	assert.Contains(t, output, "4")

	buf.Reset()
	p.PrintAccountHistory(nil)
	assert.Contains(t, buf.String(), "No account history")
}

func TestPrintAcquisitions(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintAcquisitions([]history.Acquisition{
		{Query: "golang", RequestedPages: 5, FetchedPages: 5, Articles: 23, Completed: true},
		{Query: "rust", RequestedPages: 5, FetchedPages: 2, Canceled: true},
	})
	output := buf.String()

	assert.Contains(t, output, "5/5")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "canceled")
}
