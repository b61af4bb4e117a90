// Package observability provides logging and formatted terminal output for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-runewidth"

	"github.com/jonathan/mp-harvester/internal/history"
	"github.com/jonathan/mp-harvester/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// titleWidth bounds title columns in tables, in terminal cells
	titleWidth = 48
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Truncate shortens s to at most width terminal cells. CJK characters count
// as two cells.
func Truncate(s string, width int) string {
	return runewidth.Truncate(s, width, "...")
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	inner := boxWidth - 4
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %s │\n", runewidth.FillRight(Truncate(title, inner), inner))
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %s │\n", runewidth.FillRight(Truncate(line, inner), inner))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

func (p *Printer) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.out)
	t.SetStyle(table.StyleLight)
	return t
}

// PrintAccounts renders account search results.
func (p *Printer) PrintAccounts(accounts []types.Account) {
	if len(accounts) == 0 {
		fmt.Fprintln(p.out, "No accounts found.") //nolint:errcheck
		return
	}

	t := p.newTable()
	t.AppendHeader(table.Row{"#", "Nickname", "Alias", "FakeID"})
	for i, a := range accounts {
		t.AppendRow(table.Row{i + 1, Truncate(a.Nickname, titleWidth), a.Alias, a.FakeID})
	}
	t.Render()
}

// PrintSearchResult renders the articles of a result set followed by any failures.
func (p *Printer) PrintSearchResult(set *types.SearchResultSet) {
	if set == nil {
		return
	}

	t := p.newTable()
	t.SetTitle(fmt.Sprintf("%s (%d articles, %d/%d pages)", set.Query, len(set.Articles), set.FetchedPages, set.RequestedPages))
	t.AppendHeader(table.Row{"#", "Published", "Title", "Content"})
	for _, a := range set.Articles {
		published := ""
		if !a.PublishedAt.IsZero() {
			published = a.PublishedAt.Local().Format("2006-01-02 15:04")
		}
		t.AppendRow(table.Row{a.Rank, published, Truncate(a.Title, titleWidth), contentState(&a)})
	}
	t.Render()

	if len(set.Failures) > 0 {
		ft := p.newTable()
		ft.SetTitle("Failures")
		ft.AppendHeader(table.Row{"Page", "URL", "Kind", "Error"})
		for _, f := range set.Failures {
			page := ""
			if f.Page >= 0 {
				page = fmt.Sprintf("%d", f.Page+1)
			}
			ft.AppendRow(table.Row{page, Truncate(f.URL, 40), f.Kind, Truncate(f.Error, 60)})
		}
		ft.Render()
	}

	status := "complete"
	switch {
	case set.Canceled:
		status = "canceled"
	case !set.Completed:
		status = "partial"
	}
	fmt.Fprintf(p.out, "Status: %s\n", status) //nolint:errcheck
}

func contentState(a *types.ArticleRecord) string {
	switch {
	case a.Body == "" && len(a.Images) == 0 && !a.Empty:
		return "-"
	case a.Empty:
		return "empty"
	case a.Degraded:
		return "degraded"
	default:
		return fmt.Sprintf("%d chars, %d images", runewidth.StringWidth(a.Body), len(a.Images))
	}
}

// PrintArticle outputs a summary box for a single article.
func (p *Printer) PrintArticle(a *types.ArticleRecord) {
	if a == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("URL:      %s\n", a.URL))
	if a.Account != "" {
		sb.WriteString(fmt.Sprintf("Account:  %s\n", a.Account))
	}
	if a.Author != "" {
		sb.WriteString(fmt.Sprintf("Author:   %s\n", a.Author))
	}
	if !a.PublishedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("Date:     %s\n", a.PublishedAt.Local().Format("2006-01-02 15:04")))
	}
	sb.WriteString(fmt.Sprintf("Images:   %d\n", len(a.Images)))
	if len(a.Missing) > 0 {
		sb.WriteString(fmt.Sprintf("Missing:  %s\n", strings.Join(a.Missing, ", ")))
	}

	lines := strings.Split(strings.TrimSpace(a.Body), "\n")
	if len(lines) > 0 && lines[0] != "" {
		sb.WriteString("\n")
		count := min(len(lines), maxItemsToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(lines[i] + "\n")
		}
		if len(lines) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("... and %d more lines\n", len(lines)-maxItemsToShow))
		}
	}

	p.printBox(a.Title, strings.TrimSuffix(sb.String(), "\n"))
}

// PrintFields outputs label/value pairs in a box.
func (p *Printer) PrintFields(title string, fields [][2]string) {
	width := 0
	for _, f := range fields {
		width = max(width, runewidth.StringWidth(f[0]))
	}
	var sb strings.Builder
	for _, f := range fields {
		sb.WriteString(fmt.Sprintf("%s  %s\n", runewidth.FillRight(f[0]+":", width+1), f[1]))
	}
	p.printBox(title, strings.TrimSuffix(sb.String(), "\n"))
}

// PrintAccountHistory renders recently used accounts.
func (p *Printer) PrintAccountHistory(entries []history.AccountEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(p.out, "No account history.") //nolint:errcheck
		return
	}

	t := p.newTable()
	t.SetTitle("Accounts")
	t.AppendHeader(table.Row{"Nickname", "FakeID", "Last used", "Uses"})
	for _, e := range entries {
		t.AppendRow(table.Row{Truncate(e.Nickname, titleWidth), e.FakeID, e.LastUsed.Local().Format("2006-01-02 15:04"), e.UseCount})
	}
	t.Render()
}

// PrintAcquisitions renders past searches, newest first.
func (p *Printer) PrintAcquisitions(runs []history.Acquisition) {
	if len(runs) == 0 {
		return
	}

	t := p.newTable()
	t.SetTitle("Searches")
	t.AppendHeader(table.Row{"Started", "Query", "Pages", "Articles", "Failures", "Status"})
	for _, r := range runs {
		status := "complete"
		switch {
		case r.Canceled:
			status = "canceled"
		case !r.Completed:
			status = "partial"
		}
		t.AppendRow(table.Row{
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			Truncate(r.Query, 32),
			fmt.Sprintf("%d/%d", r.FetchedPages, r.RequestedPages),
			r.Articles,
			r.Failures,
			status,
		})
	}
	t.Render()
}
