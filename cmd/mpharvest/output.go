package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonathan/mp-harvester/internal/schemas"
	"github.com/jonathan/mp-harvester/internal/types"
)

// Output formats.
const (
	formatJSON     = "json"
	formatMarkdown = "md"
)

func checkFormat(format string) error {
	switch format {
	case formatJSON, formatMarkdown:
		return nil
	}
	return fmt.Errorf("unknown format %q: want %s or %s", format, formatJSON, formatMarkdown)
}

// writeResults encodes sets in format to w. JSON output is checked against
// the record schema before it is written.
func writeResults(w io.Writer, sets []*types.SearchResultSet, format string) error {
	switch format {
	case formatMarkdown:
		_, err := io.WriteString(w, renderMarkdown(sets))
		return err
	default:
		if err := schemas.ValidateValue(schemas.SearchResults, sets); err != nil {
			return fmt.Errorf("refusing to write invalid output: %w", err)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(sets)
	}
}

// writeArticle encodes one article in format to w.
func writeArticle(w io.Writer, a *types.ArticleRecord, format string) error {
	switch format {
	case formatMarkdown:
		var sb strings.Builder
		renderArticle(&sb, a, "#")
		_, err := io.WriteString(w, sb.String())
		return err
	default:
		if err := schemas.ValidateValue(schemas.Article, a); err != nil {
			return fmt.Errorf("refusing to write invalid output: %w", err)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(a)
	}
}

// createOutput opens path for writing, creating parent directories.
func createOutput(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}

func renderMarkdown(sets []*types.SearchResultSet) string {
	var sb strings.Builder
	for i, set := range sets {
		if i > 0 {
			sb.WriteString("\n")
		}
		title := set.Query
		if set.Account != nil && set.Account.Nickname != "" {
			title = set.Account.Nickname
		}
		fmt.Fprintf(&sb, "# %s\n\n", title)
		fmt.Fprintf(&sb, "%d articles from %d of %d pages.\n", len(set.Articles), set.FetchedPages, set.RequestedPages)
		for _, f := range set.Failures {
			var target string
			switch {
			case f.Page < 0:
				target = f.URL
			case f.URL != "":
				target = fmt.Sprintf("%s (page %d)", f.URL, f.Page+1)
			default:
				target = fmt.Sprintf("page %d", f.Page+1)
			}
			fmt.Fprintf(&sb, "\n> Failed (%s) %s: %s\n", f.Kind, target, f.Error)
		}
		for j := range set.Articles {
			sb.WriteString("\n")
			renderArticle(&sb, &set.Articles[j], "##")
		}
	}
	return sb.String()
}

func renderArticle(sb *strings.Builder, a *types.ArticleRecord, heading string) {
	fmt.Fprintf(sb, "%s %s\n\n", heading, a.Title)
	fmt.Fprintf(sb, "- URL: %s\n", a.URL)
	if !a.PublishedAt.IsZero() {
		fmt.Fprintf(sb, "- Published: %s\n", a.PublishedAt.Local().Format("2006-01-02 15:04"))
	}
	if a.Author != "" {
		fmt.Fprintf(sb, "- Author: %s\n", a.Author)
	}
	if len(a.Tags) > 0 {
		fmt.Fprintf(sb, "- Tags: %s\n", strings.Join(a.Tags, ", "))
	}

	switch {
	case a.Body != "":
		fmt.Fprintf(sb, "\n%s\n", strings.TrimSpace(a.Body))
	case a.Digest != "":
		fmt.Fprintf(sb, "\n> %s\n", a.Digest)
	}
}
