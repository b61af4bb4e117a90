package extract

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// imageFunc renders an <img> (or an element carrying an image) as Markdown.
// It returns "" to drop the node.
type imageFunc func(n *html.Node) string

// mdWriter renders an HTML subtree to the body vocabulary: headings,
// paragraphs, emphasis, links, images, lists, blockquotes and code.
type mdWriter struct {
	blocks []string
	cur    strings.Builder
	image  imageFunc
}

// Normalize renders n and its descendants. Output depends only on the tree.
func Normalize(n *html.Node, image imageFunc) string {
	if image == nil {
		image = plainImage
	}
	w := &mdWriter{image: image}
	w.walk(n)
	w.flush()
	return CleanText(strings.Join(w.blocks, "\n\n"))
}

func plainImage(n *html.Node) string {
	src := attr(n, "src")
	if src == "" {
		return ""
	}
	return fmt.Sprintf("![%s](%s)", attr(n, "alt"), src)
}

func (w *mdWriter) sub(n *html.Node) *mdWriter {
	s := &mdWriter{image: w.image}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		s.walk(c)
	}
	return s
}

// flush closes the current paragraph.
func (w *mdWriter) flush() {
	text := w.cur.String()
	w.cur.Reset()

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
		if line != "" {
			kept = append(kept, line)
		}
	}
	if len(kept) > 0 {
		w.blocks = append(w.blocks, strings.Join(kept, "\n"))
	}
}

func (w *mdWriter) block(s string) {
	w.flush()
	if s != "" {
		w.blocks = append(w.blocks, s)
	}
}

func (w *mdWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.cur.WriteString(strings.NewReplacer("\n", " ", "\r", " ", "\t", " ").Replace(n.Data))
		return
	case html.ElementNode:
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			w.walk(c)
		}
		return
	default:
		return
	}

	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Head, atom.Template, atom.Iframe, atom.Svg:
	case atom.Br:
		w.cur.WriteString("\n")
	case atom.Hr:
		w.block("---")
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level := int(n.Data[1] - '0')
		s := w.sub(n)
		s.flush()
		if len(s.blocks) > 0 {
			w.block(strings.Repeat("#", level) + " " + strings.Join(strings.Fields(strings.Join(s.blocks, " ")), " "))
		}
	case atom.Img:
		w.block(w.image(n))
	case atom.Ul, atom.Ol:
		w.block(w.list(n, n.DataAtom == atom.Ol))
	case atom.Blockquote:
		s := w.sub(n)
		s.flush()
		if len(s.blocks) > 0 {
			w.block(quote(strings.Join(s.blocks, "\n\n")))
		}
	case atom.Pre:
		code := strings.Trim(textContent(n), "\n")
		if strings.TrimSpace(code) != "" {
			w.block("```\n" + code + "\n```")
		}
	case atom.Code:
		if code := strings.TrimSpace(textContent(n)); code != "" {
			w.cur.WriteString("`" + code + "`")
		}
	case atom.Strong, atom.B:
		w.inline(n, "**")
	case atom.Em, atom.I:
		w.inline(n, "*")
	case atom.A:
		w.link(n)
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Header, atom.Footer,
		atom.Figure, atom.Figcaption, atom.Table, atom.Tr, atom.Li, atom.Dl, atom.Dd, atom.Dt:
		w.flush()
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			w.walk(c)
		}
		w.flush()
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			w.walk(c)
		}
	}
}

// inline wraps the rendered children in marker when they are plain text.
// Children that produced blocks are passed through unwrapped.
func (w *mdWriter) inline(n *html.Node, marker string) {
	s := w.sub(n)
	if len(s.blocks) == 0 {
		text := strings.TrimSpace(spaceRun.ReplaceAllString(s.cur.String(), " "))
		if text != "" && !strings.Contains(text, "\n") {
			w.cur.WriteString(marker + text + marker)
		} else if text != "" {
			w.cur.WriteString(text)
		}
		return
	}
	s.flush()
	w.flush()
	w.blocks = append(w.blocks, s.blocks...)
}

func (w *mdWriter) link(n *html.Node) {
	href := strings.TrimSpace(attr(n, "href"))
	s := w.sub(n)
	if len(s.blocks) > 0 {
		s.flush()
		w.flush()
		w.blocks = append(w.blocks, s.blocks...)
		return
	}
	text := strings.TrimSpace(spaceRun.ReplaceAllString(s.cur.String(), " "))
	switch {
	case text == "":
	case href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#"):
		w.cur.WriteString(text)
	default:
		w.cur.WriteString("[" + text + "](" + href + ")")
	}
}

func (w *mdWriter) list(n *html.Node, ordered bool) string {
	var items []string
	i := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		s := w.sub(c)
		s.flush()
		if len(s.blocks) == 0 {
			continue
		}
		i++
		marker := "- "
		if ordered {
			marker = fmt.Sprintf("%d. ", i)
		}
		body := strings.Join(s.blocks, "\n")
		items = append(items, marker+strings.ReplaceAll(body, "\n", "\n  "))
	}
	return strings.Join(items, "\n")
}

func quote(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line == "" {
			lines[i] = ">"
		} else {
			lines[i] = "> " + line
		}
	}
	return strings.Join(lines, "\n")
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && n.DataAtom == atom.Br:
			b.WriteString("\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && (n.DataAtom == atom.P || n.DataAtom == atom.Div || n.DataAtom == atom.Li) {
			b.WriteString("\n")
		}
	}
	walk(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
