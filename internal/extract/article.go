package extract

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/mp-harvester/internal/types"
)

var (
	createTimeVar   = regexp.MustCompile(`var\s+ct\s*=\s*["'](\d{9,})["']`)
	createTimeField = regexp.MustCompile(`create_time\s*[:=]\s*["']?(\d{9,})`)
	pictureList     = regexp.MustCompile(`var\s+picture_page_info_list\s*=\s*(\[[\s\S]*?\]);`)
	cdnURL          = regexp.MustCompile(`cdn_url['"]?\s*:\s*['"]([^'"]+)['"]`)
	htmlTag         = regexp.MustCompile(`<[^>]+>`)
)

// chinaTime is the zone the platform prints dates in.
var chinaTime = time.FixedZone("CST", 8*60*60)

var publishLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02",
	"2006年01月02日 15:04",
	"2006年01月02日",
	"2006年1月2日 15:04",
	"2006年1月2日",
}

// Missing field names recorded on degraded records.
const (
	FieldTitle       = "title"
	FieldAuthor      = "author"
	FieldPublishedAt = "published_at"
)

// ParseArticle extracts an article page. It never fails on missing parts:
// absent fields are listed in Missing, and a body shorter than
// MinContentLength runes sets Empty.
func (p *Parser) ParseArticle(pageURL string, body []byte) (*types.ArticleRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{Message: "failed to parse HTML", Cause: err}
	}
	raw := string(body)

	rec := &types.ArticleRecord{
		URL:         CanonicalURL(pageURL),
		Title:       p.first(doc.Selection, p.sel.Title),
		Author:      p.first(doc.Selection, p.sel.Author),
		Account:     p.first(doc.Selection, p.sel.Account),
		Digest:      p.first(doc.Selection, p.sel.Description),
		Cover:       NormalizeImageURL(p.first(doc.Selection, p.sel.Cover)),
		PublishedAt: p.publishTime(doc, raw),
		Tags:        p.tags(doc),
	}

	var images *imageSet
	if p.isImageArticle(doc) {
		images = newImageSet()
		rec.Body = p.imageArticleBody(doc, raw, images)
	}
	if contentLength(rec.Body) < MinContentLength {
		images = newImageSet()
		rec.Body = p.contentBody(doc, images)
	}
	rec.Images = images.images()
	rec.Empty = contentLength(rec.Body) < MinContentLength

	if rec.Title == "" {
		rec.Title = PlaceholderTitle(rec.URL)
		rec.Missing = append(rec.Missing, FieldTitle)
	}
	if rec.Author == "" && rec.Account == "" {
		rec.Missing = append(rec.Missing, FieldAuthor)
	}
	if rec.PublishedAt.IsZero() {
		rec.Missing = append(rec.Missing, FieldPublishedAt)
	}
	rec.Degraded = len(rec.Missing) > 0

	return rec, nil
}

// first returns the cleaned text of the first selector that matches with
// content. Meta elements contribute their content attribute.
func (p *Parser) first(root *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		s := root.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		var v string
		if goquery.NodeName(s) == "meta" {
			v = s.AttrOr("content", "")
		} else {
			v = s.Text()
		}
		if v = cleanInline(v); v != "" {
			return v
		}
	}
	return ""
}

func cleanInline(s string) string {
	s = DecodeEntities(s)
	return strings.Join(strings.Fields(s), " ")
}

func (p *Parser) publishTime(doc *goquery.Document, raw string) time.Time {
	for _, re := range []*regexp.Regexp{createTimeVar, createTimeField} {
		if m := re.FindStringSubmatch(raw); m != nil {
			if sec, err := strconv.ParseInt(m[1], 10, 64); err == nil && sec > 0 {
				return time.Unix(sec, 0).UTC()
			}
		}
	}

	text := p.first(doc.Selection, p.sel.PublishTime)
	for _, layout := range publishLayouts {
		if t, err := time.ParseInLocation(layout, text, chinaTime); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func (p *Parser) tags(doc *goquery.Document) []string {
	if p.sel.Tags == "" {
		return nil
	}
	var tags []string
	seen := make(map[string]bool)
	doc.Find(p.sel.Tags).Each(func(_ int, s *goquery.Selection) {
		tag := htmlTag.ReplaceAllString(DecodeEntities(s.Text()), "")
		tag = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(tag), "#＃"))
		if tag != "" && !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	})
	return tags
}

func (p *Parser) isImageArticle(doc *goquery.Document) bool {
	if doc.Find("body").HasClass("page_share_img") {
		return true
	}
	return p.sel.ImageArticle != "" && doc.Find(p.sel.ImageArticle).Length() > 0
}

// imageArticleBody renders a carousel page: its description followed by
// every image, taken from the page's picture list script when present.
func (p *Parser) imageArticleBody(doc *goquery.Document, raw string, set *imageSet) string {
	var parts []string
	if desc := p.first(doc.Selection, p.sel.ImageDescription); desc != "" {
		parts = append(parts, desc)
	}

	add := func(src string) {
		src = NormalizeImageURL(src)
		if src == "" || !strings.Contains(src, "mmbiz.qpic.cn") || strings.Contains(src, "pic_blank") {
			return
		}
		before := len(set.list)
		img := set.add(src)
		if len(set.list) > before {
			parts = append(parts, imageRef(img))
		}
	}

	if m := pictureList.FindStringSubmatch(raw); m != nil {
		for _, c := range cdnURL.FindAllStringSubmatch(DecodeEntities(m[1]), -1) {
			add(c[1])
		}
	}
	if len(set.list) == 0 {
		for _, sel := range p.sel.SwiperImages {
			doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
				if goquery.NodeName(s) == "img" {
					add(imageSource(s))
				} else {
					add(s.AttrOr("data-src", ""))
				}
			})
		}
	}

	return CleanText(strings.Join(parts, "\n\n"))
}

// contentBody renders the first content container with enough text, or the
// longest one found.
func (p *Parser) contentBody(doc *goquery.Document, set *imageSet) string {
	if len(p.sel.Noise) > 0 {
		doc.Find(strings.Join(p.sel.Noise, ", ")).Remove()
	}

	var (
		best    string
		bestSet *imageSet
	)
	for _, sel := range p.sel.Content {
		container := doc.Find(sel).First()
		if container.Length() == 0 {
			continue
		}
		attempt := newImageSet()
		rewriteImages(container, attempt)
		text := Normalize(container.Get(0), nil)
		if contentLength(text) >= MinContentLength {
			*set = *attempt
			return text
		}
		if bestSet == nil || contentLength(text) > contentLength(best) {
			best, bestSet = text, attempt
		}
	}
	if bestSet != nil {
		*set = *bestSet
	}
	return best
}
