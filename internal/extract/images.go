package extract

import (
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/mp-harvester/internal/types"
)

// ImageDir is the relative directory image references point into.
const ImageDir = "images"

// originAttr keeps the source URL on a rewritten element, so rewriting the
// same subtree twice yields the same result.
const originAttr = "data-origin"

// imageSet collects images in order of first appearance.
type imageSet struct {
	seen map[string]bool
	list []types.Image
}

func newImageSet() *imageSet {
	return &imageSet{seen: make(map[string]bool)}
}

func (s *imageSet) add(src string) types.Image {
	id := ImageID(src)
	img := types.Image{
		ID:        id,
		URL:       src,
		LocalName: fmt.Sprintf("%s/%s.%s", ImageDir, id, imageExt(src)),
	}
	if !s.seen[id] {
		s.seen[id] = true
		s.list = append(s.list, img)
	}
	return img
}

func (s *imageSet) images() []types.Image {
	if len(s.list) == 0 {
		return nil
	}
	return s.list
}

// imageSource returns the real URL of an image element. Lazy-loaded images
// keep a placeholder in src and the real address in data-src.
func imageSource(s *goquery.Selection) string {
	if origin, ok := s.Attr(originAttr); ok {
		return origin
	}
	src := s.AttrOr("src", "")
	if data := s.AttrOr("data-src", ""); data != "" &&
		(src == "" || strings.Contains(src, "data:image/svg") || strings.Contains(src, "pic_blank")) {
		src = data
	}
	if src == "" {
		src = s.AttrOr("data-original", "")
	}
	return NormalizeImageURL(src)
}

// rewriteImages points every image under sel at its local name and records
// it in set. Images without a usable source are removed. Other elements that
// carry an image in data-src get an <img> child.
func rewriteImages(sel *goquery.Selection, set *imageSet) {
	sel.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := imageSource(s)
		if src == "" {
			s.Remove()
			return
		}
		img := set.add(src)
		s.SetAttr(originAttr, src)
		s.SetAttr("src", img.LocalName)
		s.RemoveAttr("data-src")
	})

	sel.Find("[data-src]").Not("img").Each(func(_ int, s *goquery.Selection) {
		src := NormalizeImageURL(s.AttrOr("data-src", ""))
		s.RemoveAttr("data-src")
		if src == "" || !strings.Contains(src, "mmbiz.qpic.cn") {
			return
		}
		img := set.add(src)
		s.PrependHtml(fmt.Sprintf(`<img src="%s" %s="%s">`,
			html.EscapeString(img.LocalName), originAttr, html.EscapeString(src)))
	})
}

// imageRef renders img as a body line.
func imageRef(img types.Image) string {
	return fmt.Sprintf("![](%s)", img.LocalName)
}
