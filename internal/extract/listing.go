package extract

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/mp-harvester/internal/fetch"
	"github.com/jonathan/mp-harvester/internal/types"
)

// flexInt accepts a JSON number or a numeric string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

type searchBizPayload struct {
	List []struct {
		FakeID       string `json:"fakeid"`
		Nickname     string `json:"nickname"`
		Alias        string `json:"alias"`
		RoundHeadImg string `json:"round_head_img"`
		Signature    string `json:"signature"`
	} `json:"list"`
}

// ParseAccounts reads a searchbiz response.
func ParseAccounts(body []byte) ([]types.Account, error) {
	var payload searchBizPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ParseError{Message: "failed to decode account search response", Cause: err}
	}

	accounts := make([]types.Account, 0, len(payload.List))
	for _, item := range payload.List {
		if item.FakeID == "" {
			continue
		}
		accounts = append(accounts, types.Account{
			Nickname:  plainText(item.Nickname),
			FakeID:    item.FakeID,
			Alias:     plainText(item.Alias),
			Signature: plainText(item.Signature),
			HeadImage: NormalizeImageURL(item.RoundHeadImg),
		})
	}
	return accounts, nil
}

type appMsgPayload struct {
	Count flexInt `json:"app_msg_cnt"`
	List  []struct {
		Title      string  `json:"title"`
		Link       string  `json:"link"`
		UpdateTime flexInt `json:"update_time"`
		CreateTime flexInt `json:"create_time"`
		Digest     string  `json:"digest"`
		Cover      string  `json:"cover"`
		AuthorName string  `json:"author_name"`
	} `json:"app_msg_list"`
}

// ParseListing reads one appmsg page. Records are ranked by their position
// across pages and deduplicated by canonical URL within the page.
func ParseListing(body []byte, page int) (*types.ListingPage, error) {
	var payload appMsgPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ParseError{Message: "failed to decode article listing response", Cause: err}
	}

	listing := &types.ListingPage{
		Page:     page,
		Total:    int(payload.Count),
		Articles: make([]types.ArticleRecord, 0, len(payload.List)),
	}
	seen := make(map[string]bool)
	for i, item := range payload.List {
		link := CanonicalURL(item.Link)
		if link == "" || seen[link] {
			continue
		}
		seen[link] = true

		published := item.UpdateTime
		if published == 0 {
			published = item.CreateTime
		}
		rec := types.ArticleRecord{
			Title:  plainText(item.Title),
			URL:    link,
			Author: plainText(item.AuthorName),
			Digest: plainText(item.Digest),
			Cover:  NormalizeImageURL(item.Cover),
			Rank:   max(page, 0)*fetch.PageSize + i,
		}
		if published > 0 {
			rec.PublishedAt = time.Unix(int64(published), 0).UTC()
		}
		if rec.Title == "" {
			rec.Title = PlaceholderTitle(link)
			rec.Missing = append(rec.Missing, FieldTitle)
			rec.Degraded = true
		}
		listing.Articles = append(listing.Articles, rec)
	}
	return listing, nil
}

// plainText strips highlight markup and entities from API strings.
func plainText(s string) string {
	s = htmlTag.ReplaceAllString(DecodeEntities(s), "")
	return strings.TrimSpace(s)
}
