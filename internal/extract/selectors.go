package extract

// MinContentLength is the number of runes below which a body counts as empty.
const MinContentLength = 10

// Selectors names the parts of an article page. Each list is tried in order
// and the first non-empty match wins.
type Selectors struct {
	Title       []string
	Author      []string
	Account     []string
	Description []string
	Cover       []string
	PublishTime []string
	Tags        string
	// Content lists body containers, most specific first.
	Content []string
	// ImageArticle marks pages laid out as an image carousel.
	ImageArticle     string
	ImageDescription []string
	SwiperImages     []string
	// Noise is removed from the content container before normalization.
	Noise []string
}

// DefaultSelectors returns the selectors for current article pages.
func DefaultSelectors() Selectors {
	return Selectors{
		Title: []string{
			".rich_media_title",
			"#activity-name",
			"#js_image_content h1",
			"h1",
			`meta[property="og:title"]`,
			`meta[property="twitter:title"]`,
		},
		Author: []string{
			"#js_author_name",
			`meta[name="author"]`,
			".rich_media_meta.rich_media_meta_text",
		},
		Account: []string{
			"#js_name",
			".profile_nickname",
			".wx_follow_nickname",
		},
		Description: []string{
			`meta[name="description"]`,
			`meta[property="og:description"]`,
		},
		Cover: []string{
			`meta[property="og:image"]`,
			`meta[property="twitter:image"]`,
		},
		PublishTime: []string{
			"#publish_time",
		},
		Tags: ".wx_topic_link",
		Content: []string{
			".rich_media_content",
			"#js_content",
			"#js_image_content",
			".image_content",
			"#js_image_desc",
			".share_notice",
			".swiper_item_img",
			"#img_swiper_content",
			".share_media_swiper_content",
			".img_swiper_area",
			"#js_video_content",
			".video_content",
			".rich_media_video",
			".rich_media_area_primary",
			".rich_media_area_primary_inner",
			"#js_article_content",
			"#js_content_container",
			"#page-content",
			".rich_media_inner",
			".rich_media_wrp",
			"article",
			".article",
			"#article",
		},
		ImageArticle: ".swiper_item, .swiper_item_img, .share_media_swiper",
		ImageDescription: []string{
			"#js_image_desc",
			".share_notice",
			`meta[name="description"]`,
		},
		SwiperImages: []string{
			`.swiper_item[data-src]`,
			`div[data-src*="mmbiz.qpic.cn"]`,
			".swiper_item_img img",
			"#js_image_content img",
			".image_content img",
			".wx_img_swiper img",
			".img_swiper_wrp img",
		},
		Noise: []string{
			"script",
			"style",
			"noscript",
			"mpvoice",
			"mp-miniprogram",
			".qr_code_pc",
			".reward_area",
			"#js_pc_qr_code",
		},
	}
}
