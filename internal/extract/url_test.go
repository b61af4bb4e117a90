package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short link drops query", "http://mp.weixin.qq.com/s/AbC?scene=1#rd", "https://mp.weixin.qq.com/s/AbC"},
		{"long link keeps identity params", "https://mp.weixin.qq.com/s?sn=x&idx=2&mid=9&__biz=Mz&chksm=1&scene=2", "https://mp.weixin.qq.com/s?__biz=Mz&idx=2&mid=9&sn=x"},
		{"escaped ampersands", "https://mp.weixin.qq.com/s?__biz=Mz&amp;mid=9", "https://mp.weixin.qq.com/s?__biz=Mz&mid=9"},
		{"other host untouched", "https://example.com/a?b=1#c", "https://example.com/a?b=1"},
		{"not a url", "no host", "no host"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalURL(tt.in))
		})
	}
}

func TestNormalizeImageURL(t *testing.T) {
	assert.Equal(t, "https://mmbiz.qpic.cn/a/0", NormalizeImageURL("//mmbiz.qpic.cn/a/0"))
	assert.Equal(t, "https://mmbiz.qpic.cn/a/0?x=1&y=2", NormalizeImageURL(" https://mmbiz.qpic.cn/a/0?x=1&amp;y=2 "))
	assert.Empty(t, NormalizeImageURL("data:image/svg+xml,%3Csvg%3E"))
	assert.Empty(t, NormalizeImageURL(""))
}

func TestImageID(t *testing.T) {
	const id = "edacdd37-e47e-50c2-9a28-1da15e4daf3d"
	assert.Equal(t, id, ImageID("https://mmbiz.qpic.cn/mmbiz_png/abc/640"))
	assert.Equal(t, id, ImageID("https://mmbiz.qpic.cn/mmbiz_png/abc/640?wx_fmt=png&from=appmsg"))
	assert.NotEqual(t, id, ImageID("https://mmbiz.qpic.cn/mmbiz_png/other/640"))
}

func TestImageExt(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"https://mmbiz.qpic.cn/a/0?wx_fmt=png", "png"},
		{"https://mmbiz.qpic.cn/a/0?wx_fmt=GIF", "gif"},
		{"https://mmbiz.qpic.cn/a/0?wx_fmt=jpeg", "jpg"},
		{"https://example.com/pic.webp", "webp"},
		{"https://mmbiz.qpic.cn/a/0", "jpg"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, imageExt(tt.src), tt.src)
	}
}
