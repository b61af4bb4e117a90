package session

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCredential() Credential {
	return NewCredential("1234567890", map[string]string{
		"slave_sid":   "c2lk",
		"slave_user":  "gh_abc",
		"data_ticket": "dGlja2V0",
	}, time.Unix(1700000000, 0))
}

func TestShareCode_RoundTrip(t *testing.T) {
	c := sampleCredential()

	code, err := EncodeShareCode(c)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(code, CodecVersion))
	assert.NotContains(t, code, "=")
	assert.NotContains(t, code, "+")
	assert.NotContains(t, code, "/")

	decoded, err := DecodeShareCode("  " + code + "\n")
	require.NoError(t, err)
	assert.Equal(t, c, decoded)
}

func TestShareCode_Deterministic(t *testing.T) {
	a, err := EncodeShareCode(sampleCredential())
	require.NoError(t, err)
	b, err := EncodeShareCode(sampleCredential())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeShareCode_Errors(t *testing.T) {
	good, err := EncodeShareCode(sampleCredential())
	require.NoError(t, err)

	// Corrupt one character in the middle of the body.
	body := []byte(good)
	mid := len(CodecVersion) + (len(body)-len(CodecVersion))/2
	if body[mid] == 'A' {
		body[mid] = 'B'
	} else {
		body[mid] = 'A'
	}

	tests := []struct {
		name    string
		code    string
		wantErr error
	}{
		{"other version", "WC02" + good[len(CodecVersion):], ErrCodecVersion},
		{"no prefix", "hello", ErrCodecFormat},
		{"bad base64", CodecVersion + "!!!!", ErrCodecFormat},
		{"too short", CodecVersion + base64.RawURLEncoding.EncodeToString([]byte{1, 2, 3, 4}), ErrCodecFormat},
		{"checksum", string(body), ErrCodecChecksum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeShareCode(tt.code)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEncodeShareCode_RequiresFields(t *testing.T) {
	_, err := EncodeShareCode(Credential{Token: "1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cookies")
	assert.Contains(t, err.Error(), "timestamp")
}

func TestCredential_Helpers(t *testing.T) {
	c := sampleCredential()
	assert.Equal(t, "data_ticket=dGlja2V0; slave_sid=c2lk; slave_user=gh_abc", c.CookieHeader())
	assert.Empty(t, c.MissingCookies())
	assert.Equal(t, time.Unix(1700000000, 0), c.AcquiredAt())

	partial := Credential{Token: "1", Cookies: map[string]string{"slave_sid": "x"}, Timestamp: 1}
	assert.Equal(t, []string{"slave_user", "data_ticket"}, partial.MissingCookies())
}

func TestTokenFromURL(t *testing.T) {
	assert.Equal(t, "98765", TokenFromURL("https://mp.weixin.qq.com/cgi-bin/home?t=home/index&lang=zh_CN&token=98765"))
	assert.Empty(t, TokenFromURL("https://mp.weixin.qq.com/"))
	assert.Empty(t, TokenFromURL("https://mp.weixin.qq.com/?token=abc"))
}
