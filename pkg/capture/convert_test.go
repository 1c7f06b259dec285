package capture

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmllr/harcap/pkg/har"
)

func TestHeaderListSorted(t *testing.T) {
	got := headerList(map[string]string{
		"Content-Type": "text/html",
		"Accept":       "*/*",
		"X-Trace":      "abc",
	})
	require.Len(t, got, 3)
	assert.Equal(t, "Accept", got[0].Name)
	assert.Equal(t, "Content-Type", got[1].Name)
	assert.Equal(t, "X-Trace", got[2].Name)
}

func TestCDPHeaderListStringifies(t *testing.T) {
	got := cdpHeaderList(map[string]interface{}{"Content-Length": 42, "Accept": "*/*"})
	require.Len(t, got, 2)
	assert.Equal(t, har.NameValue{Name: "Content-Length", Value: "42"}, got[1])
}

func TestQueryString(t *testing.T) {
	got := queryString("https://example.com/search?q=a%20b&flag&empty=")
	require.Len(t, got, 3)
	assert.Equal(t, har.NameValue{Name: "q", Value: "a b"}, got[0])
	assert.Equal(t, har.NameValue{Name: "flag", Value: ""}, got[1])
	assert.Equal(t, har.NameValue{Name: "empty", Value: ""}, got[2])

	assert.Empty(t, queryString("https://example.com/plain"))
	assert.Empty(t, queryString("://bad url"))
}

func TestRequestCookies(t *testing.T) {
	headers := []har.NameValue{{Name: "cookie", Value: "a=1; b=two"}}
	got := requestCookies(headers)
	require.Len(t, got, 2)
	assert.Equal(t, har.Cookie{Name: "a", Value: "1"}, got[0])
	assert.Equal(t, har.Cookie{Name: "b", Value: "two"}, got[1])
}

func TestResponseCookiesFoldedHeader(t *testing.T) {
	headers := []har.NameValue{{
		Name:  "Set-Cookie",
		Value: "sid=abc; Path=/; HttpOnly; Secure\ntheme=dark; Domain=example.com",
	}}
	got := responseCookies(headers)
	require.Len(t, got, 2)
	assert.Equal(t, "sid", got[0].Name)
	assert.Equal(t, "abc", got[0].Value)
	assert.Equal(t, "/", got[0].Path)
	assert.True(t, got[0].HTTPOnly)
	assert.True(t, got[0].Secure)
	assert.Equal(t, "example.com", got[1].Domain)
}

func TestAttachBodyRespectsCeiling(t *testing.T) {
	resp := har.Response{Content: har.Content{Size: 100}}
	attachBody(&resp, bytes.Repeat([]byte("x"), 100), 50)
	assert.Empty(t, resp.Content.Text, "oversized bodies are not embedded")
	assert.Equal(t, int64(100), resp.Content.Size, "true size is kept despite truncation")

	attachBody(&resp, []byte("hello"), 50)
	assert.Equal(t, "hello", resp.Content.Text)
	assert.Empty(t, resp.Content.Encoding)
}

func TestAttachBodyBinary(t *testing.T) {
	raw := []byte{0xff, 0xfe, 0x00, 0x01}
	resp := har.Response{}
	attachBody(&resp, raw, 1024)
	assert.Equal(t, "base64", resp.Content.Encoding)
	decoded, err := base64.StdEncoding.DecodeString(resp.Content.Text)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestHTTPVersionLabel(t *testing.T) {
	assert.Equal(t, "HTTP/1.1", httpVersionLabel(""))
	assert.Equal(t, "HTTP/2", httpVersionLabel("h2"))
	assert.Equal(t, "HTTP/3", httpVersionLabel("h3"))
	assert.Equal(t, "http/1.0", httpVersionLabel("http/1.0"))
}
