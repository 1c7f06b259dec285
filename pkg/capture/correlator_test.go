package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmllr/harcap/pkg/har"
)

var corrStart = time.Date(2026, 8, 25, 12, 0, 0, 0, time.FixedZone("", 2*3600))

func corrRequest(url string) har.Request {
	return har.Request{
		Method: "GET", URL: url, HTTPVersion: "HTTP/1.1",
		Cookies: []har.Cookie{}, Headers: []har.NameValue{},
		QueryString: []har.NameValue{}, HeadersSize: -1,
	}
}

func corrResponse(status int) har.Response {
	return har.Response{
		Status: status, StatusText: "OK", HTTPVersion: "HTTP/1.1",
		Cookies: []har.Cookie{}, Headers: []har.NameValue{},
		Content: har.Content{MimeType: "text/plain"}, HeadersSize: -1, BodySize: -1,
	}
}

func TestCorrelatorHappyPath(t *testing.T) {
	c := newCorrelator()
	hop, ok := c.RequestSent("1", corrStart, corrStart, corrRequest("https://example.com/a"), nil)
	assert.False(t, ok)
	assert.Nil(t, hop)

	c.ResponseReceived("1", corrStart.Add(30*time.Millisecond), corrResponse(200),
		&har.Timings{Send: 2, Wait: 25, Receive: -1})
	c.DataReceived("1", 600)
	c.DataReceived("1", 400)

	entry, ok := c.Finished("1", corrStart.Add(50*time.Millisecond), 980)
	require.True(t, ok)
	assert.Equal(t, 50.0, entry.Time)
	assert.Equal(t, 2.0, entry.Timings.Send)
	assert.Equal(t, 25.0, entry.Timings.Wait)
	assert.Equal(t, 20.0, entry.Timings.Receive)
	assert.Equal(t, int64(1000), entry.Response.Content.Size)
	assert.Equal(t, int64(980), entry.Response.BodySize)
	assert.Equal(t, int64(980), entry.ResponseBodySize)
	assert.Equal(t, corrStart, entry.StartedDateTime)
	assert.Equal(t, 0, c.InFlight())
}

func TestCorrelatorEmitsAtMostOnce(t *testing.T) {
	c := newCorrelator()
	c.RequestSent("1", corrStart, corrStart, corrRequest("https://example.com/"), nil)
	c.ResponseReceived("1", corrStart, corrResponse(200), nil)

	_, ok := c.Finished("1", corrStart, 10)
	require.True(t, ok)

	// Replayed terminal events for a done id are ignored.
	_, ok = c.Finished("1", corrStart, 10)
	assert.False(t, ok)
	_, ok = c.Failed("1", corrStart, "late failure")
	assert.False(t, ok)
	hop, ok := c.RequestSent("1", corrStart, corrStart, corrRequest("https://example.com/"), nil)
	assert.False(t, ok)
	assert.Nil(t, hop)
}

func TestCorrelatorIgnoresUnknownIDs(t *testing.T) {
	c := newCorrelator()
	c.ResponseReceived("ghost", corrStart, corrResponse(200), nil)
	c.DataReceived("ghost", 100)
	_, ok := c.Finished("ghost", corrStart, 100)
	assert.False(t, ok)
	_, ok = c.Failed("ghost", corrStart, "boom")
	assert.False(t, ok)
}

func TestCorrelatorFinishedWithoutHeadersDropped(t *testing.T) {
	c := newCorrelator()
	c.RequestSent("1", corrStart, corrStart, corrRequest("https://example.com/"), nil)
	_, ok := c.Finished("1", corrStart, -1)
	assert.False(t, ok)
	assert.Equal(t, 0, c.InFlight())
}

func TestCorrelatorFailedEntrySentinel(t *testing.T) {
	c := newCorrelator()
	c.RequestSent("1", corrStart, corrStart, corrRequest("https://down.test/"), nil)

	entry, ok := c.Failed("1", corrStart.Add(10*time.Millisecond), "net::ERR_CONNECTION_REFUSED")
	require.True(t, ok)
	assert.Equal(t, FailedStatus, entry.Response.Status)
	assert.Equal(t, "net::ERR_CONNECTION_REFUSED", entry.Response.StatusText)
	assert.Equal(t, "x-unknown", entry.Response.Content.MimeType)
	assert.Equal(t, int64(-1), entry.Response.BodySize)
	assert.Equal(t, 10.0, entry.Time)
}

func TestCorrelatorFailedKeepsPartialResponse(t *testing.T) {
	c := newCorrelator()
	c.RequestSent("1", corrStart, corrStart, corrRequest("https://flaky.test/"), nil)
	resp := corrResponse(200)
	resp.Headers = []har.NameValue{{Name: "Content-Type", Value: "text/plain"}}
	c.ResponseReceived("1", corrStart, resp, nil)
	c.DataReceived("1", 50)

	entry, ok := c.Failed("1", corrStart, "net::ERR_CONNECTION_RESET")
	require.True(t, ok)
	assert.Equal(t, FailedStatus, entry.Response.Status)
	assert.Len(t, entry.Response.Headers, 1, "partial data is kept, not dropped")
	assert.Equal(t, int64(50), entry.Response.Content.Size)
}

func TestCorrelatorRedirectHop(t *testing.T) {
	c := newCorrelator()
	c.RequestSent("1", corrStart, corrStart, corrRequest("https://example.com/old"), nil)

	redirect := corrResponse(302)
	hop, ok := c.RequestSent("1", corrStart, corrStart.Add(5*time.Millisecond),
		corrRequest("https://example.com/new"), &redirect)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/old", hop.Request.URL)
	assert.Equal(t, 302, hop.Response.Status)
	assert.Equal(t, "https://example.com/new", hop.Response.RedirectURL)

	// The chain continues under the same identifier.
	c.ResponseReceived("1", corrStart.Add(20*time.Millisecond), corrResponse(200), nil)
	entry, ok := c.Finished("1", corrStart.Add(30*time.Millisecond), 5)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/new", entry.Request.URL)
}

func TestCorrelatorRequestBodySizeExtension(t *testing.T) {
	c := newCorrelator()
	req := corrRequest("https://example.com/post")
	req.Method = "POST"
	req.BodySize = 321
	c.RequestSent("1", corrStart, corrStart, req, nil)
	c.ResponseReceived("1", corrStart, corrResponse(201), nil)
	entry, ok := c.Finished("1", corrStart, -1)
	require.True(t, ok)
	assert.Equal(t, int64(321), entry.RequestBodySize)
	assert.Equal(t, int64(-1), entry.Response.BodySize)
}
