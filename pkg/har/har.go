// Package har holds the HTTP Archive 1.2 document model. The model is
// plain data: mutation rules (append-only entries, snapshot copies) are
// enforced by the capture session that owns the live document.
package har

import (
	"encoding/json"
	"time"
)

// Version is the only HAR version this model produces.
const Version = "1.2"

// HAR is the root container of an archive document.
type HAR struct {
	Log Log `json:"log"`
}

type Log struct {
	Version string  `json:"version"`
	Creator Creator `json:"creator"`
	Pages   []Page  `json:"pages"`
	Entries []Entry `json:"entries"`
	// Custom carries opaque extension data. Values are kept as raw JSON
	// and re-emitted verbatim, never interpreted.
	Custom map[string]json.RawMessage `json:"_custom,omitempty"`
}

type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Page struct {
	StartedDateTime time.Time   `json:"startedDateTime"`
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	PageTimings     PageTimings `json:"pageTimings"`
}

type PageTimings struct {
	OnContentLoad float64 `json:"onContentLoad"`
	OnLoad        float64 `json:"onLoad"`
}

// Entry is one finished request/response pair.
type Entry struct {
	Pageref         string    `json:"pageref,omitempty"`
	StartedDateTime time.Time `json:"startedDateTime"`
	Time            float64   `json:"time"`
	Request         Request   `json:"request"`
	Response        Response  `json:"response"`
	Cache           struct{}  `json:"cache"`
	Timings         Timings   `json:"timings"`
	// Extension fields, suppressed when zero.
	RequestBodySize  int64 `json:"_requestBodySize,omitempty"`
	ResponseBodySize int64 `json:"_responseBodySize,omitempty"`
}

type Request struct {
	Method      string      `json:"method"`
	URL         string      `json:"url"`
	HTTPVersion string      `json:"httpVersion"`
	Cookies     []Cookie    `json:"cookies"`
	Headers     []NameValue `json:"headers"`
	QueryString []NameValue `json:"queryString"`
	PostData    *PostData   `json:"postData,omitempty"`
	HeadersSize int64       `json:"headersSize"`
	BodySize    int64       `json:"bodySize"`
}

type Response struct {
	Status      int         `json:"status"`
	StatusText  string      `json:"statusText"`
	HTTPVersion string      `json:"httpVersion"`
	Cookies     []Cookie    `json:"cookies"`
	Headers     []NameValue `json:"headers"`
	Content     Content     `json:"content"`
	RedirectURL string      `json:"redirectURL"`
	HeadersSize int64       `json:"headersSize"`
	BodySize    int64       `json:"bodySize"`
}

type Content struct {
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

type Timings struct {
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
}

type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Path     string `json:"path,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Expires  string `json:"expires,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
}

type PostData struct {
	MimeType string      `json:"mimeType"`
	Text     string      `json:"text"`
	Params   []NameValue `json:"params"`
}

// New returns an empty document with the fixed version and the given
// creator identity.
func New(creatorName, creatorVersion string) *HAR {
	return &HAR{
		Log: Log{
			Version: Version,
			Creator: Creator{Name: creatorName, Version: creatorVersion},
			Pages:   make([]Page, 0),
			Entries: make([]Entry, 0),
		},
	}
}

// DeepCopy returns a structurally independent copy of the document.
// Mutating the copy never affects the original.
func (h *HAR) DeepCopy() *HAR {
	if h == nil {
		return nil
	}
	out := &HAR{Log: Log{
		Version: h.Log.Version,
		Creator: h.Log.Creator,
	}}
	if h.Log.Pages != nil {
		out.Log.Pages = make([]Page, len(h.Log.Pages))
		copy(out.Log.Pages, h.Log.Pages)
	}
	if h.Log.Entries != nil {
		out.Log.Entries = make([]Entry, len(h.Log.Entries))
		for i := range h.Log.Entries {
			out.Log.Entries[i] = h.Log.Entries[i].deepCopy()
		}
	}
	if h.Log.Custom != nil {
		out.Log.Custom = make(map[string]json.RawMessage, len(h.Log.Custom))
		for k, v := range h.Log.Custom {
			raw := make(json.RawMessage, len(v))
			copy(raw, v)
			out.Log.Custom[k] = raw
		}
	}
	return out
}

func (e Entry) deepCopy() Entry {
	out := e
	out.Request.Cookies = copyCookies(e.Request.Cookies)
	out.Request.Headers = copyNameValues(e.Request.Headers)
	out.Request.QueryString = copyNameValues(e.Request.QueryString)
	if e.Request.PostData != nil {
		pd := *e.Request.PostData
		pd.Params = copyNameValues(e.Request.PostData.Params)
		out.Request.PostData = &pd
	}
	out.Response.Cookies = copyCookies(e.Response.Cookies)
	out.Response.Headers = copyNameValues(e.Response.Headers)
	return out
}

func copyNameValues(in []NameValue) []NameValue {
	if in == nil {
		return nil
	}
	out := make([]NameValue, len(in))
	copy(out, in)
	return out
}

func copyCookies(in []Cookie) []Cookie {
	if in == nil {
		return nil
	}
	out := make([]Cookie, len(in))
	copy(out, in)
	return out
}
