package capture

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kmllr/harcap/pkg/har"
)

// headerList flattens a header map into an ordered list. The driver
// hands headers over as a map, so wire order is gone; keys are sorted
// for a deterministic document.
func headerList(headers map[string]string) []har.NameValue {
	out := make([]har.NameValue, 0, len(headers))
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, har.NameValue{Name: k, Value: headers[k]})
	}
	return out
}

// cdpHeaderList is headerList for the protocol's loosely-typed header
// values.
func cdpHeaderList(headers map[string]interface{}) []har.NameValue {
	flat := make(map[string]string, len(headers))
	for k, v := range headers {
		flat[k] = fmt.Sprint(v)
	}
	return headerList(flat)
}

func queryString(rawURL string) []har.NameValue {
	out := make([]har.NameValue, 0)
	u, err := url.Parse(rawURL)
	if err != nil {
		return out
	}
	for _, part := range strings.Split(u.RawQuery, "&") {
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		n, err := url.QueryUnescape(name)
		if err != nil {
			n = name
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			v = value
		}
		out = append(out, har.NameValue{Name: n, Value: v})
	}
	return out
}

// requestCookies parses a Cookie request header into the HAR list.
func requestCookies(headers []har.NameValue) []har.Cookie {
	out := make([]har.Cookie, 0)
	for _, h := range headers {
		if !strings.EqualFold(h.Name, "Cookie") {
			continue
		}
		for _, pair := range strings.Split(h.Value, ";") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			name, value, _ := strings.Cut(pair, "=")
			out = append(out, har.Cookie{Name: name, Value: value})
		}
	}
	return out
}

// responseCookies parses Set-Cookie headers, keeping only name/value
// and the common attributes.
func responseCookies(headers []har.NameValue) []har.Cookie {
	out := make([]har.Cookie, 0)
	for _, h := range headers {
		if !strings.EqualFold(h.Name, "Set-Cookie") {
			continue
		}
		// The protocol folds repeated Set-Cookie headers into one value
		// separated by newlines.
		for _, line := range strings.Split(h.Value, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			parts := strings.Split(line, ";")
			name, value, _ := strings.Cut(strings.TrimSpace(parts[0]), "=")
			ck := har.Cookie{Name: name, Value: value}
			for _, attr := range parts[1:] {
				k, v, _ := strings.Cut(strings.TrimSpace(attr), "=")
				switch strings.ToLower(k) {
				case "path":
					ck.Path = v
				case "domain":
					ck.Domain = v
				case "expires":
					ck.Expires = v
				case "httponly":
					ck.HTTPOnly = true
				case "secure":
					ck.Secure = true
				}
			}
			out = append(out, ck)
		}
	}
	return out
}

// attachBody embeds a captured body into content unless it exceeds the
// ceiling. Truncation never corrupts size accounting: content.size and
// bodySize keep the true values either way. Binary payloads are stored
// base64-encoded per the HAR content.encoding convention.
func attachBody(resp *har.Response, body []byte, maxBodySize int64) {
	if int64(len(body)) > maxBodySize {
		return
	}
	if utf8.Valid(body) {
		resp.Content.Text = string(body)
		return
	}
	resp.Content.Text = base64.StdEncoding.EncodeToString(body)
	resp.Content.Encoding = "base64"
}

func headerValue(headers []har.NameValue, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func httpVersionLabel(protocol string) string {
	switch strings.ToLower(protocol) {
	case "":
		return "HTTP/1.1"
	case "h2":
		return "HTTP/2"
	case "h3":
		return "HTTP/3"
	default:
		return protocol
	}
}
