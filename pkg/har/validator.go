package har

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Severity classifies a validation finding. Only Error findings make a
// document invalid; Warnings flag suspicious but legal data.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

type Finding struct {
	Severity Severity
	Field    string
	Message  string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s: %s", f.Severity, f.Field, f.Message)
}

// Result collects the findings of one validation pass.
type Result struct {
	Findings []Finding
}

// IsValid reports whether no Error-severity finding was recorded.
func (r Result) IsValid() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return false
		}
	}
	return true
}

func (r *Result) errorf(field, format string, args ...interface{}) {
	r.Findings = append(r.Findings, Finding{SeverityError, field, fmt.Sprintf(format, args...)})
}

func (r *Result) warnf(field, format string, args ...interface{}) {
	r.Findings = append(r.Findings, Finding{SeverityWarning, field, fmt.Sprintf(format, args...)})
}

// Validate checks a document against the structural requirements of
// HAR 1.2. It never mutates the document; malformed input produces
// Error findings rather than panics.
func Validate(h *HAR) Result {
	var res Result
	if h == nil {
		res.errorf("log", "document is nil")
		return res
	}
	if h.Log.Version != Version {
		res.errorf("log.version", "must be %q, got %q", Version, h.Log.Version)
	}
	if h.Log.Creator.Name == "" {
		res.errorf("log.creator.name", "must not be empty")
	}
	if h.Log.Creator.Version == "" {
		res.errorf("log.creator.version", "must not be empty")
	}

	seen := make(map[string]int, len(h.Log.Pages))
	for i, p := range h.Log.Pages {
		field := fmt.Sprintf("log.pages[%d]", i)
		if p.ID == "" {
			res.errorf(field+".id", "must not be empty")
		} else if prev, dup := seen[p.ID]; dup {
			res.errorf(field+".id", "duplicate page id %q (first at index %d)", p.ID, prev)
		} else {
			seen[p.ID] = i
		}
		if p.StartedDateTime.IsZero() {
			res.errorf(field+".startedDateTime", "must be set")
		}
	}

	for i := range h.Log.Entries {
		validateEntry(&res, fmt.Sprintf("log.entries[%d]", i), &h.Log.Entries[i], seen)
	}
	return res
}

func validateEntry(res *Result, field string, e *Entry, pages map[string]int) {
	if e.StartedDateTime.IsZero() {
		res.errorf(field+".startedDateTime", "must be set")
	}
	if e.Time < 0 {
		res.errorf(field+".time", "must not be negative, got %v", e.Time)
	}
	if e.Pageref != "" {
		if _, ok := pages[e.Pageref]; !ok {
			// Tolerated as "no page association", but worth flagging.
			res.warnf(field+".pageref", "references unknown page %q", e.Pageref)
		}
	}

	req := &e.Request
	if req.Method == "" {
		res.errorf(field+".request.method", "must not be empty")
	}
	if req.URL == "" {
		res.errorf(field+".request.url", "must not be empty")
	}
	if req.HTTPVersion == "" {
		res.errorf(field+".request.httpVersion", "must not be empty")
	}
	checkSize(res, field+".request.headersSize", req.HeadersSize)
	checkSize(res, field+".request.bodySize", req.BodySize)

	resp := &e.Response
	if resp.Status < 0 {
		res.errorf(field+".response.status", "must not be negative, got %d", resp.Status)
	}
	if resp.Status == 0 && resp.StatusText == "" {
		res.warnf(field+".response.status", "status 0 without statusText, failed request with no error text")
	}
	if resp.HTTPVersion == "" {
		res.errorf(field+".response.httpVersion", "must not be empty")
	}
	if resp.Content.MimeType == "" {
		res.errorf(field+".response.content.mimeType", "must not be empty")
	}
	checkSize(res, field+".response.content.size", resp.Content.Size)
	checkSize(res, field+".response.headersSize", resp.HeadersSize)
	checkSize(res, field+".response.bodySize", resp.BodySize)

	for _, t := range []struct {
		name string
		v    float64
	}{{"send", e.Timings.Send}, {"wait", e.Timings.Wait}, {"receive", e.Timings.Receive}} {
		if t.v < -1 {
			res.errorf(fmt.Sprintf("%s.timings.%s", field, t.name), "must be >= -1, got %v", t.v)
		}
	}
	if e.RequestBodySize < 0 {
		res.errorf(field+"._requestBodySize", "must not be negative, got %d", e.RequestBodySize)
	}
	if e.ResponseBodySize < 0 {
		res.errorf(field+"._responseBodySize", "must not be negative, got %d", e.ResponseBodySize)
	}
}

func checkSize(res *Result, field string, v int64) {
	if v < -1 {
		res.errorf(field, "must be >= -1, got %d", v)
	}
}

// requiredPaths are the keys every serialized HAR 1.2 document and
// entry must carry. Checked on the raw JSON so that Go zero values
// cannot mask a missing key.
var requiredLogPaths = []string{"log.version", "log.creator.name", "log.creator.version", "log.entries"}

var requiredEntryPaths = []string{
	"startedDateTime", "time",
	"request.method", "request.url", "request.httpVersion",
	"request.cookies", "request.headers", "request.queryString",
	"request.headersSize", "request.bodySize",
	"response.status", "response.statusText", "response.httpVersion",
	"response.cookies", "response.headers",
	"response.content.size", "response.content.mimeType",
	"response.redirectURL", "response.headersSize", "response.bodySize",
	"cache", "timings.send", "timings.wait", "timings.receive",
}

// ValidateBytes checks a serialized document at the raw JSON level and
// then structurally. Invalid JSON yields a single Error finding.
func ValidateBytes(raw []byte) Result {
	var res Result
	if !gjson.ValidBytes(raw) {
		res.errorf("", "not valid JSON")
		return res
	}
	for _, path := range requiredLogPaths {
		if !gjson.GetBytes(raw, path).Exists() {
			res.errorf(path, "required key missing")
		}
	}
	entries := gjson.GetBytes(raw, "log.entries")
	if entries.Exists() && !entries.IsArray() {
		res.errorf("log.entries", "must be an array")
	}
	entries.ForEach(func(i, e gjson.Result) bool {
		for _, path := range requiredEntryPaths {
			if !e.Get(path).Exists() {
				res.errorf(fmt.Sprintf("log.entries[%d].%s", i.Int(), path), "required key missing")
			}
		}
		return true
	})
	if !res.IsValid() {
		return res
	}

	var doc HAR
	if err := json.Unmarshal(raw, &doc); err != nil {
		res.errorf("log", "decode failed: %v", err)
		return res
	}
	structural := Validate(&doc)
	res.Findings = append(res.Findings, structural.Findings...)
	return res
}
