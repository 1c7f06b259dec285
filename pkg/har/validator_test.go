package har

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDoc() *HAR {
	doc := New("harcap", "1.0")
	doc.Log.Pages = append(doc.Log.Pages, Page{
		ID: "home", Title: "Home", StartedDateTime: time.Now(),
		PageTimings: PageTimings{OnContentLoad: -1, OnLoad: -1},
	})
	e := testEntry("https://example.com/api/test", 200)
	e.Pageref = "home"
	doc.Log.Entries = append(doc.Log.Entries, e)
	return doc
}

func TestValidateOK(t *testing.T) {
	res := Validate(validDoc())
	assert.True(t, res.IsValid(), "findings: %v", res.Findings)
	assert.Empty(t, res.Findings)
}

func TestValidateNil(t *testing.T) {
	res := Validate(nil)
	assert.False(t, res.IsValid())
}

func TestValidateVersionAndCreator(t *testing.T) {
	doc := validDoc()
	doc.Log.Version = "1.1"
	doc.Log.Creator.Name = ""
	res := Validate(doc)
	require.False(t, res.IsValid())
	fields := make([]string, 0, len(res.Findings))
	for _, f := range res.Findings {
		fields = append(fields, f.Field)
	}
	assert.Contains(t, fields, "log.version")
	assert.Contains(t, fields, "log.creator.name")
}

func TestValidateDuplicatePageID(t *testing.T) {
	doc := validDoc()
	doc.Log.Pages = append(doc.Log.Pages, doc.Log.Pages[0])
	assert.False(t, Validate(doc).IsValid())
}

func TestWarningsDoNotBlockValidity(t *testing.T) {
	doc := validDoc()
	// Dangling pageref is tolerated as "no page association".
	doc.Log.Entries[0].Pageref = "missing"
	res := Validate(doc)
	assert.True(t, res.IsValid())
	require.Len(t, res.Findings, 1)
	assert.Equal(t, SeverityWarning, res.Findings[0].Severity)
}

func TestValidateSizeSentinels(t *testing.T) {
	doc := validDoc()
	doc.Log.Entries[0].Request.BodySize = -2
	doc.Log.Entries[0].Timings.Send = -3
	res := Validate(doc)
	assert.False(t, res.IsValid())
	assert.Len(t, res.Findings, 2)
}

func TestValidateBytes(t *testing.T) {
	res := ValidateBytes([]byte(`{not json`))
	assert.False(t, res.IsValid())

	res = ValidateBytes([]byte(`{"log":{"version":"1.2"}}`))
	assert.False(t, res.IsValid(), "missing creator and entries must fail")

	res = ValidateBytes([]byte(`{"log":{"version":"1.2","creator":{"name":"harcap","version":"1.0"},"entries":[]}}`))
	assert.True(t, res.IsValid(), "findings: %v", res.Findings)
}

func TestValidateBytesEntryKeys(t *testing.T) {
	raw := []byte(`{"log":{"version":"1.2","creator":{"name":"x","version":"1"},"entries":[{"startedDateTime":"2026-08-25T10:00:00+02:00"}]}}`)
	res := ValidateBytes(raw)
	assert.False(t, res.IsValid())
}
