package capture

import (
	"sync"
	"time"

	"github.com/kmllr/harcap/pkg/har"
)

// Per-request lifecycle states. Entries are emitted only on the
// transition into finished or failed.
type reqState int

const (
	stateSent reqState = iota + 1
	stateHeaders
	stateData
)

// FailedStatus is the sentinel status of a best-effort entry emitted
// for a request the driver reported as failed; the driver's error text
// goes into statusText.
const FailedStatus = 0

// failedMimeType mirrors what Chromium reports for bodyless responses.
const failedMimeType = "x-unknown"

type pendingRequest struct {
	state     reqState
	started   time.Time // wall clock, offset preserving
	sentAt    time.Time // lifecycle event time of the sent notification
	respAt    time.Time
	request   har.Request
	response  har.Response
	phases    har.Timings
	dataBytes int64
}

// correlator assembles partial per-request state across async
// notifications into finished entries, keyed by request identifier.
// All methods are safe for concurrent use; notifications for unknown
// identifiers and duplicates are ignored.
type correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	done    map[string]struct{}
}

func newCorrelator() *correlator {
	return &correlator{
		pending: make(map[string]*pendingRequest),
		done:    make(map[string]struct{}),
	}
}

// RequestSent opens tracking for an identifier. When the same
// identifier is re-sent with a redirect response (the protocol reuses
// ids across a redirect chain), the previous hop is completed and
// returned as an entry whose redirectURL points at the new request.
// A plain duplicate is ignored.
func (c *correlator) RequestSent(id string, started, eventTime time.Time, req har.Request, redirect *har.Response) (*har.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.done[id]; ok {
		return nil, false
	}
	prev, exists := c.pending[id]
	next := &pendingRequest{
		state:   stateSent,
		started: started,
		sentAt:  eventTime,
		request: req,
		phases:  har.Timings{Send: -1, Wait: -1, Receive: -1},
	}
	if !exists {
		c.pending[id] = next
		return nil, false
	}
	if redirect == nil {
		return nil, false
	}
	hop := buildEntry(prev, *redirect, eventTime)
	hop.Response.RedirectURL = req.URL
	c.pending[id] = next
	return hop, true
}

// ResponseReceived records headers for an identifier in the sent state.
// phases, when non-nil, carries protocol-derived send/wait timings.
func (c *correlator) ResponseReceived(id string, eventTime time.Time, resp har.Response, phases *har.Timings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok || p.state != stateSent {
		return
	}
	p.state = stateHeaders
	p.respAt = eventTime
	p.response = resp
	if phases != nil {
		p.phases = *phases
	}
}

// DataReceived accumulates decoded body length.
func (c *correlator) DataReceived(id string, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok || (p.state != stateHeaders && p.state != stateData) {
		return
	}
	p.state = stateData
	p.dataBytes += n
}

// Finished completes an identifier and returns its entry. encodedLength
// is the on-the-wire body size when the source reports one; a negative
// value means unknown.
func (c *correlator) Finished(id string, eventTime time.Time, encodedLength int64) (*har.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok || p.state == stateSent {
		// Finished without headers carries nothing worth recording.
		if ok {
			delete(c.pending, id)
			c.done[id] = struct{}{}
		}
		return nil, false
	}
	delete(c.pending, id)
	c.done[id] = struct{}{}

	resp := p.response
	resp.Content.Size = p.dataBytes
	switch {
	case encodedLength >= 0:
		resp.BodySize = encodedLength
	case p.dataBytes > 0:
		resp.BodySize = p.dataBytes
	default:
		resp.BodySize = -1
	}

	entry := buildEntry(p, resp, eventTime)
	if resp.BodySize > 0 {
		entry.ResponseBodySize = resp.BodySize
	}
	return entry, true
}

// Failed completes an identifier as a best-effort entry carrying
// whatever partial data is available. A network failure is itself an
// observable event, so it is recorded rather than dropped.
func (c *correlator) Failed(id string, eventTime time.Time, errorText string) (*har.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil, false
	}
	delete(c.pending, id)
	c.done[id] = struct{}{}

	resp := p.response
	if p.state == stateSent {
		resp = har.Response{
			HTTPVersion: p.request.HTTPVersion,
			Cookies:     make([]har.Cookie, 0),
			Headers:     make([]har.NameValue, 0),
		}
	}
	resp.Status = FailedStatus
	resp.StatusText = errorText
	resp.Content.Size = p.dataBytes
	if resp.Content.MimeType == "" {
		resp.Content.MimeType = failedMimeType
	}
	resp.BodySize = -1
	resp.HeadersSize = -1

	return buildEntry(p, resp, eventTime), true
}

// InFlight reports how many identifiers are still pending.
func (c *correlator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// buildEntry assembles the final entry. Durations come from deltas
// between lifecycle event times, never from polling the clock here.
func buildEntry(p *pendingRequest, resp har.Response, eventTime time.Time) *har.Entry {
	total := eventTime.Sub(p.sentAt)
	if total < 0 {
		total = 0
	}
	timings := p.phases
	if timings.Receive < 0 && !p.respAt.IsZero() {
		recv := eventTime.Sub(p.respAt)
		if recv >= 0 {
			timings.Receive = durationMillis(recv)
		}
	}
	entry := &har.Entry{
		StartedDateTime: p.started,
		Time:            durationMillis(total),
		Request:         p.request,
		Response:        resp,
		Timings:         timings,
	}
	if p.request.BodySize > 0 {
		entry.RequestBodySize = p.request.BodySize
	}
	return entry
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
