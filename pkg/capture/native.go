package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"

	"github.com/kmllr/harcap/pkg/har"
)

// nativeStrategy sources lifecycle events from the driver's own network
// API. Timing is coarse (no send phase) and body capture is size
// limited, but it works on drivers that expose no debugging-protocol
// channel.
type nativeStrategy struct {
	page playwright.Page
	log  logrus.FieldLogger
	corr *correlator
	opts StartOptions

	started atomic.Bool
	active  atomic.Bool

	mu  sync.Mutex
	ids map[playwright.Request]string
	seq int64
}

func newNativeStrategy(page playwright.Page, log logrus.FieldLogger) *nativeStrategy {
	return &nativeStrategy{
		page: page,
		log:  log,
		corr: newCorrelator(),
		ids:  make(map[playwright.Request]string),
	}
}

func (n *nativeStrategy) Name() string               { return StrategyNative }
func (n *nativeStrategy) SupportsTimingPhases() bool { return false }
func (n *nativeStrategy) CapturesBodies() bool       { return true }

func (n *nativeStrategy) Start(ctx context.Context, opts StartOptions) error {
	if !n.started.CompareAndSwap(false, true) {
		return errors.New("native strategy already started")
	}
	if n.page == nil {
		n.started.Store(false)
		return errors.New("driver page unavailable")
	}
	n.opts = opts
	n.active.Store(true)

	n.page.OnRequest(n.onRequest)
	n.page.OnResponse(n.onResponse)
	n.page.OnRequestFinished(n.onRequestFinished)
	n.page.OnRequestFailed(n.onRequestFailed)

	n.log.WithField("strategy", n.Name()).Debug("network capture subscribed")
	return nil
}

// Stop drains briefly and silences the listeners. The driver offers no
// way to remove typed listeners, so the active flag gates emission.
func (n *nativeStrategy) Stop(ctx context.Context) error {
	if !n.started.CompareAndSwap(true, false) {
		return errors.New("native strategy not started")
	}
	drainInFlight(ctx, n.corr)
	n.active.Store(false)
	return nil
}

func (n *nativeStrategy) emit(entry *har.Entry, requestID string) {
	if !n.active.Load() || n.opts.OnEntry == nil {
		return
	}
	n.opts.OnEntry(entry, requestID)
}

// idFor assigns a stable identifier per driver request object; the
// native API has no request id of its own.
func (n *nativeStrategy) idFor(req playwright.Request) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if id, ok := n.ids[req]; ok {
		return id
	}
	n.seq++
	id := fmt.Sprintf("native-%d", n.seq)
	n.ids[req] = id
	return id
}

func (n *nativeStrategy) forget(req playwright.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.ids, req)
}

func (n *nativeStrategy) onRequest(req playwright.Request) {
	if !n.active.Load() {
		return
	}
	started := startTimeOf(req)
	n.corr.RequestSent(n.idFor(req), started, started, buildNativeRequest(req), nil)
}

func (n *nativeStrategy) onResponse(resp playwright.Response) {
	if !n.active.Load() {
		return
	}
	req := resp.Request()
	headers := headerList(resp.Headers())
	mime := headerValue(headers, "Content-Type")
	if mime == "" {
		mime = failedMimeType
	}
	r := har.Response{
		Status:      resp.Status(),
		StatusText:  resp.StatusText(),
		HTTPVersion: "HTTP/1.1",
		Cookies:     responseCookies(headers),
		Headers:     headers,
		Content:     har.Content{MimeType: mime},
		RedirectURL: headerValue(headers, "Location"),
		HeadersSize: -1,
		BodySize:    -1,
	}
	phases := har.Timings{Send: -1, Wait: -1, Receive: -1}
	eventTime := startTimeOf(req)
	if t := req.Timing(); t != nil {
		if t.RequestStart >= 0 && t.ResponseStart >= t.RequestStart {
			phases.Wait = t.ResponseStart - t.RequestStart
		}
		eventTime = timingPoint(req, t.ResponseStart)
	}
	n.corr.ResponseReceived(n.idFor(req), eventTime, r, &phases)
}

func (n *nativeStrategy) onRequestFinished(req playwright.Request) {
	if !n.active.Load() {
		return
	}
	id := n.idFor(req)
	defer n.forget(req)

	var body []byte
	bodySize := int64(-1)
	if resp, err := req.Response(); err == nil && resp != nil {
		if b, err := resp.Body(); err == nil {
			body = b
			bodySize = int64(len(b))
			n.corr.DataReceived(id, bodySize)
		}
	}
	eventTime := startTimeOf(req)
	if t := req.Timing(); t != nil {
		eventTime = timingPoint(req, t.ResponseEnd)
	}
	entry, ok := n.corr.Finished(id, eventTime, bodySize)
	if !ok {
		return
	}
	if body != nil {
		attachBody(&entry.Response, body, n.opts.MaxBodySize)
	}
	n.emit(entry, id)
}

func (n *nativeStrategy) onRequestFailed(req playwright.Request) {
	if !n.active.Load() {
		return
	}
	id := n.idFor(req)
	defer n.forget(req)

	text := "request failed"
	if ferr := req.Failure(); ferr != nil {
		text = ferr.Error()
	}
	eventTime := startTimeOf(req)
	if t := req.Timing(); t != nil && t.ResponseEnd >= 0 {
		eventTime = timingPoint(req, t.ResponseEnd)
	}
	if entry, ok := n.corr.Failed(id, eventTime, text); ok {
		n.emit(entry, id)
	}
}

func buildNativeRequest(req playwright.Request) har.Request {
	headers := headerList(req.Headers())
	out := har.Request{
		Method:      req.Method(),
		URL:         req.URL(),
		HTTPVersion: "HTTP/1.1",
		Cookies:     requestCookies(headers),
		Headers:     headers,
		QueryString: queryString(req.URL()),
		HeadersSize: -1,
	}
	if body, err := req.PostDataBuffer(); err == nil && len(body) > 0 {
		out.BodySize = int64(len(body))
		out.PostData = &har.PostData{
			MimeType: headerValue(headers, "Content-Type"),
			Text:     string(body),
			Params:   make([]har.NameValue, 0),
		}
	}
	return out
}

// startTimeOf maps the driver's epoch-millisecond start stamp to a
// wall-clock time; the local offset is kept as authored.
func startTimeOf(req playwright.Request) time.Time {
	if t := req.Timing(); t != nil && t.StartTime > 0 {
		return time.UnixMilli(int64(t.StartTime))
	}
	return time.Now()
}

// timingPoint resolves a relative timing offset (ms from start, -1 when
// unavailable) to an absolute event time.
func timingPoint(req playwright.Request, offsetMillis float64) time.Time {
	started := startTimeOf(req)
	if offsetMillis < 0 {
		return started
	}
	return started.Add(time.Duration(offsetMillis * float64(time.Millisecond)))
}
