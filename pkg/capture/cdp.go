package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"

	"github.com/kmllr/harcap/pkg/har"
)

// cdpStrategy sources lifecycle events from the debugging-protocol
// channel the driver exposes. Event payloads are decoded into the typed
// Network domain structs, bodies are fetched on demand per request id.
type cdpStrategy struct {
	page    playwright.Page
	log     logrus.FieldLogger
	corr    *correlator
	session playwright.CDPSession
	opts    StartOptions

	started atomic.Bool
	active  atomic.Bool
}

func newCDPStrategy(page playwright.Page, log logrus.FieldLogger) *cdpStrategy {
	return &cdpStrategy{page: page, log: log, corr: newCorrelator()}
}

func (c *cdpStrategy) Name() string               { return StrategyCDP }
func (c *cdpStrategy) SupportsTimingPhases() bool { return true }
func (c *cdpStrategy) CapturesBodies() bool       { return true }

func (c *cdpStrategy) Start(ctx context.Context, opts StartOptions) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("cdp strategy already started")
	}
	if c.page == nil {
		c.started.Store(false)
		return errors.New("driver page unavailable")
	}
	session, err := c.page.Context().NewCDPSession(c.page)
	if err != nil {
		c.started.Store(false)
		return &TransportError{Channel: c.Name(), Err: fmt.Errorf("establish cdp channel: %w", err)}
	}
	if _, err := session.Send("Network.enable", nil); err != nil {
		_ = session.Detach()
		c.started.Store(false)
		return &TransportError{Channel: c.Name(), Err: fmt.Errorf("enable network domain: %w", err)}
	}
	c.session = session
	c.opts = opts
	c.active.Store(true)

	session.On("Network.requestWillBeSent", c.onRequestWillBeSent)
	session.On("Network.responseReceived", c.onResponseReceived)
	session.On("Network.dataReceived", c.onDataReceived)
	session.On("Network.loadingFinished", c.onLoadingFinished)
	session.On("Network.loadingFailed", c.onLoadingFailed)

	c.log.WithField("strategy", c.Name()).Debug("network capture subscribed")
	return nil
}

// Stop waits briefly for in-flight requests to reach a terminal event,
// then silences the subscription. Entries not finished by the time the
// context is cancelled are abandoned, not corrupted.
func (c *cdpStrategy) Stop(ctx context.Context) error {
	if !c.started.CompareAndSwap(true, false) {
		return errors.New("cdp strategy not started")
	}
	drainInFlight(ctx, c.corr)
	c.active.Store(false)
	if err := c.session.Detach(); err != nil {
		return &TransportError{Channel: c.Name(), Err: fmt.Errorf("detach: %w", err)}
	}
	return nil
}

func (c *cdpStrategy) emit(entry *har.Entry, requestID string) {
	if !c.active.Load() || c.opts.OnEntry == nil {
		return
	}
	c.opts.OnEntry(entry, requestID)
}

func (c *cdpStrategy) onRequestWillBeSent(params map[string]interface{}) {
	if !c.active.Load() {
		return
	}
	var ev network.EventRequestWillBeSent
	if err := decodeCDP(params, &ev); err != nil || ev.Request == nil {
		c.dropMalformed("requestWillBeSent", err)
		return
	}
	started := time.Now()
	if ev.WallTime != nil {
		started = ev.WallTime.Time()
	}
	eventTime := started
	if ev.Timestamp != nil {
		eventTime = ev.Timestamp.Time()
	}
	var redirect *har.Response
	if ev.RedirectResponse != nil {
		r := buildCDPResponse(ev.RedirectResponse)
		redirect = &r
	}
	id := string(ev.RequestID)
	if hop, ok := c.corr.RequestSent(id, started, eventTime, buildCDPRequest(ev.Request), redirect); ok {
		c.emit(hop, id)
	}
}

func (c *cdpStrategy) onResponseReceived(params map[string]interface{}) {
	if !c.active.Load() {
		return
	}
	var ev network.EventResponseReceived
	if err := decodeCDP(params, &ev); err != nil || ev.Response == nil {
		c.dropMalformed("responseReceived", err)
		return
	}
	eventTime := time.Time{}
	if ev.Timestamp != nil {
		eventTime = ev.Timestamp.Time()
	}
	phases := har.Timings{Send: -1, Wait: -1, Receive: -1}
	if t := ev.Response.Timing; t != nil {
		if t.SendStart >= 0 && t.SendEnd >= t.SendStart {
			phases.Send = t.SendEnd - t.SendStart
		}
		if t.SendEnd >= 0 && t.ReceiveHeadersEnd >= t.SendEnd {
			phases.Wait = t.ReceiveHeadersEnd - t.SendEnd
		}
	}
	c.corr.ResponseReceived(string(ev.RequestID), eventTime, buildCDPResponse(ev.Response), &phases)
}

func (c *cdpStrategy) onDataReceived(params map[string]interface{}) {
	if !c.active.Load() {
		return
	}
	var ev network.EventDataReceived
	if err := decodeCDP(params, &ev); err != nil {
		c.dropMalformed("dataReceived", err)
		return
	}
	c.corr.DataReceived(string(ev.RequestID), ev.DataLength)
}

func (c *cdpStrategy) onLoadingFinished(params map[string]interface{}) {
	if !c.active.Load() {
		return
	}
	var ev network.EventLoadingFinished
	if err := decodeCDP(params, &ev); err != nil {
		c.dropMalformed("loadingFinished", err)
		return
	}
	eventTime := time.Time{}
	if ev.Timestamp != nil {
		eventTime = ev.Timestamp.Time()
	}
	id := string(ev.RequestID)
	entry, ok := c.corr.Finished(id, eventTime, int64(ev.EncodedDataLength))
	if !ok {
		return
	}
	if size := entry.Response.Content.Size; size > 0 && size <= c.opts.MaxBodySize {
		c.fetchBody(id, entry)
	}
	c.emit(entry, id)
}

func (c *cdpStrategy) onLoadingFailed(params map[string]interface{}) {
	if !c.active.Load() {
		return
	}
	var ev network.EventLoadingFailed
	if err := decodeCDP(params, &ev); err != nil {
		c.dropMalformed("loadingFailed", err)
		return
	}
	eventTime := time.Time{}
	if ev.Timestamp != nil {
		eventTime = ev.Timestamp.Time()
	}
	text := ev.ErrorText
	if ev.Canceled {
		text = "canceled"
	}
	id := string(ev.RequestID)
	if entry, ok := c.corr.Failed(id, eventTime, text); ok {
		c.emit(entry, id)
	}
}

func (c *cdpStrategy) fetchBody(id string, entry *har.Entry) {
	result, err := c.session.Send("Network.getResponseBody", map[string]interface{}{"requestId": id})
	if err != nil {
		c.log.WithError(err).WithField("request_id", id).Debug("response body unavailable")
		return
	}
	m, ok := result.(map[string]interface{})
	if !ok {
		return
	}
	body, _ := m["body"].(string)
	if b64, _ := m["base64Encoded"].(bool); b64 {
		entry.Response.Content.Encoding = "base64"
	}
	entry.Response.Content.Text = body
}

func (c *cdpStrategy) dropMalformed(event string, err error) {
	l := c.log.WithField("event", event)
	if err != nil {
		l = l.WithError(err)
	}
	l.Debug("dropping malformed protocol event")
}

func buildCDPRequest(r *network.Request) har.Request {
	headers := cdpHeaderList(r.Headers)
	req := har.Request{
		Method:      r.Method,
		URL:         r.URL,
		HTTPVersion: "HTTP/1.1",
		Cookies:     requestCookies(headers),
		Headers:     headers,
		QueryString: queryString(r.URL),
		HeadersSize: -1,
	}
	if len(r.PostDataEntries) > 0 {
		var buf bytes.Buffer
		for _, e := range r.PostDataEntries {
			if e == nil {
				continue
			}
			b, err := base64.StdEncoding.DecodeString(e.Bytes)
			if err != nil {
				continue
			}
			buf.Write(b)
		}
		if buf.Len() > 0 {
			req.BodySize = int64(buf.Len())
			req.PostData = &har.PostData{
				MimeType: headerValue(headers, "Content-Type"),
				Text:     buf.String(),
				Params:   make([]har.NameValue, 0),
			}
		}
	}
	return req
}

func buildCDPResponse(r *network.Response) har.Response {
	headers := cdpHeaderList(r.Headers)
	mime := r.MimeType
	if mime == "" {
		mime = failedMimeType
	}
	return har.Response{
		Status:      int(r.Status),
		StatusText:  r.StatusText,
		HTTPVersion: httpVersionLabel(r.Protocol),
		Cookies:     responseCookies(headers),
		Headers:     headers,
		Content:     har.Content{MimeType: mime},
		RedirectURL: headerValue(headers, "Location"),
		HeadersSize: -1,
		BodySize:    -1,
	}
}

func decodeCDP(params map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// drainInFlight gives pending requests a short window to reach a
// terminal lifecycle event before a strategy goes silent.
func drainInFlight(ctx context.Context, corr *correlator) {
	deadline := time.NewTimer(500 * time.Millisecond)
	defer deadline.Stop()
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for corr.InFlight() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-tick.C:
		}
	}
}
