package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/kmllr/harcap/pkg/har"
	"github.com/kmllr/harcap/pkg/hario"
)

// State is the session lifecycle position. Transitions are monotonic:
// Created → Started → Stopped, with no restart from Stopped.
type State int32

const (
	StateCreated State = iota
	StateStarted
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	defaultCreatorName    = "harcap"
	defaultCreatorVersion = "1.0"
)

// Options configure a capture session.
type Options struct {
	// Page is the driver page whose traffic is recorded.
	Page playwright.Page
	// ForceNative skips the debugging-protocol attempt entirely.
	ForceNative bool
	// MaxBodySize is the response-body capture ceiling in bytes;
	// DefaultMaxBodySize when zero.
	MaxBodySize int64
	// StreamPath, when set, enables incremental on-disk writing.
	// Mutually exclusive with StopAndSave.
	StreamPath string

	CreatorName    string
	CreatorVersion string

	Fs     afero.Fs
	Logger logrus.FieldLogger

	// Strategies overrides the built-in candidate list; the first one
	// that starts wins. Used by tests and custom drivers.
	Strategies []Strategy
}

// Session is the single source of truth for the live document and the
// strategy lifecycle. All document mutation is serialized through one
// mutex; Snapshot takes its copy under the same mutex, so no reader
// observes a half-appended entry.
type Session struct {
	opts Options
	log  logrus.FieldLogger
	fs   afero.Fs

	mu          sync.Mutex
	state       State
	disposed    bool
	doc         *har.HAR
	currentPage string
	strategy    Strategy
	stream      *hario.StreamWriter
	streamErr   error
}

// NewSession returns a session in the Created state.
func NewSession(opts Options) *Session {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	if opts.CreatorName == "" {
		opts.CreatorName = defaultCreatorName
	}
	if opts.CreatorVersion == "" {
		opts.CreatorVersion = defaultCreatorVersion
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Session{opts: opts, log: log, fs: fs}
}

// Start selects a strategy, subscribes to its completed-entry signal
// and, when configured, opens the streaming output. The initial page is
// created when pageRef is non-empty. On failure the session stays in
// Created with no partial mutation.
func (s *Session) Start(ctx context.Context, pageRef, pageTitle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return &PreconditionError{Op: "start", Disposed: true}
	}
	if s.state != StateCreated {
		return &PreconditionError{Op: "start", State: s.state}
	}

	doc := har.New(s.opts.CreatorName, s.opts.CreatorVersion)
	if pageRef != "" {
		doc.Log.Pages = append(doc.Log.Pages, newPage(pageRef, pageTitle))
	}

	strategy, err := s.selectStrategy(ctx)
	if err != nil {
		return err
	}

	var stream *hario.StreamWriter
	if s.opts.StreamPath != "" {
		stream, err = hario.OpenStream(s.fs, s.opts.StreamPath, doc.Log.Creator)
		if err != nil {
			_ = strategy.Stop(ctx)
			return err
		}
	}

	s.doc = doc
	s.currentPage = pageRef
	s.strategy = strategy
	s.stream = stream
	s.state = StateStarted
	s.log.WithFields(logrus.Fields{
		"strategy": strategy.Name(),
		"page":     pageRef,
		"stream":   s.opts.StreamPath != "",
	}).Info("capture started")
	return nil
}

// StartAsync is the non-blocking variant of Start; both funnel through
// the same path.
func (s *Session) StartAsync(ctx context.Context, pageRef, pageTitle string) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- s.Start(ctx, pageRef, pageTitle) }()
	return ch
}

// selectStrategy tries the debugging-protocol channel first unless the
// caller forces the native strategy; failure of every candidate is a
// fatal configuration error, never a silent no-op.
func (s *Session) selectStrategy(ctx context.Context) (Strategy, error) {
	candidates := s.opts.Strategies
	if len(candidates) == 0 {
		if !s.opts.ForceNative {
			candidates = append(candidates, newCDPStrategy(s.opts.Page, s.log))
		}
		candidates = append(candidates, newNativeStrategy(s.opts.Page, s.log))
	}

	so := StartOptions{OnEntry: s.onEntryCompleted, MaxBodySize: s.opts.MaxBodySize}
	var errs []error
	for _, cand := range candidates {
		if err := cand.Start(ctx, so); err != nil {
			s.log.WithError(err).WithField("strategy", cand.Name()).Warn("strategy failed to initialize")
			errs = append(errs, fmt.Errorf("%s: %w", cand.Name(), err))
			continue
		}
		return cand, nil
	}
	return nil, &ConfigurationError{
		Reason: "no capture strategy could be initialized",
		Err:    errors.Join(errs...),
	}
}

// onEntryCompleted is the strategy's completed-entry signal handler. It
// may be invoked concurrently from the strategy's dispatch goroutines
// while the caller reads via Snapshot; the session mutex makes the
// append atomic with respect to snapshots.
func (s *Session) onEntryCompleted(entry *har.Entry, requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || (s.state != StateStarted && s.state != StateStopping) {
		return
	}
	entry.Pageref = s.currentPage
	s.doc.Log.Entries = append(s.doc.Log.Entries, *entry)
	if s.stream != nil {
		if err := s.stream.WriteEntry(entry); err != nil {
			s.log.WithError(err).Error("streaming write failed")
			if s.streamErr == nil {
				s.streamErr = err
			}
		}
	}
	s.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"url":        entry.Request.URL,
		"status":     entry.Response.Status,
	}).Debug("entry recorded")
}

// NewPage appends a page; subsequent entries carry its ref until the
// next NewPage call. Pages are never deleted.
func (s *Session) NewPage(ref, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return &PreconditionError{Op: "new page", Disposed: true}
	}
	if s.state != StateStarted {
		return &PreconditionError{Op: "new page", State: s.state}
	}
	s.doc.Log.Pages = append(s.doc.Log.Pages, newPage(ref, title))
	s.currentPage = ref
	return nil
}

// Snapshot returns a deep, structurally independent copy of the current
// document, or nil before Start.
func (s *Session) Snapshot() *har.HAR {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.DeepCopy()
}

// Stop stops the strategy (draining what it can still complete),
// finalizes streaming output and returns the final document. A second
// Stop without an intervening Start is a precondition error.
func (s *Session) Stop(ctx context.Context) (*har.HAR, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, &PreconditionError{Op: "stop", Disposed: true}
	}
	if s.state != StateStarted {
		st := s.state
		s.mu.Unlock()
		return nil, &PreconditionError{Op: "stop", State: st}
	}
	// Stopping still accepts drained entries; the mutex is released so
	// the strategy's dispatch goroutines can deliver them.
	s.state = StateStopping
	strategy := s.strategy
	s.mu.Unlock()

	stopErr := strategy.Stop(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateStopped
	var finalizeErr error
	if s.stream != nil {
		finalizeErr = s.stream.Close(s.doc.Log.Pages, s.doc.Log.Custom)
		if finalizeErr == nil {
			finalizeErr = s.streamErr
		}
		s.stream = nil
	}
	doc := s.doc.DeepCopy()
	s.log.WithField("entries", len(doc.Log.Entries)).Info("capture stopped")
	if stopErr != nil {
		return doc, fmt.Errorf("stop strategy: %w", stopErr)
	}
	return doc, finalizeErr
}

// StopResult pairs the final document with the stop error for the
// non-blocking variant.
type StopResult struct {
	Doc *har.HAR
	Err error
}

// StopAsync is the non-blocking variant of Stop.
func (s *Session) StopAsync(ctx context.Context) <-chan StopResult {
	ch := make(chan StopResult, 1)
	go func() {
		doc, err := s.Stop(ctx)
		ch <- StopResult{Doc: doc, Err: err}
	}()
	return ch
}

// StopAndSave stops the capture and writes the final document to path.
// Configuring streaming and requesting an explicit save is a
// configuration error, reported before any write occurs.
func (s *Session) StopAndSave(ctx context.Context, path string) (*har.HAR, error) {
	s.mu.Lock()
	if s.opts.StreamPath != "" {
		s.mu.Unlock()
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("explicit save to %q conflicts with streaming output to %q", path, s.opts.StreamPath),
		}
	}
	s.mu.Unlock()

	doc, err := s.Stop(ctx)
	if err != nil {
		return doc, err
	}
	if err := hario.Save(s.fs, path, doc); err != nil {
		return doc, err
	}
	return doc, nil
}

// IsCapturing reports whether the session is between Start and Stop.
func (s *Session) IsCapturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateStarted || s.state == StateStopping
}

// ActiveStrategyName names the strategy selected at Start, or "" before
// Start.
func (s *Session) ActiveStrategyName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.strategy == nil {
		return ""
	}
	return s.strategy.Name()
}

// Dispose tears the session down best-effort. Disposing repeatedly is a
// no-op; every other operation afterwards fails with a disposed
// precondition error.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	wasLive := s.state == StateStarted || s.state == StateStopping
	s.state = StateStopped
	strategy := s.strategy
	stream := s.stream
	s.stream = nil
	var pages []har.Page
	if s.doc != nil {
		pages = s.doc.Log.Pages
	}
	s.mu.Unlock()

	if wasLive && strategy != nil {
		if err := strategy.Stop(context.Background()); err != nil {
			s.log.WithError(err).Debug("strategy stop during dispose")
		}
	}
	if stream != nil {
		if err := stream.Close(pages, nil); err != nil {
			s.log.WithError(err).Debug("stream close during dispose")
		}
	}
}

func newPage(ref, title string) har.Page {
	return har.Page{
		ID:              ref,
		Title:           title,
		StartedDateTime: time.Now(),
		PageTimings:     har.PageTimings{OnContentLoad: -1, OnLoad: -1},
	}
}
