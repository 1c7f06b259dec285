// Package capture turns the asynchronous network lifecycle events of an
// automated browser session into an ordered HAR log. Two strategies
// bridge the driver: a debugging-protocol (CDP) strategy with full
// timing phases and a driver-native network-API strategy used as
// fallback.
package capture

import (
	"context"

	"github.com/kmllr/harcap/pkg/har"
)

// DefaultMaxBodySize is the response-body capture ceiling applied when
// the caller does not configure one. Bodies above the ceiling are
// omitted from content but their true size is still recorded.
const DefaultMaxBodySize int64 = 64 << 10

// EntrySink receives each completed entry exactly once, keyed by the
// driver's request identifier.
type EntrySink func(entry *har.Entry, requestID string)

// StartOptions parameterize a strategy subscription.
type StartOptions struct {
	OnEntry     EntrySink
	MaxBodySize int64
}

// Strategy bridges one external event source into a uniform stream of
// completed entries. Start must not be called twice without an
// intervening Stop; after Stop returns no further entries are emitted.
type Strategy interface {
	Start(ctx context.Context, opts StartOptions) error
	Stop(ctx context.Context) error
	Name() string
	// SupportsTimingPhases reports whether send/wait/receive are
	// derived from fine-grained protocol timing.
	SupportsTimingPhases() bool
	// CapturesBodies reports whether response bodies can be captured
	// (subject to the size ceiling).
	CapturesBodies() bool
}

// Strategy names as reported by ActiveStrategyName.
const (
	StrategyCDP    = "cdp"
	StrategyNative = "native"
)
