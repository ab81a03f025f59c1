package reminder

import (
	"context"
	"time"
)

// Dispatcher sends text to a channel. Failures are returned, never retried here.
type Dispatcher interface {
	Send(ctx context.Context, channelID, text string) error
}

type DispatcherFunc func(ctx context.Context, channelID, text string) error

func (f DispatcherFunc) Send(ctx context.Context, channelID, text string) error {
	return f(ctx, channelID, text)
}

// CaptureProvider writes a snapshot artifact to path.
type CaptureProvider interface {
	Capture(ctx context.Context, path string) error
}

type CaptureFunc func(ctx context.Context, path string) error

func (f CaptureFunc) Capture(ctx context.Context, path string) error { return f(ctx, path) }

// Metrics receives engine observations. A nil Metrics is replaced by a no-op.
type Metrics interface {
	ObserveTick(loop string, d time.Duration, err error)
	Notification(kind string, err error)
	Capture(err error)
	EventCreated()
}

// Notification kinds.
const (
	KindReminder   = "reminder"
	KindDaily      = "daily"
	KindScreenshot = "screenshot"
)

// Loop names.
const (
	LoopEvents     = "events"
	LoopDaily      = "daily"
	LoopScreenshot = "screenshot"
)

type nopMetrics struct{}

func (nopMetrics) ObserveTick(string, time.Duration, error) {}
func (nopMetrics) Notification(string, error)               {}
func (nopMetrics) Capture(error)                            {}
func (nopMetrics) EventCreated()                            {}

func NopMetrics() Metrics { return nopMetrics{} }

func metricsOrNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
