package reminder

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/jmhodges/clock"

	"deskmate/internal/eventbus"
	logx "deskmate/pkg/logx"
)

type ScreenshotSchedulerConfig struct {
	Interval       time.Duration // default 30m
	Dir            string        // created on demand
	Cleanup        bool
	DefaultChannel string
}

// ScreenshotScheduler captures the desktop on a fixed interval and tells the
// active channel about it.
type ScreenshotScheduler struct {
	route    *RouteState
	dispatch Dispatcher
	capture  CaptureProvider
	clk      clock.Clock
	log      logx.Logger
	metrics  Metrics
	bus      eventbus.Bus

	cfg ScreenshotSchedulerConfig
}

func NewScreenshotScheduler(d Deps, cfg ScreenshotSchedulerConfig) *ScreenshotScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.Dir == "" {
		cfg.Dir = "screenshots"
	}
	return &ScreenshotScheduler{
		route:    d.Route,
		dispatch: d.Dispatcher,
		capture:  d.Capture,
		clk:      d.clock(),
		log:      d.Log.With(logx.String("loop", LoopScreenshot)),
		metrics:  metricsOrNop(d.Metrics),
		bus:      d.Bus,
		cfg:      cfg,
	}
}

func (s *ScreenshotScheduler) Run(ctx context.Context) {
	Run(ctx, s.clk, s.cfg.Interval, func(ctx context.Context) {
		guardTick(ctx, s.clk, LoopScreenshot, s.log, s.metrics, s.Tick)
	})
}

// Tick captures and announces one snapshot. Without a target nothing is
// captured. A capture failure skips the send and the cleanup, except that an
// empty placeholder is always removed. A send failure does not skip the
// cleanup. Cleanup errors are ignored.
func (s *ScreenshotScheduler) Tick(ctx context.Context) error {
	target := ResolveTarget("", s.route, s.cfg.DefaultChannel)
	if target == "" {
		return nil
	}

	path, err := s.tempPath()
	if err != nil {
		err = &CaptureError{Path: s.cfg.Dir, Err: err}
		s.metrics.Capture(err)
		return err
	}
	if err := s.capture.Capture(ctx, path); err != nil {
		var ce *CaptureError
		if !errors.As(err, &ce) {
			err = &CaptureError{Path: path, Err: err}
		}
		s.metrics.Capture(err)
		s.removeIfEmpty(path)
		return err
	}
	s.metrics.Capture(nil)
	publish(s.bus, eventbus.ScreenshotCaptured, map[string]any{"path": path, "channel_id": target})

	minutes := int(s.cfg.Interval / time.Minute)
	sendErr := s.dispatch.Send(ctx, target, FormatScreenshot(minutes))
	if sendErr != nil {
		sendErr = &DispatchError{Channel: target, Err: sendErr}
	}
	s.metrics.Notification(KindScreenshot, sendErr)

	if s.cfg.Cleanup {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Debug("screenshot cleanup failed", logx.String("path", path), logx.Err(err))
		}
	}
	return sendErr
}

func (s *ScreenshotScheduler) tempPath() (string, error) {
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(s.cfg.Dir, "screenshot-*.png")
	if err != nil {
		return "", err
	}
	name := f.Name()
	return name, f.Close()
}

// removeIfEmpty drops the placeholder left by a capture that wrote nothing.
// A partial image is kept for inspection.
func (s *ScreenshotScheduler) removeIfEmpty(path string) {
	st, err := os.Stat(path)
	if err != nil || st.Size() > 0 {
		return
	}
	if err := os.Remove(path); err != nil {
		s.log.Debug("screenshot cleanup failed", logx.String("path", path), logx.Err(err))
	}
}
