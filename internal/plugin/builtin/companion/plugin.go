// Package companion runs the reminder engine: the event, daily and
// screenshot loops plus the /add_event and /list_events commands.
package companion

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"deskmate/internal/capture"
	"deskmate/internal/plugin"
	"deskmate/internal/reminder"
	"deskmate/internal/router"
	rtsup "deskmate/internal/runtime/supervisor"
	"deskmate/internal/transport"
	logx "deskmate/pkg/logx"
)

const Name = "companion"

type Option func(*Plugin)

// WithCaptureProvider replaces the command based screenshot provider.
func WithCaptureProvider(c reminder.CaptureProvider) Option {
	return func(p *Plugin) { p.captureOverride = c }
}

type Plugin struct {
	plugin.PluginBase

	captureOverride reminder.CaptureProvider

	mu    sync.Mutex
	set   settings
	loops *rtsup.Supervisor
	daily *reminder.DailyScheduler
}

func New(opts ...Option) *Plugin {
	p := &Plugin{}
	p.set, _ = Config{}.resolve()
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Init(_ context.Context, deps plugin.Deps) error {
	if deps.Store == nil {
		return errors.New("companion: event store is required")
	}
	if deps.Route == nil {
		deps.Route = reminder.NewRouteState()
	}
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) ValidateConfig(_ context.Context, raw json.RawMessage) error {
	_, err := resolveRaw(raw)
	return err
}

// OnConfigChange stores the new settings and, while running, restarts the
// loops with them.
func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	cfg, err := plugin.DecodePluginConfig[Config](raw)
	if err != nil {
		return err
	}
	set, err := cfg.resolve()
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.set = set
	running := p.loops != nil
	p.mu.Unlock()

	if running {
		if err := p.stopLoops(ctx); err != nil {
			p.Log.Warn("loops did not stop in time", logx.Err(err))
		}
		p.startLoops()
	}
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	p.startLoops()
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	err := p.stopLoops(ctx)
	return errors.Join(err, p.StopBase(ctx))
}

func (p *Plugin) engineDeps(set settings) reminder.Deps {
	d := p.Deps
	var capt reminder.CaptureProvider = p.captureOverride
	if capt == nil {
		capt = capture.NewCommandProvider(set.shotCommand, set.shotTimeout, p.Log.With(logx.String("comp", "capture")))
	}
	return reminder.Deps{
		Store:      d.Store,
		Route:      d.Route,
		Dispatcher: d.Dispatcher,
		Capture:    capt,
		Clock:      d.Clock,
		Log:        p.Log,
		Metrics:    d.Metrics,
		Bus:        d.Bus,
	}
}

// startLoops runs the three loops under a child of the plugin supervisor so
// a config change can replace them without stopping the plugin.
func (p *Plugin) startLoops() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Runner == nil || p.loops != nil {
		return
	}
	set := p.set
	deps := p.engineDeps(set)

	loops := rtsup.New(p.Runner.Context(), rtsup.WithLogger(p.Log), rtsup.WithClock(p.Deps.Clock))

	events := reminder.NewEventScheduler(deps, reminder.EventSchedulerConfig{
		Interval:       set.eventInterval,
		DefaultChannel: set.defaultChannel,
	})
	daily := reminder.NewDailyScheduler(deps, reminder.DailySchedulerConfig{
		Interval:       set.dailyInterval,
		Location:       set.loc,
		Slots:          set.slots,
		DefaultChannel: set.defaultChannel,
	})
	if p.daily != nil {
		daily.Remember(p.daily.Fired())
	}
	p.daily = daily

	loops.Go0(reminder.LoopEvents, events.Run)
	loops.Go0(reminder.LoopDaily, daily.Run)
	if set.shotEnabled {
		shots := reminder.NewScreenshotScheduler(deps, reminder.ScreenshotSchedulerConfig{
			Interval:       set.shotInterval,
			Dir:            set.shotDir,
			Cleanup:        set.shotCleanup,
			DefaultChannel: set.defaultChannel,
		})
		loops.Go0(reminder.LoopScreenshot, shots.Run)
	}
	p.loops = loops

	// The parent supervisor owns a watcher so the plugin's Stop joins the loops.
	// A reload cancels loops first and the watcher exits with them.
	p.Runner.Go0("loops.join", func(ctx context.Context) {
		select {
		case <-ctx.Done():
		case <-loops.Context().Done():
		}
		wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = loops.Wait(wctx)
	})

	p.Log.Info("reminder loops started",
		logx.Duration("event_interval", set.eventInterval),
		logx.Duration("daily_interval", set.dailyInterval),
		logx.Bool("screenshot", set.shotEnabled),
		logx.Duration("screenshot_interval", set.shotInterval),
		logx.String("timezone", set.loc.String()),
	)
}

func (p *Plugin) stopLoops(ctx context.Context) error {
	p.mu.Lock()
	loops := p.loops
	p.loops = nil
	p.mu.Unlock()
	if loops == nil {
		return nil
	}
	return loops.Stop(ctx)
}

// LoopsSnapshot reports the loop goroutines, for the status command.
func (p *Plugin) LoopsSnapshot() rtsup.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loops.Snapshot()
}

func (p *Plugin) Health(ctx context.Context) (string, error) {
	status, err := p.PluginBase.Health(ctx)
	if err != nil || status != "ok" {
		return status, err
	}
	p.mu.Lock()
	loops := p.loops
	p.mu.Unlock()
	if loops == nil {
		return "idle", nil
	}
	if err := loops.Err(); err != nil {
		return "degraded", err
	}
	return "ok", nil
}

func (p *Plugin) Observers() []router.Observer {
	return []router.Observer{func(_ context.Context, msg transport.Message) {
		p.Deps.Route.Observe(msg.ChannelID)
	}}
}
