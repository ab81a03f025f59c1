// Package plugin hosts the feature plugins. The manager reconciles the
// "plugins" config section: it initialises, starts, reconfigures and stops
// plugins and publishes their commands to the router.
package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmhodges/clock"

	"deskmate/internal/eventbus"
	"deskmate/internal/reminder"
	"deskmate/internal/router"
	rtsup "deskmate/internal/runtime/supervisor"
	logx "deskmate/pkg/logx"
)

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []router.Command
}

// ConfigurablePlugin receives its raw "config" block before Start and on
// every change while running.
type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

// ConfigValidator is an optional hook to validate plugin config before applying it.
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, raw json.RawMessage) error
}

// ObserverProvider is implemented by plugins that want to see every inbound
// message, not only commands.
type ObserverProvider interface {
	Observers() []router.Observer
}

type HealthChecker interface {
	Health(ctx context.Context) (status string, err error)
}

// SupervisorProvider exposes a plugin's own goroutine supervisor for the
// status and ops views.
type SupervisorProvider interface {
	Supervisor() *rtsup.Supervisor
}

// Deps are the shared services handed to every plugin on Init.
type Deps struct {
	Logger      logx.Logger
	Clock       clock.Clock
	Store       reminder.EventStore
	StoreDriver string
	Route       *reminder.RouteState
	Dispatcher  reminder.Dispatcher
	Metrics     reminder.Metrics
	Bus         eventbus.Bus
	// AppSupervisor is the process level supervisor, for status reporting.
	AppSupervisor *rtsup.Supervisor
	StartedAt     time.Time
	// Plugins reports the manager's view of all plugins. Optional.
	Plugins func(ctx context.Context) Snapshot
}

// PluginBase covers the boilerplate most plugins share.
//
//	type Plugin struct{ plugin.PluginBase }
//	func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error { p.InitBase(deps, p.Name()); return nil }
//	func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); p.Runner.Go0(...); return nil }
//	func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }
type PluginBase struct {
	Log    logx.Logger
	Deps   Deps
	Runner *rtsup.Supervisor

	ctx context.Context
}

func (b *PluginBase) Supervisor() *rtsup.Supervisor { return b.Runner }

// Health never blocks. Plugins with richer state override it.
func (b *PluginBase) Health(ctx context.Context) (string, error) {
	if b == nil {
		return "nil", errors.New("plugin base is nil")
	}
	if b.ctx == nil {
		return "not_started", nil
	}
	select {
	case <-b.ctx.Done():
		return "stopped", b.ctx.Err()
	default:
	}
	if err := b.Runner.Err(); err != nil {
		return "degraded", err
	}
	return "ok", nil
}

func (b *PluginBase) InitBase(deps Deps, pluginName string) {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	b.Deps = deps
	b.Log = deps.Logger.With(logx.String("plugin", pluginName))
}

// StartBase creates a per-plugin supervisor tied to ctx.
func (b *PluginBase) StartBase(ctx context.Context) {
	b.ctx = ctx
	b.Runner = rtsup.New(ctx, rtsup.WithLogger(b.Log), rtsup.WithClock(b.Deps.Clock))
}

// StopBase cancels the runner and waits for its goroutines, bounded by ctx.
func (b *PluginBase) StopBase(ctx context.Context) error {
	if b.Runner == nil {
		return nil
	}
	err := b.Runner.Stop(ctx)
	b.Runner = nil
	return err
}

// Context returns the plugin runtime context (canceled on stop/disable).
func (b *PluginBase) Context() context.Context { return b.ctx }

// PublishEvent is a no-op without a bus.
func (b *PluginBase) PublishEvent(typ string, data map[string]any) {
	if b == nil || b.Deps.Bus == nil {
		return
	}
	b.Deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// DecodePluginConfig strictly decodes a plugin's raw config block. An empty
// block yields the zero value.
func DecodePluginConfig[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
