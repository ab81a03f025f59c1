// Package status provides the /status command.
package status

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"deskmate/internal/plugin"
	"deskmate/internal/router"
)

const Name = "status"

type Plugin struct {
	plugin.PluginBase
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Init(_ context.Context, deps plugin.Deps) error {
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) Commands() []router.Command {
	return []router.Command{{
		Name:        "status",
		Aliases:     []string{"health"},
		Description: "show engine status",
		Usage:       "/status",
		Timeout:     10 * time.Second,
		Handle: func(ctx context.Context, req *router.Request) error {
			if p.Deps.Route != nil {
				p.Deps.Route.Set(req.ChannelID)
			}
			return req.Reply(ctx, p.render(ctx))
		},
	}}
}

func (p *Plugin) render(ctx context.Context) string {
	d := p.Deps
	var b strings.Builder
	kv := func(k, v string) { fmt.Fprintf(&b, "\n%s: %s", k, v) }

	b.WriteString("deskmate status")
	kv("uptime", durRel(d.Clock.Since(d.StartedAt)))
	kv("go", runtime.Version())
	kv("goroutines", fmt.Sprintf("%d", runtime.NumGoroutine()))

	route := "(none)"
	if d.Route != nil && d.Route.Get() != "" {
		route = d.Route.Get()
	}
	kv("route", route)

	store := d.StoreDriver
	if store == "" {
		store = "unknown"
	}
	kv("store", store)

	if d.AppSupervisor != nil {
		c := d.AppSupervisor.Counters()
		kv("tasks", fmt.Sprintf("active %d, started %d", c.Active, c.Started))
		if err := d.AppSupervisor.Err(); err != nil {
			kv("last error", err.Error())
		}
	}

	if d.Plugins != nil {
		snap := d.Plugins(ctx)
		b.WriteString("\nplugins:")
		for _, st := range snap.Plugins {
			state := "stopped"
			switch {
			case st.Quarantined:
				state = "quarantined: " + st.QuarantineErr
			case st.Running:
				state = "running"
				if st.Health != "" {
					state += " (" + st.Health + ")"
				}
			case !st.Enabled:
				state = "disabled"
			}
			fmt.Fprintf(&b, "\n- %s: %s", st.Name, state)
		}
	}
	return b.String()
}

func durRel(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 48*time.Hour {
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
}
