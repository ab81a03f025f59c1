package status

import (
	"context"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskmate/internal/plugin"
	"deskmate/internal/reminder"
	"deskmate/internal/router"
	"deskmate/internal/transport"
	logx "deskmate/pkg/logx"
)

type capture struct{ text string }

func (c *capture) Send(_ context.Context, _, text string) error {
	c.text = text
	return nil
}

func TestStatusReport(t *testing.T) {
	clk := clock.NewFake()
	started := clk.Now()
	clk.Add(90 * time.Minute)

	route := reminder.NewRouteState()
	p := New()
	require.NoError(t, p.Init(context.Background(), plugin.Deps{
		Logger:      logx.Nop(),
		Clock:       clk,
		Route:       route,
		StoreDriver: "sqlite",
		StartedAt:   started,
		Plugins: func(context.Context) plugin.Snapshot {
			return plugin.Snapshot{Plugins: []plugin.Status{
				{Name: "companion", Enabled: true, Running: true, Health: "ok"},
				{Name: "extra", Enabled: false},
			}}
		},
	}))

	cmds := p.Commands()
	require.Len(t, cmds, 1)
	out := &capture{}
	req := router.NewRequest(transport.Message{ChannelID: "chat-1", Text: "/status"}, out)
	require.NoError(t, cmds[0].Handle(context.Background(), req))

	assert.Contains(t, out.text, "uptime: 1h30m")
	assert.Contains(t, out.text, "route: chat-1")
	assert.Contains(t, out.text, "store: sqlite")
	assert.Contains(t, out.text, "- companion: running (ok)")
	assert.Contains(t, out.text, "- extra: disabled")
}

func TestDurRel(t *testing.T) {
	assert.Equal(t, "42s", durRel(42*time.Second))
	assert.Equal(t, "3m5s", durRel(3*time.Minute+5*time.Second))
	assert.Equal(t, "2d3h", durRel(51*time.Hour))
}
