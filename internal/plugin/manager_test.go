package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskmate/internal/config"
	"deskmate/internal/router"
	"deskmate/internal/runtime/lifecycle"
	"deskmate/internal/transport"
	logx "deskmate/pkg/logx"
)

type fakeRegistry struct {
	mu   sync.Mutex
	cmds []router.Command
	obs  []router.Observer
}

func (r *fakeRegistry) SetRegistry(cmds []router.Command, obs []router.Observer) {
	r.mu.Lock()
	r.cmds, r.obs = cmds, obs
	r.mu.Unlock()
}

func (r *fakeRegistry) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.cmds {
		out = append(out, c.Plugin+"/"+c.Name)
	}
	return out
}

type testConfig struct {
	Greeting string `json:"greeting"`
}

type fakePlugin struct {
	PluginBase

	mu      sync.Mutex
	inits   int
	starts  int
	stops   int
	applied []string
	failCfg bool
}

func (p *fakePlugin) Name() string { return "fake" }

func (p *fakePlugin) Init(_ context.Context, deps Deps) error {
	p.InitBase(deps, p.Name())
	p.mu.Lock()
	p.inits++
	p.mu.Unlock()
	return nil
}

func (p *fakePlugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	p.Runner.Go0("idle", func(ctx context.Context) { <-ctx.Done() })
	p.mu.Lock()
	p.starts++
	p.mu.Unlock()
	return nil
}

func (p *fakePlugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
	return p.StopBase(ctx)
}

func (p *fakePlugin) Commands() []router.Command {
	return []router.Command{{Name: "greet", Handle: func(context.Context, *router.Request) error { return nil }}}
}

func (p *fakePlugin) Observers() []router.Observer {
	return []router.Observer{func(context.Context, transport.Message) {}}
}

func (p *fakePlugin) ValidateConfig(_ context.Context, raw json.RawMessage) error {
	cfg, err := DecodePluginConfig[testConfig](raw)
	if err != nil {
		return err
	}
	if cfg.Greeting == "forbidden" {
		return errors.New("greeting not allowed")
	}
	return nil
}

func (p *fakePlugin) OnConfigChange(_ context.Context, raw json.RawMessage) error {
	if p.failCfg {
		return errors.New("cannot apply")
	}
	cfg, err := DecodePluginConfig[testConfig](raw)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.applied = append(p.applied, cfg.Greeting)
	p.mu.Unlock()
	return nil
}

func cfgWith(enabled bool, raw string) *config.Config {
	return &config.Config{Plugins: map[string]config.PluginConfigRaw{
		"fake": {Enabled: enabled, Config: json.RawMessage(raw)},
	}}
}

func TestManagerLifecycle(t *testing.T) {
	reg := &fakeRegistry{}
	pm := NewManager(logx.Nop(), Deps{Logger: logx.Nop()}, reg)
	p := &fakePlugin{}
	pm.Register(p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pm.StartAll(ctx, cfgWith(true, `{"greeting":"hi"}`))
	assert.Equal(t, []string{"fake/greet"}, reg.names())
	assert.Len(t, reg.obs, 1)
	assert.Equal(t, 1, p.starts)
	assert.Equal(t, []string{"hi"}, p.applied)

	// Same config modulo whitespace is not re-applied.
	pm.Apply(ctx, cfgWith(true, `{ "greeting": "hi" }`))
	assert.Equal(t, []string{"hi"}, p.applied)

	pm.Apply(ctx, cfgWith(true, `{"greeting":"hello"}`))
	assert.Equal(t, []string{"hi", "hello"}, p.applied)
	assert.Equal(t, 1, p.starts)

	pm.Apply(ctx, cfgWith(false, `{"greeting":"hello"}`))
	assert.Empty(t, reg.names())
	assert.Equal(t, 1, p.stops)

	// Re-enabling does not Init twice.
	pm.Apply(ctx, cfgWith(true, `{"greeting":"again"}`))
	assert.Equal(t, 1, p.inits)
	assert.Equal(t, 2, p.starts)

	snap := pm.Snapshot(ctx)
	require.Len(t, snap.Plugins, 1)
	assert.True(t, snap.Plugins[0].Running)
	assert.Equal(t, "ok", snap.Plugins[0].Health)
	assert.Equal(t, int64(1), snap.Plugins[0].Goroutines)

	pm.StopAll(ctx, lifecycle.StopAppStop)
	assert.Equal(t, 2, p.stops)
	assert.Empty(t, reg.names())
}

func TestManagerQuarantinesInvalidConfig(t *testing.T) {
	reg := &fakeRegistry{}
	pm := NewManager(logx.Nop(), Deps{}, reg)
	p := &fakePlugin{}
	pm.Register(p)
	ctx := context.Background()

	pm.StartAll(ctx, cfgWith(true, `{"greeting":"forbidden"}`))
	assert.Equal(t, 0, p.starts)
	snap := pm.Snapshot(ctx)
	assert.True(t, snap.Plugins[0].Quarantined)
	assert.Contains(t, snap.Plugins[0].QuarantineErr, "greeting not allowed")

	// Unknown fields are rejected by the strict decoder.
	require.Error(t, pm.ValidateConfig(ctx, cfgWith(true, `{"greting":"x"}`)))
	require.NoError(t, pm.ValidateConfig(ctx, cfgWith(true, `{"greeting":"x"}`)))

	// A new config clears the quarantine.
	pm.Apply(ctx, cfgWith(true, `{"greeting":"ok"}`))
	assert.Equal(t, 1, p.starts)
	assert.False(t, pm.Snapshot(ctx).Plugins[0].Quarantined)
	pm.StopAll(ctx, lifecycle.StopAppStop)
}

func TestManagerStopsPluginWhenReconfigureFails(t *testing.T) {
	reg := &fakeRegistry{}
	pm := NewManager(logx.Nop(), Deps{}, reg)
	p := &fakePlugin{}
	pm.Register(p)
	ctx := context.Background()

	pm.StartAll(ctx, cfgWith(true, `{"greeting":"a"}`))
	require.Equal(t, 1, p.starts)

	p.failCfg = true
	pm.Apply(ctx, cfgWith(true, `{"greeting":"b"}`))
	assert.Equal(t, 1, p.stops)
	snap := pm.Snapshot(ctx)
	assert.False(t, snap.Plugins[0].Running)
	assert.True(t, snap.Plugins[0].Quarantined)
}

type panicky struct{ PluginBase }

func (p *panicky) Name() string                     { return "panicky" }
func (p *panicky) Init(context.Context, Deps) error { panic("init exploded") }
func (p *panicky) Start(context.Context) error      { return nil }
func (p *panicky) Stop(context.Context) error       { return nil }
func (p *panicky) Commands() []router.Command       { return nil }

func TestManagerRecoversPluginPanics(t *testing.T) {
	pm := NewManager(logx.Nop(), Deps{}, &fakeRegistry{})
	pm.Register(&panicky{})
	cfg := &config.Config{Plugins: map[string]config.PluginConfigRaw{"panicky": {Enabled: true}}}
	require.NotPanics(t, func() { pm.StartAll(context.Background(), cfg) })
	assert.False(t, pm.Snapshot(context.Background()).Plugins[0].Running)
}

func TestDecodePluginConfigEmpty(t *testing.T) {
	cfg, err := DecodePluginConfig[testConfig](nil)
	require.NoError(t, err)
	assert.Equal(t, testConfig{}, cfg)

	cfg, err = DecodePluginConfig[testConfig](json.RawMessage("null"))
	require.NoError(t, err)
	assert.Equal(t, testConfig{}, cfg)
}

func TestConfigHash(t *testing.T) {
	assert.Zero(t, configHash(nil))
	assert.Zero(t, configHash(json.RawMessage(" null ")))
	assert.Zero(t, configHash(json.RawMessage("{ }")))

	a := configHash(json.RawMessage(`{"schedule":{"timezone":"UTC"},"data_dir":"./d"}`))
	b := configHash(json.RawMessage("{\n  \"data_dir\": \"./d\",\n  \"schedule\": {\"timezone\": \"UTC\"}\n}"))
	assert.NotZero(t, a)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, configHash(json.RawMessage(`{"schedule":{"timezone":"Europe/Berlin"},"data_dir":"./d"}`)))

	// A broken block still changes hash when edited.
	assert.NotEqual(t, configHash(json.RawMessage(`{"data_dir":`)), configHash(json.RawMessage(`{"data_dir":"`)))
}
