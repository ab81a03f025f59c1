package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "deskmate/pkg/logx"
)

const sampleYAML = `
logging:
  level: debug
  console: true
transport:
  driver: console
  console:
    channel_id: desk
storage:
  driver: sqlite
  path: ./data/events.db
plugins:
  companion:
    enabled: true
    config:
      target:
        default_channel_id: "12345"
`

func TestDecodeYAML(t *testing.T) {
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Transport.Driver)
	assert.Equal(t, "desk", cfg.Transport.Console.ChannelID)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	require.Contains(t, cfg.Plugins, "companion")
	assert.True(t, cfg.Plugins["companion"].Enabled)
	assert.Contains(t, string(cfg.Plugins["companion"].Config), "default_channel_id")
	require.NoError(t, Validate(cfg))
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	_, err := Decode("config.json", []byte(`{"storage":{"driver":"memory","colour":"red"}}`))
	require.Error(t, err)

	_, err = Decode("config.json", []byte(`{"plugins":{"x":{"enabled":true,"extra":1}}}`))
	require.Error(t, err)
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	_, err := Decode("config.json", []byte(`{"storage":{"driver":"memory"}} {}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing data")
}

func TestDecodeEmptyYAML(t *testing.T) {
	cfg, err := Decode("config.yml", []byte(""))
	require.NoError(t, err)
	assert.Empty(t, cfg.Plugins)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"telegram needs token", Config{}, "token"},
		{"unknown transport", Config{Transport: TransportConfig{Driver: "irc"}}, "unknown driver"},
		{"unknown storage", Config{Transport: TransportConfig{Driver: "console"}, Storage: StorageConfig{Driver: "redis"}}, "unknown driver"},
		{"postgres needs dsn", Config{Transport: TransportConfig{Driver: "console"}, Storage: StorageConfig{Driver: "postgres"}}, "dsn"},
		{"bad duration", Config{Transport: TransportConfig{Driver: "console"}, Notifier: NotifierConfig{SendTimeout: "soon"}}, "notifier.send_timeout"},
		{"bad qos", Config{Transport: TransportConfig{Driver: "console"}, MQTT: MQTTConfig{Enabled: true, Broker: "tcp://x:1883", QoS: 3}}, "qos"},
		{"ok", Config{Transport: TransportConfig{Driver: "console"}, Storage: StorageConfig{Driver: "memory"}}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.cfg)
			if tc.want == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestManagerLoadAndReloadPublishes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	m := NewConfigManager(path)
	m.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	// Unchanged content is not republished.
	assert.False(t, m.reload(context.Background()))

	updated := strings.Replace(sampleYAML, "level: debug", "level: info", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	require.True(t, m.reload(context.Background()))

	select {
	case got := <-sub:
		assert.Equal(t, "info", got.Logging.Level)
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}
}

func TestManagerReloadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"transport":{"driver":"console"}}`), 0o600))

	m := NewConfigManager(path)
	m.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })
	_, err := m.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"transport":{"driver":"carrier-pigeon"}}`), 0o600))
	assert.False(t, m.reload(context.Background()))
	assert.Equal(t, "console", m.Get().Transport.Driver)
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	oldCfg := &Config{Transport: TransportConfig{Driver: "telegram", Telegram: TelegramConfig{Token: "old-secret"}}}
	newCfg := &Config{
		Transport: TransportConfig{Driver: "telegram", Telegram: TelegramConfig{Token: "new-secret"}},
		Plugins: map[string]PluginConfigRaw{
			"companion": {Enabled: true},
		},
	}
	changed, attrs, plugins := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"transport", "plugins"}, changed)
	assert.Equal(t, []string{"companion"}, plugins)
	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("config changed", attrs...)
	assert.Contains(t, buf.String(), "transport.driver")
	assert.NotContains(t, buf.String(), "secret")
}

func TestChangedPluginsIgnoresWhitespace(t *testing.T) {
	a := map[string]PluginConfigRaw{"p": {Enabled: true, Config: []byte(`{"a": 1}`)}}
	b := map[string]PluginConfigRaw{"p": {Enabled: true, Config: []byte(`{"a":1}`)}}
	assert.Empty(t, changedPlugins(a, b))
}

func TestParseDurationField(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
		err  bool
	}{
		{"", 0, false},
		{" 15s ", 15 * time.Second, false},
		{"1m30s", 90 * time.Second, false},
		{"15", 15 * time.Second, false},
		{"0.5", 500 * time.Millisecond, false},
		{"-2s", 0, true},
		{"-3", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("notifier.send_timeout", tc.raw)
		if tc.err {
			require.Error(t, err, tc.raw)
			assert.Contains(t, err.Error(), "notifier.send_timeout")
			continue
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}

	d, err := ParseDurationOrDefault("ops.idle_timeout", "0", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)
}
