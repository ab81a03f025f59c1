package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskmate/internal/config"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestAppConsoleRoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfig(t, fmt.Sprintf(`
logging:
  level: error
transport:
  driver: console
  console:
    channel_id: desk
storage:
  driver: memory
plugins:
  companion:
    enabled: true
    config:
      data_dir: %q
      screenshot:
        enabled: false
  status:
    enabled: true
`, dataDir))

	in, feed := io.Pipe()
	out := &syncBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := NewApp(ctx, path, WithConsoleIO(in, out))
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	require.Eventually(t, func() bool {
		snap := a.Plugins().Snapshot(ctx)
		for _, st := range snap.Plugins {
			if !st.Running {
				return false
			}
		}
		return len(snap.Plugins) == 2
	}, 5*time.Second, 10*time.Millisecond)

	send := func(line string) {
		go func() { _, _ = io.WriteString(feed, line+"\n") }()
	}

	send("/add_event 2099-01-01 10:00 dentist")
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[desk] Event added: 2099-01-01 10:00 dentist")
	}, 5*time.Second, 10*time.Millisecond)

	send("/list_events")
	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "dentist") >= 2
	}, 5*time.Second, 10*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	_ = feed.Close()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	<-a.Done()
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "transport:\n  driver: carrier-pigeon\n")
	_, err := NewApp(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestMapStorageDefaults(t *testing.T) {
	sc, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, "./data/deskmate.db", sc.Path)
	assert.Equal(t, 5*time.Second, sc.BusyTimeout)

	sc, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "Postgres", DSN: " postgres://x ", MaxConns: 4}})
	require.NoError(t, err)
	assert.Equal(t, "postgres", sc.Driver)
	assert.Equal(t, "postgres://x", sc.DSN)
	assert.EqualValues(t, 4, sc.MaxConns)

	_, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{BusyTimeout: "later"}})
	require.Error(t, err)
}

func TestMapOpsDefaults(t *testing.T) {
	oc, err := mapOpsConfig(&config.Config{Ops: config.OpsConfig{Enabled: true, ReadTimeout: "2s"}})
	require.NoError(t, err)
	assert.True(t, oc.Enabled)
	assert.Equal(t, 2*time.Second, oc.ReadTimeout)
	assert.Equal(t, 35*time.Second, oc.WriteTimeout)
	assert.Equal(t, 60*time.Second, oc.IdleTimeout)
}

func TestMapMQTT(t *testing.T) {
	_, enabled, err := mapMQTTConfig(&config.Config{})
	require.NoError(t, err)
	assert.False(t, enabled)

	mc, enabled, err := mapMQTTConfig(&config.Config{MQTT: config.MQTTConfig{
		Enabled: true, Broker: "tcp://127.0.0.1:1883", QoS: 1, ConnectTimeout: "3s",
	}})
	require.NoError(t, err)
	require.True(t, enabled)
	assert.Equal(t, byte(1), mc.QoS)
	assert.Equal(t, 3*time.Second, mc.ConnectTimeout)

	_, _, err = mapMQTTConfig(&config.Config{MQTT: config.MQTTConfig{Enabled: true}})
	require.Error(t, err)
}

func TestMapLoggingTrimsChannel(t *testing.T) {
	lc := mapLoggingConfig(&config.Config{Logging: config.LoggingConfig{
		Level:   "warn",
		Channel: config.LoggingChannel{Enabled: true, ChannelID: " 42 "},
	}})
	assert.Equal(t, "warn", lc.Level)
	assert.True(t, lc.Channel.Enabled)
	assert.Equal(t, "42", lc.Channel.ChannelID)
}

func TestTransportDriverDefault(t *testing.T) {
	assert.Equal(t, "telegram", transportDriver(&config.Config{}))
	assert.Equal(t, "console", transportDriver(&config.Config{Transport: config.TransportConfig{Driver: " Console "}}))
}

func TestStopReasonFor(t *testing.T) {
	assert.Equal(t, StopSIGINT, StopReasonFor(os.Interrupt))
	assert.Equal(t, StopSIGTERM, StopReasonFor(syscall.SIGTERM))
	assert.Equal(t, StopAppStop, StopReasonFor(nil))
	assert.Equal(t, StopUnknown, StopReasonFor(syscall.SIGHUP))
}

func TestStopBeforeStart(t *testing.T) {
	var a App
	require.NoError(t, a.Stop(context.Background(), StopAppStop))
	select {
	case <-a.Done():
	default:
		t.Fatal("Done should be closed before Start")
	}
}
