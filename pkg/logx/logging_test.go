package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	mu    sync.Mutex
	lines []string
	chans []string
	got   chan struct{}
}

func (c *captureSender) Send(_ context.Context, channelID, text string) error {
	c.mu.Lock()
	c.lines = append(c.lines, text)
	c.chans = append(c.chans, channelID)
	c.mu.Unlock()
	select {
	case c.got <- struct{}{}:
	default:
	}
	return nil
}

func TestFormatChannelLine(t *testing.T) {
	line := []byte(`{"level":"warn","time":"x","message":"tick failed","loop":"events","err":"boom"}`)
	got := formatChannelLine(line)
	assert.Equal(t, "[WARN] tick failed\n- err=boom\n- loop=events", got)

	assert.Equal(t, "not json", formatChannelLine([]byte("  not json \n")))
}

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int("n", 3), Err(errors.New("bad")), Err(nil))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "hello", m["message"])
	assert.Equal(t, "test", m["comp"])
	assert.EqualValues(t, 3, m["n"])
	assert.Equal(t, "bad", m["err"])
	assert.Contains(t, m["caller"], "logging_test.go:")
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	l.Info("nothing happens")
	assert.False(t, Nop().IsZero())
}

func TestChannelSinkForwardsWarnings(t *testing.T) {
	svc, log := New(Config{Level: "debug"})
	defer svc.Close()

	sender := &captureSender{got: make(chan struct{}, 1)}
	svc.SetSender(sender)
	svc.Apply(Config{
		Level:   "debug",
		Console: false,
		Channel: ChannelConfig{Enabled: true, ChannelID: "ops", MinLevel: "warn", RatePerSec: 10},
	})

	log.Info("below threshold")
	log.Warn("disk almost full", String("path", "/data"))

	select {
	case <-sender.got:
	case <-time.After(2 * time.Second):
		t.Fatal("channel sink did not forward the warning")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.lines, 1)
	assert.Equal(t, "ops", sender.chans[0])
	assert.Contains(t, sender.lines[0], "[WARN] disk almost full")
	assert.Contains(t, sender.lines[0], "- path=/data")
}
