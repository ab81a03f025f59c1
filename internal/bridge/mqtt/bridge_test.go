package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskmate/internal/eventbus"
	logx "deskmate/pkg/logx"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakeClient) IsConnected() bool   { return true }
func (f *fakeClient) Connect() paho.Token { return doneToken{} }
func (f *fakeClient) Disconnect(uint)     {}
func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	f.mu.Lock()
	f.msgs = append(f.msgs, published{topic, qos, retained, payload.([]byte)})
	f.mu.Unlock()
	return doneToken{}
}

func (f *fakeClient) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func TestTopic(t *testing.T) {
	b := New(Config{TopicPrefix: "home/desk/"}, eventbus.New(), logx.Nop())
	assert.Equal(t, "home/desk/reminder.delivered", b.Topic(eventbus.ReminderDelivered))
	assert.Equal(t, "deskmate/daily.fired", New(Config{}, eventbus.New(), logx.Nop()).Topic(eventbus.DailyFired))
}

func TestBridgeForwardsEvents(t *testing.T) {
	fake := &fakeClient{}
	orig := newClient
	newClient = func(*paho.ClientOptions) client { return fake }
	defer func() { newClient = orig }()

	bus := eventbus.New()
	b := New(Config{Broker: "tcp://127.0.0.1:1883", QoS: 1, Retained: true}, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	// The subscription is registered inside Run; keep publishing until it lands.
	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.ReminderDelivered, Data: map[string]any{"event_id": "e1"}})
		return len(fake.all()) > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	msg := fake.all()[0]
	assert.Equal(t, "deskmate/reminder.delivered", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)

	var ev eventbus.Event
	require.NoError(t, json.Unmarshal(msg.payload, &ev))
	assert.Equal(t, eventbus.ReminderDelivered, ev.Type)
	assert.Equal(t, "e1", ev.Data["event_id"])
}
