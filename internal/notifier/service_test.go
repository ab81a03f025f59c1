package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskmate/internal/eventbus"
	"deskmate/internal/transport"
	logx "deskmate/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
	fail error
}

func (f *fakeAdapter) Name() string                                          { return "fake" }
func (f *fakeAdapter) Start(context.Context, chan<- transport.Message) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                            { return nil }
func (f *fakeAdapter) SendText(_ context.Context, ch, text string) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return transport.MessageRef{}, f.fail
	}
	f.sent = append(f.sent, ch+"|"+text)
	return transport.MessageRef{ChannelID: ch, MessageID: "1"}, nil
}

func TestSendDeliversAndPublishes(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8, "notify.")
	defer unsub()
	ad := &fakeAdapter{}
	s := New(Config{RatePerSec: 100}, ad, logx.Nop(), bus)

	require.NoError(t, s.Send(context.Background(), "chat", "hi"))
	assert.Equal(t, []string{"chat|hi"}, ad.sent)

	e := <-events
	assert.Equal(t, eventbus.NotifySent, e.Type)
	assert.Equal(t, "chat", e.Data["channel_id"])

	sent, failed := s.Stats()
	assert.Equal(t, uint64(1), sent)
	assert.Zero(t, failed)
}

func TestSendReturnsFailure(t *testing.T) {
	boom := errors.New("flood wait")
	s := New(Config{RatePerSec: 100}, &fakeAdapter{fail: boom}, logx.Nop(), nil)

	err := s.Send(context.Background(), "chat", "hi")
	assert.ErrorIs(t, err, boom)
	h := s.History()
	require.Len(t, h, 1)
	assert.Equal(t, "flood wait", h[0].Error)
}

func TestSendRejectsMissingTransportOrChannel(t *testing.T) {
	s := New(Config{}, nil, logx.Nop(), nil)
	assert.ErrorIs(t, s.Send(context.Background(), "chat", "x"), ErrNoSender)

	s.SetAdapter(&fakeAdapter{})
	assert.ErrorIs(t, s.Send(context.Background(), "  ", "x"), ErrNoChannel)
}

func TestHistoryIsBounded(t *testing.T) {
	s := New(Config{RatePerSec: 1000, Burst: 1000, HistorySize: 3}, &fakeAdapter{}, logx.Nop(), nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Send(context.Background(), "c", string(rune('a'+i))))
	}
	h := s.History()
	require.Len(t, h, 3)
	assert.Equal(t, "c", h[0].Text)
	assert.Equal(t, "e", h[2].Text)
}

func TestSendHonoursContextWhileRateLimited(t *testing.T) {
	s := New(Config{RatePerSec: 1, Burst: 1}, &fakeAdapter{}, logx.Nop(), nil)
	require.NoError(t, s.Send(context.Background(), "c", "first"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, s.Send(ctx, "c", "second"))
}
