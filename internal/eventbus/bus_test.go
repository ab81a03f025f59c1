package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutWithPrefix(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4, "")
	defer unsubAll()
	notify, unsubNotify := b.Subscribe(4, "notify.")
	defer unsubNotify()

	b.Publish(Event{Type: EventCreated, Data: map[string]any{"id": "1"}})
	b.Publish(Event{Type: NotifySent})

	require.Len(t, all, 2)
	require.Len(t, notify, 1)
	e := <-notify
	assert.Equal(t, NotifySent, e.Type)
	assert.False(t, e.Time.IsZero())
}

func TestPublishDropsWhenSubscriberIsFull(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1, "")
	defer unsub()

	b.Publish(Event{Type: DailyFired})
	b.Publish(Event{Type: DailyFired})
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1, "")
	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: DailyFired})
}
