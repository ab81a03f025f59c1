package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventParsesLocalTime(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	ev, err := NewEvent("chat", " 2025-01-01 09:00 ", "  standup ", loc)
	require.NoError(t, err)

	want := time.Date(2025, 1, 1, 9, 0, 0, 0, loc).Unix()
	assert.Equal(t, want, ev.DueAt)
	assert.Equal(t, "2025-01-01 09:00", ev.DisplayTime)
	assert.Equal(t, "standup", ev.Content)
	assert.False(t, ev.Delivered)
}

func TestNewEventRejectsBadInput(t *testing.T) {
	cases := []struct {
		name, when, content, field string
	}{
		{"bad date", "2025-13-01 09:00", "x", "display_time"},
		{"bad layout", "01/01/2025 9am", "x", "display_time"},
		{"empty time", "", "x", "display_time"},
		{"empty content", "2025-01-01 09:00", "   ", "content"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewEvent("chat", tc.when, tc.content, time.UTC)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "err = %v", err)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestAddEventInvalidStoresNothing(t *testing.T) {
	store := &fakeStore{}
	_, err := AddEvent(context.Background(), store, "chat", "tomorrow", "x", time.UTC)
	require.Error(t, err)
	all, err := store.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestChannelEventsOrderedAndStable(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	for _, in := range [][2]string{
		{"2025-03-01 10:00", "third"},
		{"2025-01-01 10:00", "first"},
		{"2025-02-01 10:00", "second"},
	} {
		_, err := AddEvent(ctx, store, "chat", in[0], in[1], time.UTC)
		require.NoError(t, err)
	}
	_, err := AddEvent(ctx, store, "other", "2024-01-01 10:00", "elsewhere", time.UTC)
	require.NoError(t, err)

	first, err := ChannelEvents(ctx, store, "chat")
	require.NoError(t, err)
	second, err := ChannelEvents(ctx, store, "chat")
	require.NoError(t, err)

	require.Len(t, first, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{first[0].Content, first[1].Content, first[2].Content})
	assert.Equal(t, FormatEventList(first), FormatEventList(second))
}

func TestFormatEventList(t *testing.T) {
	assert.Equal(t, "No events yet.", FormatEventList(nil))

	got := FormatEventList([]Event{
		{DisplayTime: "2025-01-01 09:00", Content: "standup", Delivered: true},
		{DisplayTime: "2025-01-02 10:00", Content: "review"},
	})
	assert.Equal(t, "Current events:\n✅ 2025-01-01 09:00 - standup\n⏳ 2025-01-02 10:00 - review", got)
}

func TestCheckPatchDeliveredIsOneWay(t *testing.T) {
	assert.NoError(t, CheckPatch(Event{}, Patch{Delivered: boolPtr(true)}))
	assert.NoError(t, CheckPatch(Event{Delivered: true}, Patch{Delivered: boolPtr(true)}))
	assert.Error(t, CheckPatch(Event{Delivered: true}, Patch{Delivered: boolPtr(false)}))
}

func TestRouteStateAndResolveTarget(t *testing.T) {
	r := NewRouteState()
	assert.Equal(t, "", ResolveTarget("", r, ""))
	assert.Equal(t, "fallback", ResolveTarget("", r, "fallback"))

	r.Observe("a")
	r.Set("b")
	r.Set("")
	assert.Equal(t, "b", r.Get())
	assert.Equal(t, "b", ResolveTarget("", r, "fallback"))
	assert.Equal(t, "own", ResolveTarget("own", r, "fallback"))

	var nilRoute *RouteState
	assert.Equal(t, "d", ResolveTarget("", nilRoute, "d"))
}
