package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskmate/internal/transport"
	logx "deskmate/pkg/logx"
)

func TestConsoleReadsLinesAndWrites(t *testing.T) {
	in := strings.NewReader("/list_events\n\nhello\n")
	var out bytes.Buffer
	a := New("desk", logx.Nop(), WithIO(in, &out))

	msgs := make(chan transport.Message, 4)
	require.NoError(t, a.Start(context.Background(), msgs))

	var got []transport.Message
	for len(got) < 2 {
		select {
		case m := <-msgs:
			got = append(got, m)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d messages", len(got))
		}
	}
	assert.Equal(t, "/list_events", got[0].Text)
	assert.Equal(t, "desk", got[0].ChannelID)
	assert.Equal(t, "hello", got[1].Text)

	ref, err := a.SendText(context.Background(), "desk", "⏰ Reminder: x")
	require.NoError(t, err)
	assert.Equal(t, "desk", ref.ChannelID)
	assert.Equal(t, "[desk] ⏰ Reminder: x\n", out.String())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))
}
