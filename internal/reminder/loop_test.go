package reminder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "deskmate/pkg/logx"
)

type tickRecord struct {
	loop string
	err  error
}

type tickMetrics struct {
	nopMetrics
	mu    sync.Mutex
	ticks []tickRecord
}

func (m *tickMetrics) ObserveTick(loop string, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks = append(m.ticks, tickRecord{loop: loop, err: err})
}

func TestGuardTickRecordsPanicAsFailure(t *testing.T) {
	m := &tickMetrics{}
	fc := clock.NewFake()

	require.NotPanics(t, func() {
		guardTick(context.Background(), fc, LoopEvents, logx.Nop(), m, func(context.Context) error {
			panic("nil route")
		})
	})
	require.Len(t, m.ticks, 1)
	assert.Equal(t, LoopEvents, m.ticks[0].loop)
	require.Error(t, m.ticks[0].err)
	assert.Contains(t, m.ticks[0].err.Error(), "nil route")
}

func TestGuardTickRecordsOutcome(t *testing.T) {
	m := &tickMetrics{}
	fc := clock.NewFake()

	guardTick(context.Background(), fc, LoopDaily, logx.Nop(), m, func(context.Context) error { return nil })
	guardTick(context.Background(), fc, LoopDaily, logx.Nop(), m, func(context.Context) error { return errBoom })

	require.Len(t, m.ticks, 2)
	assert.NoError(t, m.ticks[0].err)
	assert.ErrorIs(t, m.ticks[1].err, errBoom)
}
