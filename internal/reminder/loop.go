package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/jmhodges/clock"

	logx "deskmate/pkg/logx"
)

// Run calls tick immediately and then once per interval until ctx is done.
// Ticks never overlap. The timer is armed before each tick, so a tick that
// runs longer than interval is followed by the next one right away.
func Run(ctx context.Context, clk clock.Clock, interval time.Duration, tick func(ctx context.Context)) {
	if interval <= 0 {
		interval = time.Second
	}
	t := clk.NewTimer(interval)
	defer t.Stop()
	for {
		tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			t.Reset(interval)
		}
	}
}

// guardTick times one tick, records it and logs its error. A panic inside
// the tick is logged, recorded as a failed tick and swallowed so the loop
// keeps its schedule.
func guardTick(ctx context.Context, clk clock.Clock, loop string, log logx.Logger, m Metrics, fn func(ctx context.Context) error) {
	start := clk.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			log.Error("tick panicked", logx.String("loop", loop), logx.Any("panic", r))
			err = fmt.Errorf("tick panicked: %v", r)
		}
		m.ObserveTick(loop, clk.Since(start), err)
	}()
	if err = fn(ctx); err != nil && ctx.Err() == nil {
		log.Warn("tick failed", logx.String("loop", loop), logx.Err(err))
	}
}
