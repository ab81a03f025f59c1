package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"github.com/robfig/cron/v3"

	"deskmate/internal/eventbus"
	logx "deskmate/pkg/logx"
)

const dateLayout = "2006-01-02"

// DailySlot is a named notification fired on the minutes matched by a
// standard five-field cron expression.
type DailySlot struct {
	Name string
	Spec string
	Text string

	sched cron.Schedule
}

func NewDailySlot(name, spec, text string) (DailySlot, error) {
	if name == "" {
		return DailySlot{}, fmt.Errorf("daily slot: name is required")
	}
	if text == "" {
		return DailySlot{}, fmt.Errorf("daily slot %s: text is required", name)
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return DailySlot{}, fmt.Errorf("daily slot %s: %w", name, err)
	}
	return DailySlot{Name: name, Spec: spec, Text: text, sched: sched}, nil
}

// DefaultDailySlots are the 09:00 greeting and the 23:00 good-night.
func DefaultDailySlots() []DailySlot {
	morning, _ := NewDailySlot("morning", "0 9 * * *", "Good morning, ready to start work?")
	night, _ := NewDailySlot("night", "0 23 * * *", "It's late, get some rest.")
	return []DailySlot{morning, night}
}

// matches reports whether minute (truncated to the minute) is a slot minute.
func (d DailySlot) matches(minute time.Time) bool {
	return d.sched.Next(minute.Add(-time.Second)).Equal(minute)
}

type DailySchedulerConfig struct {
	Interval       time.Duration // default 30s
	Location       *time.Location
	Slots          []DailySlot // default DefaultDailySlots
	DefaultChannel string
}

// DailyScheduler fires each slot at most once per calendar date. The per-slot
// date memory is in-process only, so a restart inside a slot minute can fire
// that slot again.
type DailyScheduler struct {
	route    *RouteState
	dispatch Dispatcher
	clk      clock.Clock
	log      logx.Logger
	metrics  Metrics
	bus      eventbus.Bus

	interval       time.Duration
	loc            *time.Location
	slots          []DailySlot
	defaultChannel string

	mu   sync.Mutex
	last map[string]string // slot name -> date
}

func NewDailyScheduler(d Deps, cfg DailySchedulerConfig) *DailyScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if len(cfg.Slots) == 0 {
		cfg.Slots = DefaultDailySlots()
	}
	return &DailyScheduler{
		route:          d.Route,
		dispatch:       d.Dispatcher,
		clk:            d.clock(),
		log:            d.Log.With(logx.String("loop", LoopDaily)),
		metrics:        metricsOrNop(d.Metrics),
		bus:            d.Bus,
		interval:       cfg.Interval,
		loc:            cfg.Location,
		slots:          cfg.Slots,
		defaultChannel: cfg.DefaultChannel,
		last:           map[string]string{},
	}
}

func (s *DailyScheduler) Run(ctx context.Context) {
	Run(ctx, s.clk, s.interval, func(ctx context.Context) {
		guardTick(ctx, s.clk, LoopDaily, s.log, s.metrics, s.Tick)
	})
}

// Tick fires every slot matching the current minute that has not fired
// today. The date is remembered even when no target resolves or the send
// fails. There is no catch-up for a missed minute.
func (s *DailyScheduler) Tick(ctx context.Context) error {
	now := s.clk.Now().In(s.loc)
	today := now.Format(dateLayout)
	minute := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), 0, 0, s.loc)
	target := ResolveTarget("", s.route, s.defaultChannel)

	var firstErr error
	for _, slot := range s.slots {
		if !slot.matches(minute) || s.LastFired(slot.Name) == today {
			continue
		}
		if target != "" {
			err := s.dispatch.Send(ctx, target, slot.Text)
			if err != nil {
				err = &DispatchError{Channel: target, Err: err}
				if firstErr == nil {
					firstErr = err
				}
			}
			s.metrics.Notification(KindDaily, err)
		}
		s.mu.Lock()
		s.last[slot.Name] = today
		s.mu.Unlock()
		s.log.Debug("daily slot fired", logx.String("slot", slot.Name), logx.String("date", today), logx.Bool("sent", target != ""))
		publish(s.bus, eventbus.DailyFired, map[string]any{
			"slot":       slot.Name,
			"date":       today,
			"channel_id": target,
		})
	}
	return firstErr
}

// LastFired returns the date the slot last fired, or "".
func (s *DailyScheduler) LastFired(slot string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[slot]
}

// Reset forgets every fired date.
func (s *DailyScheduler) Reset() {
	s.mu.Lock()
	s.last = map[string]string{}
	s.mu.Unlock()
}

// Fired returns a copy of the slot -> date memory.
func (s *DailyScheduler) Fired() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.last))
	for k, v := range s.last {
		out[k] = v
	}
	return out
}

// Remember seeds the date memory, e.g. when a reconfigured scheduler
// replaces a running one within the same day.
func (s *DailyScheduler) Remember(fired map[string]string) {
	s.mu.Lock()
	for k, v := range fired {
		s.last[k] = v
	}
	s.mu.Unlock()
}
