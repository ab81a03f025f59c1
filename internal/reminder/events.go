package reminder

import (
	"context"
	"time"

	"github.com/jmhodges/clock"

	"deskmate/internal/eventbus"
	logx "deskmate/pkg/logx"
)

// EventScheduler delivers due, undelivered events.
type EventScheduler struct {
	store    EventStore
	route    *RouteState
	dispatch Dispatcher
	clk      clock.Clock
	log      logx.Logger
	metrics  Metrics
	bus      eventbus.Bus

	interval       time.Duration
	defaultChannel string
}

type EventSchedulerConfig struct {
	Interval       time.Duration // default 10s
	DefaultChannel string
}

// Deps are the collaborators shared by all schedulers. Bus and Metrics are
// optional.
type Deps struct {
	Store      EventStore
	Route      *RouteState
	Dispatcher Dispatcher
	Capture    CaptureProvider
	Clock      clock.Clock
	Log        logx.Logger
	Metrics    Metrics
	Bus        eventbus.Bus
}

func (d Deps) clock() clock.Clock {
	if d.Clock == nil {
		return clock.New()
	}
	return d.Clock
}

func NewEventScheduler(d Deps, cfg EventSchedulerConfig) *EventScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &EventScheduler{
		store:          d.Store,
		route:          d.Route,
		dispatch:       d.Dispatcher,
		clk:            d.clock(),
		log:            d.Log.With(logx.String("loop", LoopEvents)),
		metrics:        metricsOrNop(d.Metrics),
		bus:            d.Bus,
		interval:       cfg.Interval,
		defaultChannel: cfg.DefaultChannel,
	}
}

func (s *EventScheduler) Interval() time.Duration { return s.interval }

// Run ticks until ctx is done.
func (s *EventScheduler) Run(ctx context.Context) {
	Run(ctx, s.clk, s.interval, func(ctx context.Context) {
		guardTick(ctx, s.clk, LoopEvents, s.log, s.metrics, s.Tick)
	})
}

// Tick delivers every pending event whose due time has passed. An event is
// marked delivered even when its send fails or no target resolves; a store
// failure ends the tick.
func (s *EventScheduler) Tick(ctx context.Context) error {
	pending, err := s.store.List(ctx, Filter{Delivered: boolPtr(false)})
	if err != nil {
		return err
	}
	now := s.clk.Now()
	for _, ev := range pending {
		if !ev.Due(now) {
			// ascending by due time
			break
		}
		target := ResolveTarget(ev.ChannelID, s.route, s.defaultChannel)
		if target != "" {
			err := s.dispatch.Send(ctx, target, FormatReminder(ev))
			if err != nil {
				err = &DispatchError{Channel: target, Err: err}
				s.log.Warn("reminder send failed", logx.String("event_id", ev.ID), logx.Err(err))
			}
			s.metrics.Notification(KindReminder, err)
		} else {
			s.log.Debug("reminder has no target; skipping send", logx.String("event_id", ev.ID))
		}

		if err := s.store.Update(ctx, ev.ID, Patch{Delivered: boolPtr(true)}); err != nil {
			return err
		}
		publish(s.bus, eventbus.ReminderDelivered, map[string]any{
			"event_id":   ev.ID,
			"channel_id": target,
			"due_at":     ev.DueAt,
		})
	}
	return nil
}

func publish(bus eventbus.Bus, typ string, data map[string]any) {
	if bus == nil {
		return
	}
	bus.Publish(eventbus.Event{Type: typ, Data: data})
}
