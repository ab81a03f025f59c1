// Package metrics records engine activity as Prometheus collectors.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"deskmate/internal/reminder"
)

// Recorder implements reminder.Metrics.
type Recorder struct {
	ticks         *prometheus.CounterVec
	tickDuration  *prometheus.HistogramVec
	notifications *prometheus.CounterVec
	captures      *prometheus.CounterVec
	created       prometheus.Counter
}

var _ reminder.Metrics = (*Recorder)(nil)

// New registers the collectors on reg, reusing any already registered.
func New(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskmate_ticks_total",
			Help: "Scheduler ticks by loop and result.",
		}, []string{"loop", "result"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deskmate_tick_duration_seconds",
			Help:    "Scheduler tick duration.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15},
		}, []string{"loop"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskmate_notifications_total",
			Help: "Outbound notifications by kind and result.",
		}, []string{"kind", "result"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskmate_captures_total",
			Help: "Screenshot captures by result.",
		}, []string{"result"}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deskmate_events_created_total",
			Help: "Events created through commands or the CLI.",
		}),
	}

	var err error
	if r.ticks, err = register(reg, r.ticks); err != nil {
		return nil, err
	}
	if r.tickDuration, err = register(reg, r.tickDuration); err != nil {
		return nil, err
	}
	if r.notifications, err = register(reg, r.notifications); err != nil {
		return nil, err
	}
	if r.captures, err = register(reg, r.captures); err != nil {
		return nil, err
	}
	if r.created, err = register(reg, r.created); err != nil {
		return nil, err
	}
	return r, nil
}

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (r *Recorder) ObserveTick(loop string, d time.Duration, err error) {
	r.ticks.WithLabelValues(loop, result(err)).Inc()
	r.tickDuration.WithLabelValues(loop).Observe(d.Seconds())
}

func (r *Recorder) Notification(kind string, err error) {
	r.notifications.WithLabelValues(kind, result(err)).Inc()
}

func (r *Recorder) Capture(err error) { r.captures.WithLabelValues(result(err)).Inc() }

func (r *Recorder) EventCreated() { r.created.Inc() }
