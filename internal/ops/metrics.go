package ops

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"feedwatch/internal/eventbus"
)

const namespace = "feedwatch"

// Metrics turns bus events into Prometheus series on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	cycles     *prometheus.CounterVec
	duration   prometheus.Histogram
	newItems   prometheus.Counter
	deliveries *prometheus.CounterVec
	recipients prometheus.Gauge
}

// NewMetrics registers the collectors. dropped, when non-nil, is exported as
// the number of bus events lost to slow subscribers.
func NewMetrics(dropped func() uint64) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Detection cycles by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a detection cycle, including delivery.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		newItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "new_items_total",
			Help:      "Items detected as new.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Notification attempts by result.",
		}, []string{"result"}),
		recipients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recipients",
			Help:      "Registered recipients, as of the last registration change.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles, m.duration, m.newItems, m.deliveries, m.recipients,
	)
	if dropped != nil {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Internal events dropped because a subscriber fell behind.",
		}, func() float64 { return float64(dropped()) }))
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// SetRecipients seeds the gauge, typically from the persisted state at start.
func (m *Metrics) SetRecipients(n int) { m.recipients.Set(float64(n)) }

// Observe applies one event.
func (m *Metrics) Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TypeCycleFinished:
		p, ok := ev.Data.(eventbus.CycleFinished)
		if !ok {
			return
		}
		m.cycles.WithLabelValues(p.Outcome).Inc()
		m.duration.Observe(p.Duration.Seconds())
		m.newItems.Add(float64(p.NewItems))
	case eventbus.TypeDeliverySent:
		m.deliveries.WithLabelValues("sent").Inc()
	case eventbus.TypeDeliveryFail:
		m.deliveries.WithLabelValues("failed").Inc()
	case eventbus.TypeRecipientAdd, eventbus.TypeRecipientDrop:
		if p, ok := ev.Data.(eventbus.Recipient); ok {
			m.recipients.Set(float64(p.Total))
		}
	}
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(ev)
		}
	}
}
