package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"supernotify/internal/engine"
	"supernotify/internal/eventbus"
)

// Metrics maintains dispatch outcome counters fed from the event bus, so
// the engine stays free of metrics plumbing.
type Metrics struct {
	bus eventbus.Bus
	reg *prometheus.Registry

	received   *prometheus.CounterVec
	suppressed *prometheus.CounterVec
	delivered  prometheus.Counter
	errored    prometheus.Counter
}

func NewMetrics(bus eventbus.Bus) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		bus: bus,
		reg: reg,
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "supernotify_notifications_total",
			Help: "Notifications received, by priority.",
		}, []string{"priority"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "supernotify_suppressed_total",
			Help: "Notifications suppressed, by filter.",
		}, []string{"by"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "supernotify_deliveries_total",
			Help: "Successful outbound calls.",
		}),
		errored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "supernotify_delivery_errors_total",
			Help: "Failed outbound calls.",
		}),
	}
	reg.MustRegister(m.received, m.suppressed, m.delivered, m.errored)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Run consumes notify.* events until ctx is done.
func (m *Metrics) Run(ctx context.Context) {
	if m.bus == nil {
		<-ctx.Done()
		return
	}
	ch, unsubscribe := m.bus.Subscribe("notify.", 64)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.observe(ev)
		}
	}
}

func (m *Metrics) observe(ev eventbus.Event) {
	data, _ := ev.Data.(map[string]any)
	switch ev.Type {
	case engine.EventReceived:
		priority, _ := data["priority"].(string)
		if priority == "" {
			priority = "unknown"
		}
		m.received.WithLabelValues(priority).Inc()
	case engine.EventSuppressed:
		by, _ := data["by"].(string)
		if by == "" {
			by = "unknown"
		}
		m.suppressed.WithLabelValues(by).Inc()
	case engine.EventDispatched:
		if n, ok := data["delivered"].(int); ok {
			m.delivered.Add(float64(n))
		}
		if n, ok := data["errored"].(int); ok {
			m.errored.Add(float64(n))
		}
	}
}
