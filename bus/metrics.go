package bus

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts bus traffic. A nil *Metrics is valid and records nothing.
type Metrics struct {
	published   *prometheus.CounterVec
	undelivered *prometheus.CounterVec
	timeouts    prometheus.Counter
	liveBuses   prometheus.Gauge
}

// NewMetrics creates the bus collectors and registers them with reg.
// A nil reg leaves the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "bus",
			Name:      "messages_published_total",
			Help:      "Messages published on session buses, by kind.",
		}, []string{"kind"}),
		undelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "bus",
			Name:      "messages_undelivered_total",
			Help:      "Messages published to a receiver with no queue, by kind.",
		}, []string{"kind"}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "bus",
			Name:      "await_timeouts_total",
			Help:      "Requests whose correlated response did not arrive in time.",
		}),
		liveBuses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "docqa",
			Subsystem: "bus",
			Name:      "live_buses",
			Help:      "Session buses currently open.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	var errs []error
	for _, c := range []prometheus.Collector{m.published, m.undelivered, m.timeouts, m.liveBuses} {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("failed to register bus metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) observePublish(k Kind, delivered bool) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(k.String()).Inc()
	if !delivered {
		m.undelivered.WithLabelValues(k.String()).Inc()
	}
}

func (m *Metrics) observeTimeout() {
	if m == nil {
		return
	}
	m.timeouts.Inc()
}

func (m *Metrics) busOpened() {
	if m == nil {
		return
	}
	m.liveBuses.Inc()
}

func (m *Metrics) busClosed() {
	if m == nil {
		return
	}
	m.liveBuses.Dec()
}
