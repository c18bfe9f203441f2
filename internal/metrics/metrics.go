// Package metrics exposes the dispatch counters to Prometheus.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the dispatch counters. It implements the recorder interfaces
// of the service, notification and events packages.
type Metrics struct {
	transitions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	dropped       *prometheus.CounterVec
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delivery_transitions_total",
			Help: "Total number of committed delivery status changes, by target status",
		}, []string{"to"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Total number of notification attempts, by channel and outcome",
		}, []string{"channel", "outcome"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Total number of domain events dropped because a subscriber queue was full",
		}, []string{"event"}),
	}
	reg.MustRegister(m.transitions, m.notifications, m.dropped)
	return m
}

// DeliveryTransition counts a committed delivery transition.
func (m *Metrics) DeliveryTransition(to string) {
	m.transitions.WithLabelValues(to).Inc()
}

// Notification counts one notification outcome.
func (m *Metrics) Notification(channel, outcome string) {
	m.notifications.WithLabelValues(channel, outcome).Inc()
}

// EventDropped counts an event lost to a full subscriber queue.
func (m *Metrics) EventDropped(name string) {
	m.dropped.WithLabelValues(name).Inc()
}

// RegisterOnline exposes live_connections{namespace}, read from count at
// scrape time.
func RegisterOnline(reg prometheus.Registerer, namespace string, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "live_connections",
		Help:        "Number of users holding a live connection, by namespace",
		ConstLabels: prometheus.Labels{"namespace": namespace},
	}, func() float64 { return float64(count()) }))
}
