// Package metrics defines the Prometheus metrics for the RSVP service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the outcome counters for registration traffic.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registrations *prometheus.CounterVec
	cancellations *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rsvpd_registrations_total",
			Help: "Registration attempts by outcome.",
		}, []string{"outcome"}),
		cancellations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rsvpd_cancellations_total",
			Help: "Cancellation attempts by outcome.",
		}, []string{"outcome"}),
	}
}

// ObserveRegistration records the outcome of one register attempt.
func (m *Metrics) ObserveRegistration(outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome).Inc()
}

// ObserveCancellation records the outcome of one cancel attempt.
func (m *Metrics) ObserveCancellation(outcome string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(outcome).Inc()
}
