package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the patient booking flows.
type BookingMetrics struct {
	submissionsTotal   *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
	cancellationsTotal *prometheus.CounterVec
	upstreamLatency    *prometheus.HistogramVec
	activePages        prometheus.Gauge
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		submissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "booking",
			Name:      "submissions_total",
			Help:      "Booking form submit attempts by outcome",
		}, []string{"outcome"}),
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "booking",
			Name:      "validation_failures_total",
			Help:      "Field validation failures by field and kind",
		}, []string{"field", "kind"}),
		cancellationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "booking",
			Name:      "cancellations_total",
			Help:      "Appointment cancel attempts by outcome",
		}, []string{"outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portal",
			Subsystem: "booking",
			Name:      "upstream_request_seconds",
			Help:      "Latency of appointment and directory service calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		activePages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "portal",
			Subsystem: "booking",
			Name:      "active_pages",
			Help:      "Booking pages currently held in memory",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.submissionsTotal, m.validationFailures, m.cancellationsTotal, m.upstreamLatency, m.activePages)
	return m
}

func (m *BookingMetrics) ObserveSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveValidationFailure(field, kind string) {
	if m == nil {
		return
	}
	m.validationFailures.WithLabelValues(field, kind).Inc()
}

func (m *BookingMetrics) ObserveCancellation(outcome string) {
	if m == nil {
		return
	}
	m.cancellationsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveUpstream(operation, status string, seconds float64) {
	if m == nil {
		return
	}
	m.upstreamLatency.WithLabelValues(operation, status).Observe(seconds)
}

func (m *BookingMetrics) SetActivePages(n int) {
	if m == nil {
		return
	}
	m.activePages.Set(float64(n))
}
