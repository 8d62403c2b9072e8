package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBookingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)
	m.ObserveSubmission("created")
	m.ObserveSubmission("created")
	m.ObserveSubmission("invalid")
	m.ObserveValidationFailure("reason", "tooShort")
	m.ObserveCancellation("declined")
	m.ObserveUpstream("create", "ok", 0.2)
	m.SetActivePages(3)

	if got := testutil.ToFloat64(m.submissionsTotal.WithLabelValues("created")); got != 2 {
		t.Fatalf("expected 2 created submissions, got %v", got)
	}
	if got := testutil.ToFloat64(m.validationFailures.WithLabelValues("reason", "tooShort")); got != 1 {
		t.Fatalf("expected 1 validation failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.activePages); got != 3 {
		t.Fatalf("expected 3 active pages, got %v", got)
	}
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveSubmission("created")
	m.ObserveValidationFailure("doctor", "required")
	m.ObserveCancellation("cancelled")
	m.ObserveUpstream("list", "error", 0.1)
	m.SetActivePages(1)
}
