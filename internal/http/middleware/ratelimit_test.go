package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wolfman30/patient-portal/internal/identity"
)

func TestRateLimiterRefills(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	if !rl.Allow("k") || !rl.Allow("k") {
		t.Fatalf("expected burst of 2 to be allowed")
	}
	if rl.Allow("k") {
		t.Fatalf("expected third request to be limited")
	}
	if !rl.Allow("other") {
		t.Fatalf("expected keys to be limited independently")
	}

	now = now.Add(time.Second)
	if !rl.Allow("k") {
		t.Fatalf("expected a token after one second")
	}

	rl.Evict(now.Add(time.Second))
	if len(rl.buckets) != 0 {
		t.Fatalf("expected stale buckets to be evicted, have %d", len(rl.buckets))
	}
}

func TestRateLimitKeysByPatient(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(0.001, 1)
	rl.now = func() time.Time { return now }
	handler := RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(patientID string) int {
		req := httptest.NewRequest(http.MethodPost, "/patient/appointments/form/submit", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if patientID != "" {
			req = req.WithContext(identity.WithIdentity(req.Context(), identity.Identity{ID: patientID}))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := send("p1"); got != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", got)
	}
	if got := send("p1"); got != http.StatusTooManyRequests {
		t.Fatalf("expected second request limited, got %d", got)
	}
	if got := send("p2"); got != http.StatusOK {
		t.Fatalf("expected other patient on same address allowed, got %d", got)
	}
	if got := send(""); got != http.StatusOK {
		t.Fatalf("expected anonymous caller keyed by address, got %d", got)
	}
}
