package router

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/patient-portal/internal/apiclient"
	"github.com/wolfman30/patient-portal/internal/appointments"
	"github.com/wolfman30/patient-portal/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/patient-portal/internal/http/middleware"
	"github.com/wolfman30/patient-portal/internal/identity"
	"github.com/wolfman30/patient-portal/internal/observability/metrics"
	"github.com/wolfman30/patient-portal/internal/sessions"
	"github.com/wolfman30/patient-portal/pkg/logging"
)

const testSecret = "router-test-secret"

type testRouter struct {
	handler        http.Handler
	forwardedToken atomic.Value
}

func newTestRouter(t *testing.T) *testRouter {
	t.Helper()
	tr := &testRouter{}

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr.forwardedToken.Store(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		switch r.URL.Path {
		case "/appointments":
			io.WriteString(w, `{"appointments":[{"_id":"a1","patient":{"_id":"patient-1"},"doctor":{"name":"Ada Lovelace"},"appointmentDate":"2026-10-20","appointmentTime":"10:00","status":"pending"}]}`)
		case "/users":
			io.WriteString(w, `{"users":[{"_id":"d1","name":"Ada Lovelace","specialization":"Cardiology"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(api.Close)

	logger := logging.Discard()
	reg := prometheus.NewRegistry()
	bookingMetrics := metrics.NewBookingMetrics(reg)

	client, err := apiclient.New(apiclient.Config{BaseURL: api.URL, HTTPClient: api.Client(), Metrics: bookingMetrics, Logger: logger})
	if err != nil {
		t.Fatalf("apiclient.New: %v", err)
	}
	registry, err := sessions.NewRegistry(sessions.RegistryConfig{
		Factory: func(patient identity.Identity) (*appointments.Page, error) {
			return appointments.NewPage(appointments.PageConfig{
				Patient:      patient,
				Appointments: client,
				Doctors:      client,
				Metrics:      bookingMetrics,
				Logger:       logger,
			})
		},
		Metrics: bookingMetrics,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(registry.Close)

	tr.handler = New(&Config{
		Logger:              logger,
		PatientAppointments: handlers.NewPatientAppointmentsHandler(registry, logger),
		PatientJWTSecret:    testSecret,
		RateLimiter:         httpmiddleware.NewRateLimiter(100, 100),
		MetricsHandler:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins:  []string{"https://portal.example.com"},
	})
	return tr
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterPatientRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/patient/appointments/page", nil)
	rr := httptest.NewRecorder()
	router.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestRouterServesBookingPage(t *testing.T) {
	router := newTestRouter(t)
	token, err := identity.IssueToken(identity.Identity{ID: "patient-1", Role: identity.RolePatient}, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/patient/appointments/page", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	var resp handlers.PageResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode page: %v", err)
	}
	if len(resp.Page.Appointments) != 1 || resp.Page.Appointments[0].Doctor != "Dr. Ada Lovelace" {
		t.Fatalf("unexpected appointments %+v", resp.Page.Appointments)
	}
	if got, _ := router.forwardedToken.Load().(string); got != token {
		t.Fatalf("expected patient token forwarded to the portal API")
	}

	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsRR := httptest.NewRecorder()
	router.handler.ServeHTTP(metricsRR, metricsReq)
	if !strings.Contains(metricsRR.Body.String(), "portal_booking_active_pages 1") {
		t.Fatalf("expected active pages gauge to be exported")
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/patient/appointments/form", nil)
	req.Header.Set("Origin", "https://portal.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rr := httptest.NewRecorder()
	router.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rr.Code)
	}
}
