package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfman30/patient-portal/internal/appointments"
	"github.com/wolfman30/patient-portal/internal/identity"
	"github.com/wolfman30/patient-portal/internal/observability/metrics"
	"github.com/wolfman30/patient-portal/pkg/logging"
)

// Client talks to the appointment and user services of the portal API. It
// implements appointments.AppointmentService and appointments.DoctorDirectory.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *metrics.BookingMetrics
	logger     *logging.Logger
}

var (
	_ appointments.AppointmentService = (*Client)(nil)
	_ appointments.DoctorDirectory    = (*Client)(nil)
)

// Config holds configuration for the API client
type Config struct {
	BaseURL    string // e.g. "https://portal.example.com/api"
	Timeout    time.Duration
	HTTPClient *http.Client // optional, overrides Timeout
	Metrics    *metrics.BookingMetrics
	Logger     *logging.Logger
}

// New creates a new API client
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("apiclient: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("apiclient: invalid BaseURL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: httpClient,
		metrics:    cfg.Metrics,
		logger:     logger.Component("apiclient"),
	}, nil
}

// List returns every appointment the service exposes to the caller.
// GET /appointments
func (c *Client) List(ctx context.Context) ([]appointments.Appointment, error) {
	var resp listAppointmentsResponse
	if err := c.do(ctx, "list_appointments", http.MethodGet, "/appointments", nil, &resp, nil); err != nil {
		return nil, err
	}
	out := make([]appointments.Appointment, 0, len(resp.Appointments))
	for _, rec := range resp.Appointments {
		out = append(out, rec.toDomain())
	}
	return out, nil
}

// Create books a new appointment from the draft.
// POST /appointments
func (c *Client) Create(ctx context.Context, draft appointments.Draft) (*appointments.Appointment, error) {
	body := createAppointmentRequest{
		Doctor:          draft.Doctor,
		AppointmentDate: draft.AppointmentDate,
		AppointmentTime: draft.AppointmentTime,
		Reason:          strings.TrimSpace(draft.Reason),
		Symptoms:        strings.TrimSpace(draft.Symptoms),
	}
	headers := http.Header{}
	if key := appointments.IdempotencyKey(ctx); key != "" {
		headers.Set("Idempotency-Key", key)
	}

	var resp appointmentEnvelope
	if err := c.do(ctx, "create_appointment", http.MethodPost, "/appointments", body, &resp, headers); err != nil {
		return nil, err
	}
	appt := resp.record().toDomain()
	return &appt, nil
}

// UpdateStatus requests a status transition.
// PUT /appointments/{id}
func (c *Client) UpdateStatus(ctx context.Context, id string, status appointments.Status) (*appointments.Appointment, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &appointments.ServiceError{Op: "update_appointment", Err: fmt.Errorf("appointment id is required")}
	}
	var resp appointmentEnvelope
	path := "/appointments/" + url.PathEscape(id)
	if err := c.do(ctx, "update_appointment", http.MethodPut, path, updateStatusRequest{Status: string(status)}, &resp, nil); err != nil {
		return nil, err
	}
	appt := resp.record().toDomain()
	return &appt, nil
}

// ListDoctors returns users with the doctor role.
// GET /users?role=doctor
func (c *Client) ListDoctors(ctx context.Context) ([]appointments.Doctor, error) {
	var resp listUsersResponse
	if err := c.do(ctx, "list_doctors", http.MethodGet, "/users?role=doctor", nil, &resp, nil); err != nil {
		return nil, err
	}
	out := make([]appointments.Doctor, 0, len(resp.Users))
	for _, u := range resp.Users {
		out = append(out, appointments.Doctor{
			ID:             firstNonEmpty(u.MongoID, u.ID),
			Name:           u.Name,
			Specialization: u.Specialization,
		})
	}
	return out, nil
}

// do performs one JSON round trip. Every failure is returned as *appointments.ServiceError.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any, headers http.Header) error {
	start := time.Now()
	status := "error"
	defer func() {
		c.metrics.ObserveUpstream(op, status, time.Since(start).Seconds())
	}()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &appointments.ServiceError{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &appointments.ServiceError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, ok := identity.TokenFromContext(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &appointments.ServiceError{Op: op, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		status = fmt.Sprintf("%d", resp.StatusCode)
		svcErr := &appointments.ServiceError{Op: op, StatusCode: resp.StatusCode}
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil {
			svcErr.Message = firstNonEmpty(apiErr.Message, apiErr.Error)
		}
		if svcErr.Message == "" {
			svcErr.Err = fmt.Errorf("API error: %s", strings.TrimSpace(string(raw)))
		}
		c.logger.Warn("portal API returned error", "operation", op, "status", resp.StatusCode, "message", svcErr.Message)
		return svcErr
	}

	status = "ok"
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		status = "decode_error"
		return &appointments.ServiceError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
