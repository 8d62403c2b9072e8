package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/patient-portal/internal/appointments"
	"github.com/wolfman30/patient-portal/internal/identity"
	"github.com/wolfman30/patient-portal/internal/sessions"
	"github.com/wolfman30/patient-portal/pkg/logging"
)

// PageProvider hands out the live booking page of a patient.
type PageProvider interface {
	Get(ctx context.Context, patient identity.Identity) (*appointments.Page, error)
	Remove(patientID string) bool
}

// PatientAppointmentsHandler exposes the booking page to the patient web app.
// Every route expects PatientJWT to have put the identity on the context.
type PatientAppointmentsHandler struct {
	pages  PageProvider
	logger *logging.Logger
}

// NewPatientAppointmentsHandler creates the booking page handler.
func NewPatientAppointmentsHandler(pages PageProvider, logger *logging.Logger) *PatientAppointmentsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &PatientAppointmentsHandler{
		pages:  pages,
		logger: logger,
	}
}

// PageResponse wraps the rendered page.
type PageResponse struct {
	Page appointments.PageView `json:"page"`
}

// FieldChangeRequest is the body of PATCH /form.
type FieldChangeRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// FieldChangeResponse reports the edited field's validity with the new page.
type FieldChangeResponse struct {
	Field string                `json:"field"`
	Valid bool                  `json:"valid"`
	Page  appointments.PageView `json:"page"`
}

// SubmitResponse is returned by POST /form/submit.
type SubmitResponse struct {
	Message     string                        `json:"message,omitempty"`
	Errors      appointments.FieldErrors      `json:"errors,omitempty"`
	Appointment *appointments.AppointmentItem `json:"appointment,omitempty"`
	Page        appointments.PageView         `json:"page"`
}

// CancelRequest is the body of POST /{appointmentID}/cancel. Confirm carries
// the patient's answer to the confirmation prompt.
type CancelRequest struct {
	Confirm bool `json:"confirm"`
}

// CancelResponse is returned by POST /{appointmentID}/cancel.
type CancelResponse struct {
	Cancelled bool                  `json:"cancelled"`
	Message   string                `json:"message,omitempty"`
	Page      appointments.PageView `json:"page"`
}

// Routes returns a chi router with the booking page routes.
func (h *PatientAppointmentsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/page", h.GetPage)
	r.Delete("/page", h.ClosePage)
	r.Post("/page/reload", h.ReloadPage)
	r.Post("/form/toggle", h.ToggleForm)
	r.Post("/form/dismiss", h.DismissForm)
	r.Patch("/form", h.ChangeField)
	r.Post("/form/submit", h.SubmitForm)
	r.Post("/alert/ack", h.AcknowledgeAlert)
	r.Post("/{appointmentID}/cancel", h.CancelAppointment)
	return r
}

// page resolves the caller's page, writing the error response when it cannot.
func (h *PatientAppointmentsHandler) page(w http.ResponseWriter, r *http.Request) (*appointments.Page, bool) {
	who, ok := identity.FromContext(r.Context())
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	page, err := h.pages.Get(r.Context(), who)
	if err != nil {
		if errors.Is(err, sessions.ErrRegistryClosed) {
			jsonError(w, "service shutting down", http.StatusServiceUnavailable)
			return nil, false
		}
		h.logger.Error("failed to open booking page", "patient_id", who.ID, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	return page, true
}

// GetPage renders the booking page.
// GET /patient/appointments/page
func (h *PatientAppointmentsHandler) GetPage(w http.ResponseWriter, r *http.Request) {
	page, ok := h.page(w, r)
	if !ok {
		return
	}
	page.EnsureDoctors(r.Context())
	writeJSON(w, http.StatusOK, PageResponse{Page: page.View()})
}

// ClosePage discards the patient's page, cancelling anything in flight.
// DELETE /patient/appointments/page
func (h *PatientAppointmentsHandler) ClosePage(w http.ResponseWriter, r *http.Request) {
	who, ok := identity.FromContext(r.Context())
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	h.pages.Remove(who.ID)
	w.WriteHeader(http.StatusNoContent)
}

// ReloadPage refreshes the appointment list.
// POST /patient/appointments/page/reload
func (h *PatientAppointmentsHandler) ReloadPage(w http.ResponseWriter, r *http.Request) {
	page, ok := h.page(w, r)
	if !ok {
		return
	}
	page.Reload(r.Context())
	writeJSON(w, http.StatusOK, PageResponse{Page: page.View()})
}

// ToggleForm opens or dismisses the booking form.
// POST /patient/appointments/form/toggle
func (h *PatientAppointmentsHandler) ToggleForm(w http.ResponseWriter, r *http.Request) {
	page, ok := h.page(w, r)
	if !ok {
		return
	}
	if _, err := page.ToggleForm(r.Context()); err != nil {
		h.writePageError(w, page, err)
		return
	}
	writeJSON(w, http.StatusOK, PageResponse{Page: page.View()})
}

// DismissForm closes the booking form and discards the draft.
// POST /patient/appointments/form/dismiss
func (h *PatientAppointmentsHandler) DismissForm(w http.ResponseWriter, r *http.Request) {
	page, ok := h.page(w, r)
	if !ok {
		return
	}
	if err := page.DismissForm(r.Context()); err != nil {
		h.writePageError(w, page, err)
		return
	}
	writeJSON(w, http.StatusOK, PageResponse{Page: page.View()})
}

// ChangeField applies one field edit.
// PATCH /patient/appointments/form
func (h *PatientAppointmentsHandler) ChangeField(w http.ResponseWriter, r *http.Request) {
	var req FieldChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	field, err := appointments.ParseField(strings.TrimSpace(req.Field))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	page, ok := h.page(w, r)
	if !ok {
		return
	}
	valid, err := page.Change(r.Context(), field, req.Value)
	if err != nil {
		h.writePageError(w, page, err)
		return
	}
	writeJSON(w, http.StatusOK, FieldChangeResponse{
		Field: string(field),
		Valid: valid,
		Page:  page.View(),
	})
}

// SubmitForm validates the draft and books the appointment.
// POST /patient/appointments/form/submit
func (h *PatientAppointmentsHandler) SubmitForm(w http.ResponseWriter, r *http.Request) {
	page, ok := h.page(w, r)
	if !ok {
		return
	}

	created, err := page.Submit(r.Context())
	var formErr *appointments.FormError
	switch {
	case err == nil:
		resp := SubmitResponse{Page: page.View()}
		if created != nil {
			item := page.Item(*created)
			resp.Appointment = &item
		}
		writeJSON(w, http.StatusCreated, resp)
	case errors.As(err, &formErr):
		writeJSON(w, http.StatusUnprocessableEntity, SubmitResponse{
			Message: appointments.ErrorSummaryMessage,
			Errors:  formErr.Errors,
			Page:    page.View(),
		})
	case errors.Is(err, appointments.ErrSubmitInProgress), errors.Is(err, appointments.ErrFormClosed), errors.Is(err, appointments.ErrPageClosed):
		h.writePageError(w, page, err)
	default:
		writeJSON(w, http.StatusBadGateway, SubmitResponse{
			Message: appointments.AlertMessage(err, appointments.FallbackCreateMessage),
			Page:    page.View(),
		})
	}
}

// CancelAppointment cancels one of the patient's appointments once confirmed.
// POST /patient/appointments/{appointmentID}/cancel
func (h *PatientAppointmentsHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	appointmentID := strings.TrimSpace(chi.URLParam(r, "appointmentID"))
	if appointmentID == "" {
		jsonError(w, "missing appointmentID", http.StatusBadRequest)
		return
	}
	var req CancelRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	page, ok := h.page(w, r)
	if !ok {
		return
	}
	confirm := func(context.Context, appointments.Appointment) bool { return req.Confirm }
	err := page.Cancel(r.Context(), appointmentID, confirm)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, CancelResponse{Cancelled: true, Page: page.View()})
	case errors.Is(err, appointments.ErrCancelDeclined):
		writeJSON(w, http.StatusOK, CancelResponse{Cancelled: false, Page: page.View()})
	case errors.Is(err, appointments.ErrAppointmentNotFound),
		errors.Is(err, appointments.ErrNotCancellable),
		errors.Is(err, appointments.ErrPageClosed):
		h.writePageError(w, page, err)
	default:
		writeJSON(w, http.StatusBadGateway, CancelResponse{
			Message: appointments.AlertMessage(err, appointments.FallbackCancelMessage),
			Page:    page.View(),
		})
	}
}

// AcknowledgeAlert clears the page alert.
// POST /patient/appointments/alert/ack
func (h *PatientAppointmentsHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	page, ok := h.page(w, r)
	if !ok {
		return
	}
	page.AcknowledgeAlert()
	writeJSON(w, http.StatusOK, PageResponse{Page: page.View()})
}

func (h *PatientAppointmentsHandler) writePageError(w http.ResponseWriter, page *appointments.Page, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, appointments.ErrSubmitInProgress):
		status = http.StatusConflict
	case errors.Is(err, appointments.ErrFormClosed):
		status = http.StatusConflict
	case errors.Is(err, appointments.ErrNotCancellable):
		status = http.StatusConflict
	case errors.Is(err, appointments.ErrAppointmentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, appointments.ErrPageClosed):
		status = http.StatusGone
	default:
		h.logger.Error("booking page request failed", "patient_id", page.Patient().ID, "error", err)
		jsonError(w, "internal error", status)
		return
	}
	jsonError(w, err.Error(), status)
}
