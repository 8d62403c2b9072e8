package appointments

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownField is returned when a form update names no known input.
	ErrUnknownField = errors.New("unknown form field")

	// ErrFormClosed is returned when editing or submitting while the form is not open.
	ErrFormClosed = errors.New("booking form is not open")

	// ErrFormInvalid is returned by Submit when at least one field fails validation.
	ErrFormInvalid = errors.New("booking form has invalid fields")

	// ErrSubmitInProgress is returned when a submit is attempted while another is in flight.
	ErrSubmitInProgress = errors.New("appointment submission already in progress")

	// ErrAppointmentNotFound is returned when cancelling an appointment not on the patient's list.
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrNotCancellable is returned for completed or cancelled appointments.
	ErrNotCancellable = errors.New("appointment cannot be cancelled")

	// ErrCancelDeclined is returned when the patient does not confirm a cancellation.
	ErrCancelDeclined = errors.New("cancellation not confirmed")

	// ErrPageClosed is returned once the page has been torn down.
	ErrPageClosed = errors.New("booking page closed")
)

// Alert fallbacks when the service gives no message.
const (
	FallbackCreateMessage = "Failed to create appointment"
	FallbackCancelMessage = "Failed to cancel appointment"
)

// ServiceError is a failure reported by (or while reaching) a backend collaborator.
type ServiceError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	var b strings.Builder
	b.WriteString("appointments service")
	if e.Op != "" {
		b.WriteString(": " + e.Op)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	} else if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// AlertMessage returns the backend message carried by err, or fallback.
func AlertMessage(err error, fallback string) string {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && strings.TrimSpace(svcErr.Message) != "" {
		return svcErr.Message
	}
	return fallback
}

// FormError carries the field errors of a rejected submit.
type FormError struct {
	Errors FieldErrors
}

func (e *FormError) Error() string {
	var bad []string
	for _, f := range RequiredFields {
		if e.Errors[f] != "" {
			bad = append(bad, string(f))
		}
	}
	return fmt.Sprintf("%s: %s", ErrFormInvalid, strings.Join(bad, ", "))
}

func (e *FormError) Unwrap() error {
	return ErrFormInvalid
}
