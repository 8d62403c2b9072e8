package appointments

import (
	"fmt"
	"strings"
)

// Status is the backend-owned lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// DoctorRef is the doctor as embedded in an appointment record.
type DoctorRef struct {
	ID             string
	Name           string
	Specialization string
}

// Appointment is a read-only appointment record returned by the appointment service.
type Appointment struct {
	ID string
	// PatientRef is the id of the embedded patient object, PatientID the flat
	// patientId column. Either may be empty depending on how the record was populated.
	PatientRef string
	PatientID  string
	Doctor     DoctorRef
	Date       string
	Time       string
	Reason     string
	Symptoms   string
	Status     Status
}

// BelongsTo reports whether the appointment references the given patient.
func (a Appointment) BelongsTo(patientID string) bool {
	if patientID == "" {
		return false
	}
	return a.PatientRef == patientID || a.PatientID == patientID
}

// Doctor is an entry of the user directory with role doctor.
type Doctor struct {
	ID             string
	Name           string
	Specialization string
}

// Label is the text shown for the doctor in the selection list.
func (d Doctor) Label() string {
	if d.Specialization == "" {
		return d.Name
	}
	return d.Name + " - " + d.Specialization
}

// Field names a booking form input.
type Field string

const (
	FieldDoctor   Field = "doctor"
	FieldDate     Field = "appointmentDate"
	FieldTime     Field = "appointmentTime"
	FieldReason   Field = "reason"
	FieldSymptoms Field = "symptoms"
)

// RequiredFields are the validated fields, in display order.
var RequiredFields = []Field{FieldDoctor, FieldDate, FieldTime, FieldReason}

// ParseField resolves a form input name.
func ParseField(name string) (Field, error) {
	switch f := Field(strings.TrimSpace(name)); f {
	case FieldDoctor, FieldDate, FieldTime, FieldReason, FieldSymptoms:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
}

// Tracked reports whether the field carries validation state.
func (f Field) Tracked() bool {
	return f != FieldSymptoms
}

// Draft holds the in-progress, not yet submitted form values.
type Draft struct {
	Doctor          string `json:"doctor"`
	AppointmentDate string `json:"appointmentDate"`
	AppointmentTime string `json:"appointmentTime"`
	Reason          string `json:"reason"`
	Symptoms        string `json:"symptoms"`
}

// Value returns the draft value of a field.
func (d Draft) Value(f Field) string {
	switch f {
	case FieldDoctor:
		return d.Doctor
	case FieldDate:
		return d.AppointmentDate
	case FieldTime:
		return d.AppointmentTime
	case FieldReason:
		return d.Reason
	case FieldSymptoms:
		return d.Symptoms
	}
	return ""
}

// Set assigns a field value.
func (d *Draft) Set(f Field, value string) {
	switch f {
	case FieldDoctor:
		d.Doctor = value
	case FieldDate:
		d.AppointmentDate = value
	case FieldTime:
		d.AppointmentTime = value
	case FieldReason:
		d.Reason = value
	case FieldSymptoms:
		d.Symptoms = value
	}
}

// IsZero reports whether every field is empty.
func (d Draft) IsZero() bool {
	return d == Draft{}
}

// FieldErrors maps each tracked field to its message. An empty message means valid.
type FieldErrors map[Field]string

// NewFieldErrors returns a map with every tracked field present and clear.
func NewFieldErrors() FieldErrors {
	errs := make(FieldErrors, len(RequiredFields))
	for _, f := range RequiredFields {
		errs[f] = ""
	}
	return errs
}

// Any reports whether at least one field has a message.
func (e FieldErrors) Any() bool {
	for _, msg := range e {
		if msg != "" {
			return true
		}
	}
	return false
}

// Clone copies the map, filling in any missing tracked key.
func (e FieldErrors) Clone() FieldErrors {
	out := NewFieldErrors()
	for f, msg := range e {
		out[f] = msg
	}
	return out
}
