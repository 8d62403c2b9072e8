package appointments

import (
	"fmt"
	"strings"
	"time"
)

// StatusColor is the badge color of an appointment status.
type StatusColor string

const (
	ColorGreen  StatusColor = "green"
	ColorYellow StatusColor = "yellow"
	ColorBlue   StatusColor = "blue"
	ColorRed    StatusColor = "red"
	ColorGray   StatusColor = "gray"
)

// ColorFor maps a status to its badge color.
func ColorFor(s Status) StatusColor {
	switch s {
	case StatusConfirmed:
		return ColorGreen
	case StatusPending:
		return ColorYellow
	case StatusCompleted:
		return ColorBlue
	case StatusCancelled:
		return ColorRed
	default:
		return ColorGray
	}
}

// CanCancel reports whether the cancel control is offered for a status.
func CanCancel(s Status) bool {
	return s != StatusCancelled && s != StatusCompleted
}

// FilterForPatient keeps only the appointments referencing patientID. The
// appointment service may return other patients' records.
func FilterForPatient(all []Appointment, patientID string) []Appointment {
	out := make([]Appointment, 0, len(all))
	for _, a := range all {
		if a.BelongsTo(patientID) {
			out = append(out, a)
		}
	}
	return out
}

const displayDateLayout = "Jan 02, 2006"

// FormatDate renders a date-only or RFC 3339 value as "Jan 02, 2006" in loc.
// Unparseable input is returned unchanged.
func FormatDate(value string, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.ParseInLocation(DateLayout, value, loc); err == nil {
		return t.Format(displayDateLayout)
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.In(loc).Format(displayDateLayout)
		}
	}
	return value
}

// Page copy.
const (
	EmptyListMessage    = "No appointments found"
	ErrorSummaryMessage = "Please fix the errors above before submitting."
	DoctorPlaceholder   = "Select a doctor"
	SubmitLabel         = "Book Appointment"
	SubmittingLabel     = "Booking..."
	NoticeTitle         = "Appointment booked successfully!"
	NoticeDetail        = "Your appointment has been scheduled."
)

// PageView is everything the client needs to render the appointments page.
type PageView struct {
	Loading       bool              `json:"loading"`
	Appointments  []AppointmentItem `json:"appointments"`
	EmptyMessage  string            `json:"emptyMessage,omitempty"`
	FormState     FormState         `json:"formState"`
	Form          *FormView         `json:"form,omitempty"`
	SuccessNotice *Notice           `json:"successNotice,omitempty"`
	Alert         string            `json:"alert,omitempty"`
}

// AppointmentItem is one rendered row of the appointment list.
type AppointmentItem struct {
	ID             string      `json:"id"`
	Doctor         string      `json:"doctor"`
	Specialization string      `json:"specialization,omitempty"`
	Date           string      `json:"date"`
	Time           string      `json:"time"`
	Reason         string      `json:"reason,omitempty"`
	Symptoms       string      `json:"symptoms,omitempty"`
	Status         Status      `json:"status"`
	StatusColor    StatusColor `json:"statusColor"`
	CanCancel      bool        `json:"canCancel"`
}

// Option is one entry of the doctor select.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// FormView is the rendered booking form.
type FormView struct {
	Draft         Draft       `json:"draft"`
	Errors        FieldErrors `json:"errors"`
	DoctorOptions []Option    `json:"doctorOptions"`
	MinDate       string      `json:"minDate"`
	HoursHint     string      `json:"hoursHint"`
	ReasonCounter string      `json:"reasonCounter"`
	Submitting    bool        `json:"submitting"`
	SubmitLabel   string      `json:"submitLabel"`
	SubmitEnabled bool        `json:"submitEnabled"`
	ErrorSummary  string      `json:"errorSummary,omitempty"`
}

// Notice is the transient success banner.
type Notice struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func newItem(a Appointment, loc *time.Location) AppointmentItem {
	doctor := strings.TrimSpace(a.Doctor.Name)
	if doctor != "" {
		doctor = "Dr. " + doctor
	}
	return AppointmentItem{
		ID:             a.ID,
		Doctor:         doctor,
		Specialization: a.Doctor.Specialization,
		Date:           FormatDate(a.Date, loc),
		Time:           a.Time,
		Reason:         a.Reason,
		Symptoms:       a.Symptoms,
		Status:         a.Status,
		StatusColor:    ColorFor(a.Status),
		CanCancel:      CanCancel(a.Status),
	}
}

func doctorOptions(doctors []Doctor) []Option {
	opts := make([]Option, 0, len(doctors)+1)
	opts = append(opts, Option{Value: "", Label: DoctorPlaceholder})
	for _, d := range doctors {
		opts = append(opts, Option{Value: d.ID, Label: d.Label()})
	}
	return opts
}

func reasonCounter(reason string, min int) string {
	// The counter shows the raw length; validation trims.
	return fmt.Sprintf("Characters: %d/%d", len([]rune(reason)), min)
}
