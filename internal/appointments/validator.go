package appointments

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ValidationKind classifies a field-level failure.
type ValidationKind string

const (
	KindRequired      ValidationKind = "required"
	KindPastDate      ValidationKind = "pastDate"
	KindOutOfHours    ValidationKind = "outOfHours"
	KindTooShort      ValidationKind = "tooShort"
	KindInvalidFormat ValidationKind = "invalidFormat"
)

// DateLayout is the wire and input format of appointment dates.
const DateLayout = "2006-01-02"

// ValidationError is a field-level failure shown inline next to the field.
type ValidationError struct {
	Field   Field
	Kind    ValidationKind
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidatorConfig tunes the booking rules. Zero values select the clinic defaults.
type ValidatorConfig struct {
	// Location decides where "today" starts. Defaults to time.Local.
	Location *time.Location
	// OpeningHour and ClosingHour bound the hour component, inclusive. Default 9 and 17.
	OpeningHour int
	ClosingHour int
	// StrictClosingTime rejects minutes past the closing hour (17:01..17:59).
	StrictClosingTime bool
	// MinReasonLength is the minimum trimmed reason length. Default 10.
	MinReasonLength int
	Now             func() time.Time
}

// Validator applies the per-field booking rules. It holds no form state.
type Validator struct {
	loc          *time.Location
	openingHour  int
	closingHour  int
	strict       bool
	minReasonLen int
	now          func() time.Time
}

// NewValidator builds a validator from cfg.
func NewValidator(cfg ValidatorConfig) *Validator {
	v := &Validator{
		loc:          cfg.Location,
		openingHour:  cfg.OpeningHour,
		closingHour:  cfg.ClosingHour,
		strict:       cfg.StrictClosingTime,
		minReasonLen: cfg.MinReasonLength,
		now:          cfg.Now,
	}
	if v.loc == nil {
		v.loc = time.Local
	}
	if v.openingHour == 0 && v.closingHour == 0 {
		v.openingHour, v.closingHour = 9, 17
	}
	if v.minReasonLen <= 0 {
		v.minReasonLen = 10
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v
}

// Check validates a single field value. It returns nil when the value is acceptable.
func (v *Validator) Check(field Field, value string) *ValidationError {
	switch field {
	case FieldDoctor:
		if value == "" {
			return &ValidationError{Field: field, Kind: KindRequired, Message: "Please select a doctor"}
		}
	case FieldDate:
		return v.checkDate(value)
	case FieldTime:
		return v.checkTime(value)
	case FieldReason:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return &ValidationError{Field: field, Kind: KindRequired, Message: "Reason is required"}
		}
		if utf8.RuneCountInString(trimmed) < v.minReasonLen {
			return &ValidationError{
				Field:   field,
				Kind:    KindTooShort,
				Message: fmt.Sprintf("Reason must be at least %d characters", v.minReasonLen),
			}
		}
	}
	return nil
}

func (v *Validator) checkDate(value string) *ValidationError {
	if value == "" {
		return &ValidationError{Field: FieldDate, Kind: KindRequired, Message: "Date is required"}
	}
	selected, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), v.loc)
	if err != nil {
		return &ValidationError{Field: FieldDate, Kind: KindInvalidFormat, Message: "Enter a valid date"}
	}
	if selected.Before(v.Today()) {
		return &ValidationError{Field: FieldDate, Kind: KindPastDate, Message: "Date must be in the future"}
	}
	return nil
}

func (v *Validator) checkTime(value string) *ValidationError {
	if value == "" {
		return &ValidationError{Field: FieldTime, Kind: KindRequired, Message: "Time is required"}
	}
	hour, minute, ok := parseClock(value)
	if !ok {
		return &ValidationError{Field: FieldTime, Kind: KindInvalidFormat, Message: "Enter a valid time"}
	}
	// Only the hour is bounded unless strict mode is on, so 17:59 passes by default.
	outside := hour < v.openingHour || hour > v.closingHour
	if v.strict && hour == v.closingHour && minute > 0 {
		outside = true
	}
	if outside {
		return &ValidationError{
			Field:   FieldTime,
			Kind:    KindOutOfHours,
			Message: fmt.Sprintf("Time must be between %s and %s", hourLabel(v.openingHour), hourLabel(v.closingHour)),
		}
	}
	return nil
}

// parseClock accepts H:MM or HH:MM.
func parseClock(value string) (hour, minute int, ok bool) {
	h, m, found := strings.Cut(strings.TrimSpace(value), ":")
	if !found || h == "" || len(h) > 2 || len(m) != 2 {
		return 0, 0, false
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, false
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

// Derive computes the error map of a whole draft. UI enablement and submit both use it.
func (v *Validator) Derive(d Draft) FieldErrors {
	errs := NewFieldErrors()
	for _, f := range RequiredFields {
		if verr := v.Check(f, d.Value(f)); verr != nil {
			errs[f] = verr.Message
		}
	}
	return errs
}

// Today is local midnight of the current day in the clinic location.
func (v *Validator) Today() time.Time {
	y, m, d := v.now().In(v.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, v.loc)
}

// MinReasonLength is the configured minimum reason length.
func (v *Validator) MinReasonLength() int {
	return v.minReasonLen
}

// HoursHint describes the bookable hours.
func (v *Validator) HoursHint() string {
	return fmt.Sprintf("Available hours: %s - %s", clockLabel(v.openingHour), clockLabel(v.closingHour))
}

func hourLabel(h int) string {
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%d %s", h12, suffix)
}

func clockLabel(h int) string {
	label := hourLabel(h)
	num, suffix, _ := strings.Cut(label, " ")
	return num + ":00 " + suffix
}
