package appointments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/patient-portal/internal/identity"
	"github.com/wolfman30/patient-portal/internal/observability/metrics"
	"github.com/wolfman30/patient-portal/pkg/logging"
)

var pageTracer = otel.Tracer("portal.internal.appointments.page")

// DefaultNoticeDuration is how long the success banner stays visible.
const DefaultNoticeDuration = 3 * time.Second

// AppointmentService is the backend of record for appointments.
type AppointmentService interface {
	List(ctx context.Context) ([]Appointment, error)
	Create(ctx context.Context, draft Draft) (*Appointment, error)
	UpdateStatus(ctx context.Context, id string, status Status) (*Appointment, error)
}

// DoctorDirectory lists users with the doctor role.
type DoctorDirectory interface {
	ListDoctors(ctx context.Context) ([]Doctor, error)
}

// DraftStore keeps an in-progress draft across page instances. Load returns nil when none is stored.
type DraftStore interface {
	Load(ctx context.Context, patientID string) (*Draft, error)
	Save(ctx context.Context, patientID string, draft Draft) error
	Delete(ctx context.Context, patientID string) error
}

// Confirmer asks the patient to confirm cancelling appt.
type Confirmer func(ctx context.Context, appt Appointment) bool

// FormState is the lifecycle state of the booking form.
type FormState string

const (
	FormClosed     FormState = "closed"
	FormEditing    FormState = "editing"
	FormSubmitting FormState = "submitting"
)

type idempotencyKeyCtx struct{}

// WithIdempotencyKey tags a create call with the key of the submit attempt it belongs to.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

// IdempotencyKey returns the key set by WithIdempotencyKey, or "".
func IdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKeyCtx{}).(string)
	return key
}

// Timer is the part of *time.Timer the page needs.
type Timer interface {
	Stop() bool
}

// PageConfig wires a booking page.
type PageConfig struct {
	Patient        identity.Identity
	Appointments   AppointmentService
	Doctors        DoctorDirectory
	Validator      *Validator
	Drafts         DraftStore
	Metrics        *metrics.BookingMetrics
	Logger         *logging.Logger
	NoticeDuration time.Duration
	// AfterFunc schedules the notice auto-clear. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) Timer
}

// Page is the booking page controller of one patient. It owns the form draft,
// the displayed field errors and the filtered appointment list. Methods are safe
// for concurrent use; collaborator calls run without holding the lock.
type Page struct {
	patient   identity.Identity
	appts     AppointmentService
	doctors   DoctorDirectory
	validator *Validator
	drafts    DraftStore
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
	afterFunc func(d time.Duration, f func()) Timer

	noticeDuration time.Duration

	// life is cancelled by Close; calls in flight observe it.
	life       context.Context
	cancelLife context.CancelFunc

	// storeMu orders draft store writes; p.mu is taken inside it, never the reverse.
	storeMu sync.Mutex

	mu            sync.Mutex
	closed        bool
	loading       bool
	appointments  []Appointment
	doctorList    []Doctor
	state         FormState
	draft         Draft
	draftGen      uint64
	submitKey     string
	submitKeyGen  uint64
	errors        FieldErrors
	noticeVisible bool
	noticeTimer   Timer
	noticeSeq     uint64
	alert         string
}

// NewPage builds a page for cfg.Patient. The page starts in the loading state; call Load.
func NewPage(cfg PageConfig) (*Page, error) {
	if !cfg.Patient.Valid() {
		return nil, errors.New("appointments: patient identity required")
	}
	if cfg.Appointments == nil {
		return nil, errors.New("appointments: appointment service required")
	}
	if cfg.Doctors == nil {
		return nil, errors.New("appointments: doctor directory required")
	}
	if cfg.Validator == nil {
		cfg.Validator = NewValidator(ValidatorConfig{})
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.NoticeDuration <= 0 {
		cfg.NoticeDuration = DefaultNoticeDuration
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}

	life, cancel := context.WithCancel(context.Background())
	return &Page{
		patient:        cfg.Patient,
		appts:          cfg.Appointments,
		doctors:        cfg.Doctors,
		validator:      cfg.Validator,
		drafts:         cfg.Drafts,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger.Component("booking_page"),
		afterFunc:      cfg.AfterFunc,
		noticeDuration: cfg.NoticeDuration,
		life:           life,
		cancelLife:     cancel,
		loading:        true,
		state:          FormClosed,
		errors:         NewFieldErrors(),
	}, nil
}

// Patient returns the identity the page acts for.
func (p *Page) Patient() identity.Identity {
	return p.patient
}

// Load fetches the appointment list and the doctors concurrently. A failed
// fetch leaves that collection empty and is only logged.
func (p *Page) Load(ctx context.Context) {
	ctx, span := pageTracer.Start(ctx, "appointments.page.load",
		trace.WithAttributes(attribute.String("portal.patient_id", p.patient.ID)))
	defer span.End()

	ctx, stop := p.bind(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.reloadAppointments(gctx)
		return nil
	})
	g.Go(func() error {
		p.loadDoctors(gctx)
		return nil
	})
	_ = g.Wait()

	p.mu.Lock()
	p.loading = false
	p.mu.Unlock()
}

// Reload refreshes the appointment list, and the doctors while none are known.
func (p *Page) Reload(ctx context.Context) {
	ctx, stop := p.bind(ctx)
	defer stop()
	p.reloadAppointments(ctx)
	p.ensureDoctors(ctx)
}

// EnsureDoctors fetches the doctor directory again when an earlier fetch left it empty.
func (p *Page) EnsureDoctors(ctx context.Context) {
	ctx, stop := p.bind(ctx)
	defer stop()
	p.ensureDoctors(ctx)
}

func (p *Page) ensureDoctors(ctx context.Context) {
	p.mu.Lock()
	known := len(p.doctorList) > 0 || p.closed
	p.mu.Unlock()
	if !known {
		p.loadDoctors(ctx)
	}
}

func (p *Page) loadDoctors(ctx context.Context) {
	doctors, err := p.doctors.ListDoctors(ctx)
	if err != nil {
		p.logger.Warn("failed to fetch doctors", "patient_id", p.patient.ID, "error", err)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.doctorList = doctors
	}
}

// reloadAppointments keeps the previous list when the fetch fails.
func (p *Page) reloadAppointments(ctx context.Context) {
	all, err := p.appts.List(ctx)
	if err != nil {
		p.logger.Warn("failed to fetch appointments", "patient_id", p.patient.ID, "error", err)
		return
	}
	mine := FilterForPatient(all, p.patient.ID)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.appointments = mine
}

// ToggleForm implements the "Book Appointment" button: it opens a closed form
// and dismisses an open one. A submitting form is left alone.
func (p *Page) ToggleForm(ctx context.Context) (FormState, error) {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()

	switch state {
	case FormClosed:
		return FormEditing, p.OpenForm(ctx)
	case FormEditing:
		return FormClosed, p.DismissForm(ctx)
	default:
		return state, nil
	}
}

// OpenForm shows the booking form, restoring a stored draft when one exists.
func (p *Page) OpenForm(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPageClosed
	}
	if p.state != FormClosed {
		p.mu.Unlock()
		return nil
	}
	p.state = FormEditing
	p.mu.Unlock()

	p.EnsureDoctors(ctx)

	if p.drafts == nil {
		return nil
	}
	stored, err := p.drafts.Load(ctx, p.patient.ID)
	if err != nil {
		p.logger.Warn("failed to restore draft", "patient_id", p.patient.ID, "error", err)
		return nil
	}
	if stored == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == FormEditing && p.draft.IsZero() {
		p.draft = *stored
		p.draftGen++
		// Restored values were never shown to the patient; only flag what was already typed.
		for _, f := range RequiredFields {
			if p.draft.Value(f) != "" {
				p.validateFieldLocked(f, p.draft.Value(f))
			}
		}
	}
	return nil
}

// DismissForm closes the form and discards the draft and its errors.
func (p *Page) DismissForm(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPageClosed
	}
	if p.state == FormSubmitting {
		p.mu.Unlock()
		return ErrSubmitInProgress
	}
	p.resetFormLocked()
	gen := p.draftGen
	p.mu.Unlock()

	p.forgetDraft(ctx, gen)
	return nil
}

// Change applies an edit to a field and re-validates it. Symptoms are not validated.
// The returned bool is the field's validity.
func (p *Page) Change(ctx context.Context, field Field, value string) (bool, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false, ErrPageClosed
	}
	if p.state != FormEditing {
		p.mu.Unlock()
		return false, ErrFormClosed
	}
	p.draft.Set(field, value)
	p.draftGen++
	gen := p.draftGen
	valid := true
	if field.Tracked() {
		valid = p.validateFieldLocked(field, value)
	}
	p.mu.Unlock()

	p.saveDraft(ctx, gen)
	return valid, nil
}

// ValidateField validates value for field and records the result in the displayed errors.
func (p *Page) ValidateField(field Field, value string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.validateFieldLocked(field, value)
}

func (p *Page) validateFieldLocked(field Field, value string) bool {
	if !field.Tracked() {
		return true
	}
	verr := p.validator.Check(field, value)
	if verr == nil {
		p.errors[field] = ""
		return true
	}
	p.errors[field] = verr.Message
	p.metrics.ObserveValidationFailure(string(field), string(verr.Kind))
	return false
}

// ValidateForm validates every tracked field against the current draft and
// overwrites all displayed errors.
func (p *Page) ValidateForm() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.validateFormLocked()
}

func (p *Page) validateFormLocked() bool {
	valid := true
	for _, f := range RequiredFields {
		if !p.validateFieldLocked(f, p.draft.Value(f)) {
			valid = false
		}
	}
	return valid
}

// IsFormValid drives the submit control: true when the draft derives no errors
// and none is displayed.
func (p *Page) IsFormValid() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isFormValidLocked()
}

func (p *Page) isFormValidLocked() bool {
	return !p.validator.Derive(p.draft).Any() && !p.errors.Any()
}

// Submit validates the whole draft and, when valid, creates the appointment.
// On success the form is closed and reset, the success notice shown and the
// list reloaded. On failure the form stays open and the alert carries the
// service message.
func (p *Page) Submit(ctx context.Context) (*Appointment, error) {
	ctx, span := pageTracer.Start(ctx, "appointments.page.submit",
		trace.WithAttributes(attribute.String("portal.patient_id", p.patient.ID)))
	defer span.End()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPageClosed
	}
	switch p.state {
	case FormSubmitting:
		p.mu.Unlock()
		p.metrics.ObserveSubmission("rejected")
		return nil, ErrSubmitInProgress
	case FormClosed:
		p.mu.Unlock()
		return nil, ErrFormClosed
	}
	if !p.validateFormLocked() {
		formErr := &FormError{Errors: p.errors.Clone()}
		p.mu.Unlock()
		p.metrics.ObserveSubmission("invalid")
		return nil, formErr
	}
	p.state = FormSubmitting
	p.alert = ""
	draft := p.draft
	// Retrying an unchanged draft reuses the key so the backend can drop a duplicate.
	if p.submitKey == "" || p.submitKeyGen != p.draftGen {
		p.submitKey = uuid.NewString()
		p.submitKeyGen = p.draftGen
	}
	key := p.submitKey
	p.mu.Unlock()

	callCtx, stop := p.bind(ctx)
	created, err := p.appts.Create(WithIdempotencyKey(callCtx, key), draft)
	stop()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPageClosed
	}
	if err != nil {
		p.state = FormEditing
		p.alert = AlertMessage(err, FallbackCreateMessage)
		p.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, "create appointment failed")
		p.metrics.ObserveSubmission("failed")
		p.logger.Error("failed to create appointment", "patient_id", p.patient.ID, "error", err)
		return nil, fmt.Errorf("appointments: create: %w", err)
	}
	p.resetFormLocked()
	gen := p.draftGen
	p.showNoticeLocked()
	p.mu.Unlock()

	p.metrics.ObserveSubmission("created")
	var createdID string
	if created != nil {
		createdID = created.ID
	}
	p.logger.Info("appointment booked", "patient_id", p.patient.ID, "appointment_id", createdID)

	p.forgetDraft(ctx, gen)
	p.Reload(ctx)
	return created, nil
}

// Cancel asks for confirmation and then requests the cancelled status for the
// appointment. Nothing is sent when the patient declines.
func (p *Page) Cancel(ctx context.Context, appointmentID string, confirm Confirmer) error {
	ctx, span := pageTracer.Start(ctx, "appointments.page.cancel")
	defer span.End()
	span.SetAttributes(
		attribute.String("portal.patient_id", p.patient.ID),
		attribute.String("portal.appointment_id", appointmentID),
	)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPageClosed
	}
	appt, ok := p.findLocked(appointmentID)
	p.mu.Unlock()
	if !ok {
		return ErrAppointmentNotFound
	}
	if !CanCancel(appt.Status) {
		p.metrics.ObserveCancellation("not_cancellable")
		return ErrNotCancellable
	}
	if confirm == nil || !confirm(ctx, appt) {
		p.metrics.ObserveCancellation("declined")
		return ErrCancelDeclined
	}

	p.mu.Lock()
	p.alert = ""
	p.mu.Unlock()

	callCtx, stop := p.bind(ctx)
	_, err := p.appts.UpdateStatus(callCtx, appointmentID, StatusCancelled)
	stop()
	if err != nil {
		p.mu.Lock()
		if !p.closed {
			p.alert = AlertMessage(err, FallbackCancelMessage)
		}
		p.mu.Unlock()
		span.RecordError(err)
		p.metrics.ObserveCancellation("failed")
		p.logger.Error("failed to cancel appointment", "patient_id", p.patient.ID, "appointment_id", appointmentID, "error", err)
		return fmt.Errorf("appointments: cancel: %w", err)
	}

	p.metrics.ObserveCancellation("cancelled")
	p.logger.Info("appointment cancelled", "patient_id", p.patient.ID, "appointment_id", appointmentID)
	p.Reload(ctx)
	return nil
}

// AcknowledgeAlert clears the alert once the patient has seen it.
func (p *Page) AcknowledgeAlert() {
	p.mu.Lock()
	p.alert = ""
	p.mu.Unlock()
}

// State returns the form lifecycle state.
func (p *Page) State() FormState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Draft returns a copy of the current draft.
func (p *Page) Draft() Draft {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draft
}

// Errors returns a copy of the displayed field errors.
func (p *Page) Errors() FieldErrors {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errors.Clone()
}

// NoticeVisible reports whether the success banner is showing.
func (p *Page) NoticeVisible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.noticeVisible
}

// Appointments returns the patient's appointments as last loaded.
func (p *Page) Appointments() []Appointment {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Appointment(nil), p.appointments...)
}

// Item renders a single appointment the way the list shows it.
func (p *Page) Item(a Appointment) AppointmentItem {
	return newItem(a, p.validator.loc)
}

// View renders the page.
func (p *Page) View() PageView {
	p.mu.Lock()
	defer p.mu.Unlock()

	view := PageView{
		Loading:      p.loading,
		Appointments: make([]AppointmentItem, 0, len(p.appointments)),
		FormState:    p.state,
		Alert:        p.alert,
	}
	for _, a := range p.appointments {
		view.Appointments = append(view.Appointments, newItem(a, p.validator.loc))
	}
	if len(view.Appointments) == 0 {
		view.EmptyMessage = EmptyListMessage
	}
	if p.noticeVisible {
		view.SuccessNotice = &Notice{Title: NoticeTitle, Detail: NoticeDetail}
	}
	if p.state == FormClosed {
		return view
	}

	submitting := p.state == FormSubmitting
	form := &FormView{
		Draft:         p.draft,
		Errors:        p.errors.Clone(),
		DoctorOptions: doctorOptions(p.doctorList),
		MinDate:       p.validator.Today().Format(DateLayout),
		HoursHint:     p.validator.HoursHint(),
		ReasonCounter: reasonCounter(p.draft.Reason, p.validator.MinReasonLength()),
		Submitting:    submitting,
		SubmitLabel:   SubmitLabel,
		SubmitEnabled: !submitting && p.isFormValidLocked(),
	}
	if submitting {
		form.SubmitLabel = SubmittingLabel
	}
	if p.errors.Any() {
		form.ErrorSummary = ErrorSummaryMessage
	}
	view.Form = form
	return view
}

// Close tears the page down: in-flight calls are cancelled, the notice timer
// stopped, and later completions no longer touch state.
func (p *Page) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.cancelLife()
	if p.noticeTimer != nil {
		p.noticeTimer.Stop()
		p.noticeTimer = nil
	}
}

// Closed reports whether Close has been called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// bind derives a context that is also cancelled when the page closes.
func (p *Page) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (p *Page) resetFormLocked() {
	p.state = FormClosed
	p.draft = Draft{}
	p.draftGen++
	p.submitKey = ""
	p.errors = NewFieldErrors()
}

// showNoticeLocked replaces any pending auto-clear so only the latest success counts.
func (p *Page) showNoticeLocked() {
	if p.noticeTimer != nil {
		p.noticeTimer.Stop()
	}
	p.noticeVisible = true
	p.noticeSeq++
	seq := p.noticeSeq
	p.noticeTimer = p.afterFunc(p.noticeDuration, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed || p.noticeSeq != seq {
			return
		}
		p.noticeVisible = false
		p.noticeTimer = nil
	})
}

func (p *Page) findLocked(id string) (Appointment, bool) {
	for _, a := range p.appointments {
		if a.ID == id {
			return a, true
		}
	}
	return Appointment{}, false
}

// saveDraft persists the draft of generation gen. It is skipped once the draft
// has moved on, so a save can never outlive the reset of a submitted form.
func (p *Page) saveDraft(ctx context.Context, gen uint64) {
	if p.drafts == nil {
		return
	}
	p.storeMu.Lock()
	defer p.storeMu.Unlock()

	p.mu.Lock()
	current := p.state != FormClosed && p.draftGen == gen
	draft := p.draft
	p.mu.Unlock()
	if !current {
		return
	}
	if err := p.drafts.Save(ctx, p.patient.ID, draft); err != nil {
		p.logger.Warn("failed to persist draft", "patient_id", p.patient.ID, "error", err)
	}
}

// forgetDraft deletes the stored draft after the reset that produced generation gen.
// A newer draft owns the store and is left alone.
func (p *Page) forgetDraft(ctx context.Context, gen uint64) {
	if p.drafts == nil {
		return
	}
	p.storeMu.Lock()
	defer p.storeMu.Unlock()

	p.mu.Lock()
	stale := p.draftGen != gen
	p.mu.Unlock()
	if stale {
		return
	}
	if err := p.drafts.Delete(ctx, p.patient.ID); err != nil {
		p.logger.Warn("failed to delete draft", "patient_id", p.patient.ID, "error", err)
	}
}
