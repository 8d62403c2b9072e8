// Package sessions keeps one booking page per signed-in patient alive between requests.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/patient-portal/internal/appointments"
	"github.com/wolfman30/patient-portal/internal/identity"
	"github.com/wolfman30/patient-portal/internal/observability/metrics"
	"github.com/wolfman30/patient-portal/pkg/logging"
)

// DefaultIdleTTL is how long an untouched page survives before Sweep closes it.
const DefaultIdleTTL = 30 * time.Minute

var (
	// ErrRegistryClosed is returned by Get after Close.
	ErrRegistryClosed = errors.New("sessions: registry closed")

	// ErrNoIdentity is returned when Get is called without a patient id.
	ErrNoIdentity = errors.New("sessions: patient identity required")
)

// Factory builds an unloaded page for a patient.
type Factory func(patient identity.Identity) (*appointments.Page, error)

// RegistryConfig wires a Registry.
type RegistryConfig struct {
	Factory Factory
	IdleTTL time.Duration
	Now     func() time.Time
	Metrics *metrics.BookingMetrics
	Logger  *logging.Logger
}

type entry struct {
	page     *appointments.Page
	lastSeen time.Time
}

// Registry maps patient ids to their live booking page.
type Registry struct {
	factory Factory
	idleTTL time.Duration
	now     func() time.Time
	metrics *metrics.BookingMetrics
	logger  *logging.Logger

	group singleflight.Group

	mu      sync.Mutex
	closed  bool
	entries map[string]*entry
}

// NewRegistry creates a page registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Factory == nil {
		return nil, errors.New("sessions: page factory required")
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Registry{
		factory: cfg.Factory,
		idleTTL: cfg.IdleTTL,
		now:     cfg.Now,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.Component("sessions"),
		entries: make(map[string]*entry),
	}, nil
}

// Get returns the patient's page, creating and loading it on first use.
// Concurrent first calls for the same patient share one page.
func (r *Registry) Get(ctx context.Context, patient identity.Identity) (*appointments.Page, error) {
	if !patient.Valid() {
		return nil, ErrNoIdentity
	}
	if page, ok, err := r.lookup(patient.ID); err != nil || ok {
		return page, err
	}

	v, err, _ := r.group.Do(patient.ID, func() (any, error) {
		if page, ok, err := r.lookup(patient.ID); err != nil || ok {
			return page, err
		}

		page, err := r.factory(patient)
		if err != nil {
			return nil, fmt.Errorf("sessions: build page: %w", err)
		}
		// The page outlives this request; only its values (the bearer token) carry over.
		page.Load(context.WithoutCancel(ctx))

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			page.Close()
			return nil, ErrRegistryClosed
		}
		r.entries[patient.ID] = &entry{page: page, lastSeen: r.now()}
		r.metrics.SetActivePages(len(r.entries))
		r.logger.Debug("booking page opened", "patient_id", patient.ID)
		return page, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*appointments.Page), nil
}

func (r *Registry) lookup(patientID string) (*appointments.Page, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, ErrRegistryClosed
	}
	e, ok := r.entries[patientID]
	if !ok {
		return nil, false, nil
	}
	if e.page.Closed() {
		delete(r.entries, patientID)
		r.metrics.SetActivePages(len(r.entries))
		return nil, false, nil
	}
	e.lastSeen = r.now()
	return e.page, true, nil
}

// Remove closes and forgets the patient's page. It reports whether one existed.
func (r *Registry) Remove(patientID string) bool {
	r.mu.Lock()
	e, ok := r.entries[patientID]
	if ok {
		delete(r.entries, patientID)
		r.metrics.SetActivePages(len(r.entries))
	}
	r.mu.Unlock()

	if ok {
		e.page.Close()
	}
	return ok
}

// Sweep closes pages idle for longer than the TTL and returns how many it closed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var expired []*appointments.Page
	for id, e := range r.entries {
		if e.lastSeen.Before(cutoff) || e.page.Closed() {
			expired = append(expired, e.page)
			delete(r.entries, id)
		}
	}
	r.metrics.SetActivePages(len(r.entries))
	r.mu.Unlock()

	for _, page := range expired {
		page.Close()
	}
	if len(expired) > 0 {
		r.logger.Info("closed idle booking pages", "count", len(expired))
	}
	return len(expired)
}

// Run sweeps on every interval tick until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Len returns the number of live pages.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close closes every page. Later Get calls fail with ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	pages := make([]*appointments.Page, 0, len(r.entries))
	for _, e := range r.entries {
		pages = append(pages, e.page)
	}
	r.entries = make(map[string]*entry)
	r.metrics.SetActivePages(0)
	r.mu.Unlock()

	for _, page := range pages {
		page.Close()
	}
}
