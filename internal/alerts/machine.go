// Package alerts owns the alert lifecycle: deduplicated creation, a
// once-per-day guard for expiry notices, and resolution when a probe goes
// green again. Probes never talk to the alerts table directly; they report
// observations here and the machine decides whether a row changes.
package alerts

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ojulabs/oju/internal/store"
)

// Notifier receives lifecycle events for alerts the machine actually
// transitioned. Implementations must return promptly; delivery happens
// elsewhere.
type Notifier interface {
	AlertCreated(p *store.PlatformInfo, a *store.Alert)
	AlertResolved(p *store.PlatformInfo, a *store.Alert)
}

// Machine applies probe observations to the alerts table while holding the
// at-most-one-active-alert-per-(platform, kind) invariant. It only ever
// creates alerts in status new and resolves them; operator transitions
// (in_progress, false_positive) happen through the store directly.
type Machine struct {
	store    *store.Store
	notifier Notifier
	now      func() time.Time
}

// NewMachine wires the store to a notifier. A nil notifier records
// transitions without emitting anything, which the one-shot commands use.
func NewMachine(st *store.Store, n Notifier) *Machine {
	return &Machine{store: st, notifier: n, now: time.Now}
}

// Report opens an alert for the key unless one is already active. The
// template is rendered by the caller at observation time and stored with the
// alert so later notifications reproduce what the probe saw. Returns whether
// a new alert was created.
func (m *Machine) Report(p *store.PlatformInfo, kind store.AlertKind, details, template string) (bool, error) {
	now := m.now()
	a := &store.Alert{
		EntityID:   p.Entity.ID,
		PlatformID: p.ID,
		Kind:       kind,
		Status:     store.StatusNew,
		Details:    details,
		Template:   template,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	created, err := m.store.CreateAlert(a)
	if err != nil {
		return false, fmt.Errorf("reporting %s alert for %s: %w", kind, p.URL, err)
	}
	if !created {
		return false, nil
	}
	slog.Info("alert opened", "kind", kind, "platform", p.URL)
	if m.notifier != nil {
		m.notifier.AlertCreated(p, a)
	}
	return true, nil
}

// ReportDaily is Report with an extra guard: skip when an active alert for
// the key was already created during the current UTC day. Expiry notices use
// this so each threshold day produces at most one alert however often the
// monitor runs. An active alert carried over from a previous day still
// blocks creation; the invariant outranks the daily refresh.
func (m *Machine) ReportDaily(p *store.PlatformInfo, kind store.AlertKind, details, template string) (bool, error) {
	existing, err := m.store.ActiveAlertSince(p.ID, kind, startOfDayUTC(m.now()))
	if err != nil {
		return false, fmt.Errorf("checking today's %s alert for %s: %w", kind, p.URL, err)
	}
	if existing != nil {
		return false, nil
	}
	return m.Report(p, kind, details, template)
}

// Resolve closes the most recent active alert for the key. Returns the
// resolved alert, or nil when nothing was open.
func (m *Machine) Resolve(p *store.PlatformInfo, kind store.AlertKind) (*store.Alert, error) {
	a, err := m.store.ResolveAlert(p.ID, kind, m.now())
	if err != nil {
		return nil, fmt.Errorf("resolving %s alert for %s: %w", kind, p.URL, err)
	}
	if a == nil {
		return nil, nil
	}
	slog.Info("alert resolved", "kind", kind, "platform", p.URL)
	if m.notifier != nil {
		m.notifier.AlertResolved(p, a)
	}
	return a, nil
}

// CheckActive reports whether the key has an open alert.
func (m *Machine) CheckActive(platformID int64, kind store.AlertKind) (bool, error) {
	a, err := m.store.ActiveAlert(platformID, kind)
	if err != nil {
		return false, err
	}
	return a != nil, nil
}

// CheckActiveToday reports whether the key has an open alert created during
// the current UTC day.
func (m *Machine) CheckActiveToday(platformID int64, kind store.AlertKind) (bool, error) {
	a, err := m.store.ActiveAlertSince(platformID, kind, startOfDayUTC(m.now()))
	if err != nil {
		return false, err
	}
	return a != nil, nil
}

// startOfDayUTC returns midnight of t's UTC day.
func startOfDayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
