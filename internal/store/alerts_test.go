package store

import (
	"errors"
	"testing"
	"time"
)

func newAlert(p *PlatformInfo, kind AlertKind, at time.Time) *Alert {
	return &Alert{
		EntityID:   p.EntityID,
		PlatformID: p.ID,
		Kind:       kind,
		Details:    "details",
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

func TestCreateAlertDeduplicatesActiveKey(t *testing.T) {
	st := openStore(t)
	p := seedPlatform(t, st, "Acme", "https://acme.example", "acme.example")
	at := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	a := newAlert(p, KindSSL, at)
	created, err := st.CreateAlert(a)
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}
	if !created {
		t.Fatal("first create should insert")
	}
	if a.ID == 0 {
		t.Error("create should backfill the alert id")
	}
	if a.Status != StatusNew {
		t.Errorf("status = %s, want new", a.Status)
	}

	created, err = st.CreateAlert(newAlert(p, KindSSL, at.Add(time.Hour)))
	if err != nil {
		t.Fatalf("create duplicate: %v", err)
	}
	if created {
		t.Error("second create on an open key should be suppressed")
	}

	if _, err := st.ResolveAlert(p.ID, KindSSL, at.Add(2*time.Hour)); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	created, err = st.CreateAlert(newAlert(p, KindSSL, at.Add(3*time.Hour)))
	if err != nil {
		t.Fatalf("create after resolve: %v", err)
	}
	if !created {
		t.Error("a resolved key should accept a fresh alert")
	}
}

func TestCreateAlertDistinctKindsCoexist(t *testing.T) {
	st := openStore(t)
	p := seedPlatform(t, st, "Acme", "https://acme.example", "acme.example")
	at := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	for _, kind := range []AlertKind{KindSSL, KindAvailability, KindDefacement} {
		created, err := st.CreateAlert(newAlert(p, kind, at))
		if err != nil {
			t.Fatalf("create %s: %v", kind, err)
		}
		if !created {
			t.Errorf("kind %s should open independently", kind)
		}
	}

	views, err := st.ActiveAlerts()
	if err != nil {
		t.Fatalf("active alerts: %v", err)
	}
	if len(views) != 3 {
		t.Errorf("expected 3 open alerts, got %d", len(views))
	}
}

func TestResolveAlertNothingOpen(t *testing.T) {
	st := openStore(t)
	p := seedPlatform(t, st, "Acme", "https://acme.example", "acme.example")

	resolved, err := st.ResolveAlert(p.ID, KindSSL, time.Now())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved != nil {
		t.Errorf("expected nil when nothing is open, got %+v", resolved)
	}
}

func TestSetAlertStatusLifecycle(t *testing.T) {
	st := openStore(t)
	p := seedPlatform(t, st, "Acme", "https://acme.example", "acme.example")
	at := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	a := newAlert(p, KindAvailability, at)
	if _, err := st.CreateAlert(a); err != nil {
		t.Fatalf("create alert: %v", err)
	}

	if err := st.SetAlertStatus(a.ID, StatusInProgress, at.Add(time.Hour)); err != nil {
		t.Fatalf("set in_progress: %v", err)
	}
	open, err := st.ActiveAlert(p.ID, KindAvailability)
	if err != nil {
		t.Fatalf("active alert: %v", err)
	}
	if open == nil || open.Status != StatusInProgress {
		t.Fatalf("in_progress alert should still be open, got %+v", open)
	}
	created, err := st.CreateAlert(newAlert(p, KindAvailability, at.Add(time.Hour)))
	if err != nil {
		t.Fatalf("create while acknowledged: %v", err)
	}
	if created {
		t.Error("in_progress should still suppress duplicates")
	}

	if err := st.SetAlertStatus(a.ID, StatusFalsePositive, at.Add(2*time.Hour)); err != nil {
		t.Fatalf("set false_positive: %v", err)
	}
	open, err = st.ActiveAlert(p.ID, KindAvailability)
	if err != nil {
		t.Fatalf("active alert: %v", err)
	}
	if open != nil {
		t.Errorf("false_positive should close the key, got %+v", open)
	}

	if err := st.SetAlertStatus(9999, StatusResolved, at); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing alert id: err = %v, want ErrNotFound", err)
	}
}

func TestActiveAlertSinceCutoff(t *testing.T) {
	st := openStore(t)
	p := seedPlatform(t, st, "Acme", "https://acme.example", "acme.example")
	at := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	if _, err := st.CreateAlert(newAlert(p, KindDomainExpiring, at)); err != nil {
		t.Fatalf("create alert: %v", err)
	}

	hit, err := st.ActiveAlertSince(p.ID, KindDomainExpiring, at.Add(-time.Hour))
	if err != nil {
		t.Fatalf("since before creation: %v", err)
	}
	if hit == nil {
		t.Error("cutoff before creation should find the alert")
	}

	miss, err := st.ActiveAlertSince(p.ID, KindDomainExpiring, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("since after creation: %v", err)
	}
	if miss != nil {
		t.Errorf("cutoff after creation should find nothing, got %+v", miss)
	}
}

func TestActiveAlertsJoinsNewestFirst(t *testing.T) {
	st := openStore(t)
	p1 := seedPlatform(t, st, "Acme", "https://acme.example", "acme.example")
	p2 := seedPlatform(t, st, "Globex", "https://globex.example", "globex.example")
	at := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	if _, err := st.CreateAlert(newAlert(p1, KindSSL, at)); err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := st.CreateAlert(newAlert(p2, KindAvailability, at.Add(time.Hour))); err != nil {
		t.Fatalf("create second: %v", err)
	}

	views, err := st.ActiveAlerts()
	if err != nil {
		t.Fatalf("active alerts: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(views))
	}
	if views[0].PlatformURL != "https://globex.example" {
		t.Errorf("newest alert should come first, got %s", views[0].PlatformURL)
	}
	if views[0].EntityName != "Globex" || views[1].EntityName != "Acme" {
		t.Errorf("entity names not joined: %s, %s", views[0].EntityName, views[1].EntityName)
	}
}

func TestAlertsSinceIncludesResolved(t *testing.T) {
	st := openStore(t)
	p := seedPlatform(t, st, "Acme", "https://acme.example", "acme.example")
	at := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	if _, err := st.CreateAlert(newAlert(p, KindSSL, at)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.ResolveAlert(p.ID, KindSSL, at.Add(time.Hour)); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := st.CreateAlert(newAlert(p, KindAvailability, at.Add(2*time.Hour))); err != nil {
		t.Fatalf("create second: %v", err)
	}

	all, err := st.AlertsSince(at)
	if err != nil {
		t.Fatalf("alerts since: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both alerts in window, got %d", len(all))
	}
	var sawResolved bool
	for i := range all {
		if all[i].Status == StatusResolved {
			sawResolved = true
		}
	}
	if !sawResolved {
		t.Error("window should include resolved alerts")
	}

	later, err := st.AlertsSince(at.Add(90 * time.Minute))
	if err != nil {
		t.Fatalf("alerts since later cutoff: %v", err)
	}
	if len(later) != 1 || later[0].Kind != KindAvailability {
		t.Errorf("late cutoff should keep only the newer alert, got %+v", later)
	}
}
