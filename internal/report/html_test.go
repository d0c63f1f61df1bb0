package report

import (
	"strings"
	"testing"
	"time"

	"github.com/ojulabs/oju/internal/store"
)

func TestGenerate_WithAlerts(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alerts := []store.AlertView{
		{
			Alert:       store.Alert{ID: 1, Kind: store.KindAvailability, Status: store.StatusNew, CreatedAt: now.Add(-3 * time.Hour), UpdatedAt: now.Add(-3 * time.Hour)},
			PlatformURL: "https://shop.example",
			EntityName:  "Shop",
		},
		{
			Alert:       store.Alert{ID: 2, Kind: store.KindSSLExpiring, Status: store.StatusResolved, CreatedAt: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-24 * time.Hour)},
			PlatformURL: "https://api.example",
			EntityName:  "API",
		},
		{
			Alert:       store.Alert{ID: 3, Kind: store.KindOther, Status: store.StatusInProgress, CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour)},
			PlatformURL: "https://news.example",
			EntityName:  "News",
		},
	}

	html, err := Generate(alerts, now)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	body := string(html)

	for _, want := range []string{
		"<!DOCTYPE html>",
		"alert report",
		"3 alerts (2 open)",
		"1 critical",
		"1 warning",
		"1 info",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected HTML to contain %q", want)
		}
	}

	for _, want := range []string{
		"https://shop.example",
		"https://api.example",
		"https://news.example",
		"Availability problem",
		"SSL Certificate expires soon",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected HTML to contain %q", want)
		}
	}
}

func TestGenerate_Empty(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	html, err := Generate(nil, now)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	body := string(html)
	if !strings.Contains(body, "No alerts in the reporting window.") {
		t.Error("expected empty report banner")
	}
	if !strings.Contains(body, "0 alerts (0 open)") {
		t.Error("expected zero counts")
	}
}

func TestGenerate_SortOrder(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alerts := []store.AlertView{
		{Alert: store.Alert{ID: 1, Kind: store.KindOther, Status: store.StatusNew, CreatedAt: now, UpdatedAt: now}, PlatformURL: "https://info.example", EntityName: "I"},
		{Alert: store.Alert{ID: 2, Kind: store.KindAvailability, Status: store.StatusNew, CreatedAt: now, UpdatedAt: now}, PlatformURL: "https://crit.example", EntityName: "C"},
		{Alert: store.Alert{ID: 3, Kind: store.KindDomainExpiring, Status: store.StatusNew, CreatedAt: now, UpdatedAt: now}, PlatformURL: "https://warn.example", EntityName: "W"},
	}

	html, err := Generate(alerts, now)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	body := string(html)
	critIdx := strings.Index(body, "https://crit.example")
	warnIdx := strings.Index(body, "https://warn.example")
	infoIdx := strings.Index(body, "https://info.example")

	if critIdx > warnIdx || warnIdx > infoIdx {
		t.Error("expected alerts sorted: critical, warn, info")
	}
}

func TestGenerate_DetailsShown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alerts := []store.AlertView{
		{
			Alert:       store.Alert{ID: 1, Kind: store.KindDefacement, Status: store.StatusNew, CreatedAt: now, UpdatedAt: now, Details: "Changes detected:\nContent Changes:\n- div#main removed"},
			PlatformURL: "https://shop.example",
			EntityName:  "Shop",
		},
	}

	html, err := Generate(alerts, now)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	if !strings.Contains(string(html), "div#main removed") {
		t.Error("expected alert details in report")
	}
}

func TestGenerate_ClosedAlertDuration(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	opened := now.Add(-10 * 24 * time.Hour)
	closed := opened.Add(77 * time.Hour)
	alerts := []store.AlertView{
		{
			Alert:       store.Alert{ID: 1, Kind: store.KindAvailability, Status: store.StatusResolved, CreatedAt: opened, UpdatedAt: closed},
			PlatformURL: "https://shop.example",
			EntityName:  "Shop",
		},
	}

	html, err := Generate(alerts, now)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	// Duration for a closed alert runs from open to its last transition,
	// not to the report time.
	if !strings.Contains(string(html), "3d 5h") {
		t.Error("expected closed alert duration of 3d 5h")
	}
}

func TestGenerate_StatusLabel(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alerts := []store.AlertView{
		{
			Alert:       store.Alert{ID: 1, Kind: store.KindVirusTotal, Status: store.StatusFalsePositive, CreatedAt: now, UpdatedAt: now},
			PlatformURL: "https://shop.example",
			EntityName:  "Shop",
		},
	}

	html, err := Generate(alerts, now)
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	if !strings.Contains(string(html), "false positive") {
		t.Error("expected human status label without underscore")
	}
}
