// Package web provides HTTP handlers for the oju status UI and API.
package web

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ojulabs/oju/internal/store"
)

//go:embed templates/status.html
var templateFS embed.FS

var statusTmpl = template.Must(template.ParseFS(templateFS, "templates/status.html"))

// AlertsFunc returns the open alerts to render.
type AlertsFunc func() ([]store.AlertView, error)

// PlatformsFunc returns the platform inventory.
type PlatformsFunc func() ([]store.PlatformInfo, error)

// LastRunFunc returns when the most recent run finished, zero if none has.
type LastRunFunc func() time.Time

// UIHandler serves the status page: open alerts sorted critical-first.
func UIHandler(getAlerts AlertsFunc, getLastRun LastRunFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		alerts, err := getAlerts()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		now := time.Now()

		sort.Slice(alerts, func(i, j int) bool {
			si, sj := sevOrder(alerts[i].Kind.Severity()), sevOrder(alerts[j].Kind.Severity())
			if si != sj {
				return si < sj
			}
			return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
		})

		var critCount, warnCount, infoCount int
		rows := make([]alertRow, 0, len(alerts))
		for i := range alerts {
			a := &alerts[i]
			sev := a.Kind.Severity()
			switch sev {
			case store.SeverityCritical:
				critCount++
			case store.SeverityWarn:
				warnCount++
			default:
				infoCount++
			}
			rows = append(rows, alertRow{
				Severity: strings.ToUpper(string(sev)),
				SevClass: string(sev),
				Kind:     a.Kind.Display(),
				Platform: a.PlatformURL,
				Entity:   a.EntityName,
				Age:      formatAge(a.CreatedAt, now),
				Opened:   a.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"),
				Details:  a.Details,
			})
		}

		data := pageData{
			Generated:     now.UTC().Format(time.RFC3339),
			LastRun:       formatLastRun(getLastRun()),
			CriticalCount: critCount,
			WarnCount:     warnCount,
			InfoCount:     infoCount,
			Alerts:        rows,
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := statusTmpl.Execute(w, data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// AlertsHandler returns the open alerts as JSON. ?kind= and ?severity= filter
// the set; both take comma-separated values and are ANDed together.
func AlertsHandler(getAlerts AlertsFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alerts, err := getAlerts()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		kinds := filterSet(r.URL.Query().Get("kind"))
		sevs := filterSet(r.URL.Query().Get("severity"))

		out := make([]store.AlertView, 0, len(alerts))
		for i := range alerts {
			a := &alerts[i]
			if kinds != nil && !kinds[string(a.Kind)] {
				continue
			}
			if sevs != nil && !sevs[string(a.Kind.Severity())] {
				continue
			}
			out = append(out, *a)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// PlatformsHandler returns the platform inventory as JSON.
func PlatformsHandler(getPlatforms PlatformsFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		platforms, err := getPlatforms()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(platforms); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// HealthzHandler reports liveness: 503 until the first run completes and,
// when maxAge is nonzero, whenever the last run is older than maxAge.
func HealthzHandler(getLastRun LastRunFunc, maxAge time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		last := getLastRun()
		if last.IsZero() {
			http.Error(w, "no monitoring run completed", http.StatusServiceUnavailable)
			return
		}
		if maxAge > 0 && time.Since(last) > maxAge {
			http.Error(w, fmt.Sprintf("last run %s ago", time.Since(last).Round(time.Second)), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok")) //nolint:errcheck // best-effort response
	}
}

type pageData struct {
	Generated     string
	LastRun       string
	CriticalCount int
	WarnCount     int
	InfoCount     int
	Alerts        []alertRow
}

type alertRow struct {
	Severity string
	SevClass string
	Kind     string
	Platform string
	Entity   string
	Age      string
	Opened   string
	Details  string
}

func sevOrder(s store.Severity) int {
	switch s {
	case store.SeverityCritical:
		return 0
	case store.SeverityWarn:
		return 1
	default:
		return 2
	}
}

func filterSet(q string) map[string]bool {
	if q == "" {
		return nil
	}
	set := map[string]bool{}
	for _, v := range strings.Split(q, ",") {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = true
		}
	}
	return set
}

// formatAge returns a compact alert age without terminal styling.
func formatAge(opened, now time.Time) string {
	d := now.Sub(opened)
	if d < 0 {
		d = 0
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
}

func formatLastRun(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
