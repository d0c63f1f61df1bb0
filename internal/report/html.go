// Package report exports alerts as CSV or self-contained HTML.
package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/ojulabs/oju/internal/store"
)

//go:embed templates/report.html
var templateFS embed.FS

var reportTmpl = template.Must(template.ParseFS(templateFS, "templates/report.html"))

// Generate renders alerts as a self-contained HTML report. Open alerts show
// their age relative to now; closed alerts show how long they were open.
func Generate(alerts []store.AlertView, now time.Time) ([]byte, error) {
	sorted := sortAlerts(alerts)

	var critCount, warnCount, infoCount, openCount int
	rows := make([]reportRow, 0, len(sorted))
	for i := range sorted {
		a := &sorted[i]
		switch a.Kind.Severity() {
		case store.SeverityCritical:
			critCount++
		case store.SeverityWarn:
			warnCount++
		default:
			infoCount++
		}
		if a.Status.Active() {
			openCount++
		}
		rows = append(rows, buildRow(a, now))
	}

	data := reportData{
		Generated:     now.UTC().Format("2006-01-02 15:04 UTC"),
		CriticalCount: critCount,
		WarnCount:     warnCount,
		InfoCount:     infoCount,
		OpenCount:     openCount,
		TotalCount:    len(sorted),
		Alerts:        rows,
	}

	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type reportData struct {
	Generated     string
	Alerts        []reportRow
	CriticalCount int
	WarnCount     int
	InfoCount     int
	OpenCount     int
	TotalCount    int
}

type reportRow struct {
	Severity      string
	SeverityLabel string
	Kind          string
	Platform      string
	Entity        string
	Status        string
	Opened        string
	Updated       string
	Duration      string
	Details       string
}

func buildRow(a *store.AlertView, now time.Time) reportRow {
	sev := a.Kind.Severity()

	var sevLabel string
	switch sev {
	case store.SeverityCritical:
		sevLabel = "CRITICAL"
	case store.SeverityWarn:
		sevLabel = "WARN"
	default:
		sevLabel = "INFO"
	}

	// Open alerts age against the report time; closed ones against their
	// last transition.
	end := now
	if !a.Status.Active() {
		end = a.UpdatedAt
	}

	return reportRow{
		Severity:      string(sev),
		SeverityLabel: sevLabel,
		Kind:          a.Kind.Display(),
		Platform:      a.PlatformURL,
		Entity:        a.EntityName,
		Status:        strings.ReplaceAll(string(a.Status), "_", " "),
		Opened:        a.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"),
		Updated:       a.UpdatedAt.UTC().Format("2006-01-02 15:04 UTC"),
		Duration:      formatDuration(a.CreatedAt, end),
		Details:       a.Details,
	}
}

func formatDuration(from, to time.Time) string {
	d := to.Sub(from)
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

func sortAlerts(alerts []store.AlertView) []store.AlertView {
	sorted := make([]store.AlertView, len(alerts))
	copy(sorted, alerts)

	sevOrder := map[store.Severity]int{
		store.SeverityCritical: 0,
		store.SeverityWarn:     1,
		store.SeverityInfo:     2,
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sevOrder[sorted[i].Kind.Severity()], sevOrder[sorted[j].Kind.Severity()]
		if si != sj {
			return si < sj
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	return sorted
}
