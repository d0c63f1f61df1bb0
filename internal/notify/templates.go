package notify

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"github.com/ojulabs/oju/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var mailTmpl = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// mailTimeFormat is the timestamp layout used in notification bodies.
const mailTimeFormat = "02/01/2006 at 15:04"

type alertMailData struct {
	AlertName   string
	SiteURL     string
	Details     string
	CreatedAt   string
	FocalPoints []store.FocalPoint
}

func renderAlert(p *store.PlatformInfo, a *store.Alert) (string, error) {
	return render("alert.html", alertMailData{
		AlertName:   a.Kind.Display(),
		SiteURL:     p.URL,
		Details:     a.Details,
		CreatedAt:   a.CreatedAt.Format(mailTimeFormat),
		FocalPoints: activeFocalPoints(p),
	})
}

type resolvedMailData struct {
	AlertName   string
	SiteURL     string
	CreatedAt   string
	ResolvedAt  string
	Details     string
	FocalPoints []store.FocalPoint
}

func renderResolved(p *store.PlatformInfo, a *store.Alert) (string, error) {
	return render("resolved.html", resolvedMailData{
		AlertName:  a.Kind.Display(),
		SiteURL:    p.URL,
		CreatedAt:  a.CreatedAt.Format(mailTimeFormat),
		ResolvedAt: a.UpdatedAt.Format(mailTimeFormat),
		Details:    a.Details,
	})
}

func renderVTResolved(p *store.PlatformInfo, a *store.Alert) (string, error) {
	return render("vt_resolved.html", resolvedMailData{
		SiteURL:     p.URL,
		CreatedAt:   a.CreatedAt.Format(mailTimeFormat),
		ResolvedAt:  a.UpdatedAt.Format(mailTimeFormat),
		Details:     a.Details,
		FocalPoints: activeFocalPoints(p),
	})
}

type vtDetectionData struct {
	SiteURL     string
	EntityName  string
	ScanDate    string
	Verdicts    map[string][]string
	Vendors     map[string]*store.VendorInfo
	FocalPoints []store.FocalPoint
}

func renderVTDetection(p *store.PlatformInfo, scanDate string, verdicts map[string][]string, vendors map[string]*store.VendorInfo) (string, error) {
	return render("vt_alert.html", vtDetectionData{
		SiteURL:     p.URL,
		EntityName:  p.Entity.Name,
		ScanDate:    scanDate,
		Verdicts:    verdicts,
		Vendors:     vendors,
		FocalPoints: activeFocalPoints(p),
	})
}

type issueData struct {
	AlertName  string
	SiteURL    string
	Details    string
	ObservedAt string
}

// RenderIssue renders the body stored with an alert at creation time. The
// orchestrator captures what the probe saw so later views of the alert
// reproduce the original observation, whatever the platform looks like now.
func RenderIssue(p *store.PlatformInfo, kind store.AlertKind, details string, at time.Time) (string, error) {
	return render("issue.html", issueData{
		AlertName:  kind.Display(),
		SiteURL:    p.URL,
		Details:    details,
		ObservedAt: at.Format(mailTimeFormat),
	})
}

type digestMailData struct {
	Sections       []DigestSection
	TotalPlatforms int
	Affected       int
	ReportDate     string
}

func renderDigest(d *Digest, at time.Time) (string, error) {
	return render("digest.html", digestMailData{
		Sections:       d.Sections(),
		TotalPlatforms: d.Total(),
		Affected:       d.Affected(),
		ReportDate:     at.Format(mailTimeFormat),
	})
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := mailTmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func activeFocalPoints(p *store.PlatformInfo) []store.FocalPoint {
	var out []store.FocalPoint
	for i := range p.FocalPoints {
		if p.FocalPoints[i].IsActive {
			out = append(out, p.FocalPoints[i])
		}
	}
	return out
}
