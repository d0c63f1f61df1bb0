package store

import "time"

// AlertKind labels the category of an alert. The string values are wire
// stable: they appear in stored rows, templates, and tickets, and keep the
// spellings earlier releases shipped with.
type AlertKind string

const (
	KindSSL               AlertKind = "ssl"
	KindSSLExpiring       AlertKind = "ssl_expiredSoon"
	KindDomainUnavailable AlertKind = "domain_unvailable"
	KindDomainExpiring    AlertKind = "domain_expiredSoon"
	KindDefacement        AlertKind = "defacement"
	KindAvailability      AlertKind = "availability"
	KindVirusTotal        AlertKind = "vt"
	KindOther             AlertKind = "other"
)

// Display returns the human-readable label used in mail subjects and tickets.
func (k AlertKind) Display() string {
	switch k {
	case KindSSL:
		return "SSL Problem"
	case KindSSLExpiring:
		return "SSL Certificate expires soon"
	case KindDomainUnavailable:
		return "Domain availability issue"
	case KindDomainExpiring:
		return "The domain expires soon"
	case KindDefacement:
		return "Defacement"
	case KindAvailability:
		return "Availability problem"
	case KindVirusTotal:
		return "Flagged on VirusTotal"
	default:
		return "Other"
	}
}

// Severity classifies how urgent an alert kind is for dashboards and metrics.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// Severity maps the kind to a display severity. Outage-class kinds are
// critical; expiry warnings are warn.
func (k AlertKind) Severity() Severity {
	switch k {
	case KindSSL, KindDomainUnavailable, KindDefacement, KindAvailability, KindVirusTotal:
		return SeverityCritical
	case KindSSLExpiring, KindDomainExpiring:
		return SeverityWarn
	default:
		return SeverityInfo
	}
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	StatusNew           AlertStatus = "new"
	StatusInProgress    AlertStatus = "in_progress"
	StatusResolved      AlertStatus = "resolved"
	StatusFalsePositive AlertStatus = "false_positive"
)

// Active reports whether the status counts as open for deduplication.
func (s AlertStatus) Active() bool {
	return s == StatusNew || s == StatusInProgress
}

// Entity is an organization owning one or more platforms. Rows are managed
// by the CRUD surface; the engine only reads them.
type Entity struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// FocalPoint is a human contact attached to an entity. Active focal points
// receive alert and digest mail for their entity's platforms.
type FocalPoint struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	IsActive bool   `json:"isActive"`
}

// Domain carries per-host scan state shared by all platforms on that host.
type Domain struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	LastScanAt    time.Time `json:"lastScanAt,omitzero"`
	LastSSLScanAt time.Time `json:"lastSslScanAt,omitzero"`
	SSLIssue      bool      `json:"sslIssue"`
	DomainIssue   bool      `json:"domainIssue"`
	ResolvedIP    string    `json:"resolvedIp,omitempty"`
}

// Platform is a monitored URL. The engine owns only ScreenshotPath.
type Platform struct {
	ID             int64  `json:"id"`
	URL            string `json:"url"`
	EntityID       int64  `json:"entityId"`
	DomainID       int64  `json:"domainId"`
	IsActive       bool   `json:"isActive"`
	ScreenshotPath string `json:"screenshotPath,omitempty"`
}

// PlatformInfo is a platform with its entity, domain, and recipient roster
// preloaded, in the shape the orchestrator consumes.
type PlatformInfo struct {
	Platform
	Entity      Entity       `json:"entity"`
	Domain      Domain       `json:"domain"`
	FocalPoints []FocalPoint `json:"focalPoints,omitempty"`
}

// Recipients returns the active focal point email addresses.
func (p *PlatformInfo) Recipients() []string {
	var out []string
	for i := range p.FocalPoints {
		if p.FocalPoints[i].IsActive {
			out = append(out, p.FocalPoints[i].Email)
		}
	}
	return out
}

// Alert is one observed issue on a (platform, kind) key. At most one alert
// per key is in a non-terminal status at any time.
type Alert struct {
	ID         int64       `json:"id"`
	EntityID   int64       `json:"entityId"`
	PlatformID int64       `json:"platformId"`
	Kind       AlertKind   `json:"kind"`
	Status     AlertStatus `json:"status"`
	Details    string      `json:"details,omitempty"`
	Template   string      `json:"-"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// AlertView joins an alert with its platform and entity for display.
type AlertView struct {
	Alert
	PlatformURL string `json:"platformUrl"`
	EntityName  string `json:"entityName"`
}

// DefacementRecord holds the trusted baseline capture for a platform and the
// most recent capture compared against it.
type DefacementRecord struct {
	ID               int64     `json:"id"`
	PlatformID       int64     `json:"platformId"`
	BaselineCapture  []byte    `json:"-"`
	LastCapture      []byte    `json:"-"`
	BaselineTreeText string    `json:"baselineTreeText,omitempty"`
	LastTreeText     string    `json:"lastTreeText,omitempty"`
	IsDefaced        bool      `json:"isDefaced"`
	Details          string    `json:"details,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// ScanConfig holds the global probe toggles, stored as a single row.
type ScanConfig struct {
	SSLEnabled        bool
	DomainEnabled     bool
	DefacementEnabled bool
	HTTPEnabled       bool
	SSLCheckError     bool
	SSLCheckExpiry    bool
	DomainCheckWhois  bool
	DomainCheckDNS    bool
	DomainCheckExpiry bool
	SizeTolerance     int64
	HTTPMaxResponseMS int
	VTEnabled         bool
	VTAPIKey          string
	VTFrequencyS      int
}

// Configuration holds operator-tunable engine settings, stored as a single
// row. Proxies, DNS servers, and the defacement whitelist live in their own
// tables and are loaded alongside.
type Configuration struct {
	NotificationEmail         string
	NotifyEnabled             bool
	UseProxy                  bool
	FallbackDirectOnProxyFail bool
	UserAgent                 string
	ScanFrequencyS            int
	MaxWorkers                int
}

// Task is one row of the periodic schedule registry.
type Task struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Enabled  bool          `json:"enabled"`
}

// VendorInfo describes an antivirus vendor flagged by a URL scan. InDatabase
// is false for the placeholder returned when the vendor is unknown.
type VendorInfo struct {
	Name       string `json:"name"`
	Contact    string `json:"contact,omitempty"`
	Comments   string `json:"comments,omitempty"`
	InDatabase bool   `json:"inDatabase"`
}
