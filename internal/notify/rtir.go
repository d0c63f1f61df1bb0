package notify

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ojulabs/oju/internal/config"
	"github.com/ojulabs/oju/internal/store"
)

const (
	rtirTimeout  = 10 * time.Second
	rtirDue      = 7 * 24 * time.Hour
	rtirBodyMax  = 1 << 16
	defaultQueue = "Incident Reports"
)

// Priority is an RT ticket priority label.
type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityNormal   Priority = "Normal"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// Value returns the numeric priority RT stores. Unknown labels map to
// Normal.
func (p Priority) Value() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 50
	case PriorityCritical:
		return 100
	default:
		return 10
	}
}

// PriorityFor maps an alert kind to a ticket priority. Outage-class kinds
// are filed High, expiry warnings Normal.
func PriorityFor(kind store.AlertKind) Priority {
	switch kind {
	case store.KindAvailability, store.KindSSL, store.KindDomainUnavailable, store.KindVirusTotal:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// Ticket is one incident to file with the tracker.
type Ticket struct {
	Subject      string
	Text         string
	Requestors   []string
	CC           []string
	AdminCC      []string
	Priority     Priority
	IP           string
	Domain       string
	ReporterType string
}

// RTIR files tickets over RT's REST 1.0 interface. Login establishes a
// session cookie that is reused until the tracker rejects it.
type RTIR struct {
	base   string
	user   string
	pass   string
	queue  string
	client *http.Client
	now    func() time.Time

	mu     sync.Mutex
	authed bool
}

// NewRTIR creates a client from tracker config. Returns nil if no URL is
// configured.
func NewRTIR(cfg config.RTIRConfig) *RTIR {
	if cfg.URL == "" {
		return nil
	}
	jar, _ := cookiejar.New(nil)
	queue := cfg.Queue
	if queue == "" {
		queue = defaultQueue
	}
	return &RTIR{
		base:   strings.TrimRight(cfg.URL, "/"),
		user:   cfg.Username,
		pass:   cfg.Password,
		queue:  queue,
		client: &http.Client{Timeout: rtirTimeout, Jar: jar},
		now:    time.Now,
	}
}

// CreateTicket files t and returns the new ticket's id.
func (r *RTIR) CreateTicket(t *Ticket) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.authed {
		if err := r.login(); err != nil {
			return 0, err
		}
		r.authed = true
	}

	body, err := r.postForm(r.base+"/REST/1.0/ticket/new", url.Values{"content": {r.payload(t)}})
	if err != nil {
		return 0, fmt.Errorf("rtir ticket: %w", err)
	}
	if !strings.Contains(body, "200 Ok") {
		// The session may have lapsed; force a fresh login next time.
		r.authed = false
		return 0, fmt.Errorf("rtir ticket: %s", firstLine(body))
	}
	id := parseTicketID(body)
	if id == 0 {
		return 0, fmt.Errorf("rtir ticket: no ticket id in %q", firstLine(body))
	}
	slog.Debug("rtir: ticket created", "id", id, "subject", t.Subject)
	return id, nil
}

// login authenticates against the tracker. RT reports the outcome in the
// response body, not the HTTP status.
func (r *RTIR) login() error {
	body, err := r.postForm(r.base+"/REST/1.0/login", url.Values{"user": {r.user}, "pass": {r.pass}})
	if err != nil {
		return fmt.Errorf("rtir login: %w", err)
	}
	if !strings.Contains(body, "200 Ok") {
		return fmt.Errorf("rtir login: %s", firstLine(body))
	}
	return nil
}

func (r *RTIR) postForm(rawURL string, form url.Values) (string, error) {
	resp, err := r.client.PostForm(rawURL, form) //nolint:noctx // deliveries run on the dispatch worker
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck // read-only close
	b, err := io.ReadAll(io.LimitReader(resp.Body, rtirBodyMax))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	return string(b), nil
}

// payload renders the ticket in RT's key: value wire format. Multi-line
// values fold with a leading space on continuation lines.
func (r *RTIR) payload(t *Ticket) string {
	var b strings.Builder
	b.WriteString("id: new\n")
	fmt.Fprintf(&b, "Queue: %s\n", r.queue)
	fmt.Fprintf(&b, "Subject: %s\n", t.Subject)
	fmt.Fprintf(&b, "Text: %s\n", foldValue(t.Text))
	fmt.Fprintf(&b, "Priority: %d\n", t.Priority.Value())
	b.WriteString("Status: new\n")
	fmt.Fprintf(&b, "Due: %s\n", r.now().Add(rtirDue).Format("2006-01-02 15:04:05"))
	b.WriteString("How Reported: REST\n")
	if len(t.Requestors) > 0 {
		fmt.Fprintf(&b, "Requestor: %s\n", strings.Join(t.Requestors, ", "))
	}
	if len(t.CC) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(t.CC, ", "))
	}
	if len(t.AdminCC) > 0 {
		fmt.Fprintf(&b, "AdminCc: %s\n", strings.Join(t.AdminCC, ", "))
	}
	if t.IP != "" {
		fmt.Fprintf(&b, "CF-IP: %s\n", t.IP)
	}
	if t.Domain != "" {
		fmt.Fprintf(&b, "CF-Domain: %s\n", t.Domain)
	}
	if t.ReporterType != "" {
		fmt.Fprintf(&b, "CF-Reporter Type: %s\n", t.ReporterType)
	}
	return b.String()
}

func foldValue(s string) string {
	return strings.ReplaceAll(s, "\n", "\n ")
}

var ticketIDRe = regexp.MustCompile(`# Ticket (\d+) created`)

func parseTicketID(body string) int {
	m := ticketIDRe.FindStringSubmatch(body)
	if m == nil {
		return 0
	}
	id, _ := strconv.Atoi(m[1])
	return id
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
