package notify

import (
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ojulabs/oju/internal/config"
	"github.com/ojulabs/oju/internal/store"
)

const dispatchQueueSize = 256

// Dispatcher routes alert lifecycle events to operator mail and the
// incident tracker. Deliveries run on a single background worker so probe
// loops never block on SMTP or the tracker.
type Dispatcher struct {
	mailer   *Mailer
	rtir     *RTIR
	settings *config.SettingsService

	jobs chan func()
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewDispatcher wires the delivery worker. mailer and rtir may be nil when
// unconfigured; the matching deliveries are skipped.
func NewDispatcher(mailer *Mailer, rtir *RTIR, settings *config.SettingsService) *Dispatcher {
	d := &Dispatcher{
		mailer:   mailer,
		rtir:     rtir,
		settings: settings,
		jobs:     make(chan func(), dispatchQueueSize),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for job := range d.jobs {
		job()
	}
}

// Close drains queued deliveries and stops the worker.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) enqueue(job func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		slog.Warn("notify: dispatcher closed, dropping delivery")
		return
	}
	select {
	case d.jobs <- job:
	default:
		slog.Warn("notify: delivery queue full, dropping delivery")
	}
}

// AlertCreated mails the analyst notice and files an incident ticket. The
// ticket is filed even when operator mail is turned off.
func (d *Dispatcher) AlertCreated(p *store.PlatformInfo, a *store.Alert) {
	pv, av := *p, *a
	d.enqueue(func() { d.deliverCreated(&pv, &av) })
}

func (d *Dispatcher) deliverCreated(p *store.PlatformInfo, a *store.Alert) {
	conf, ok := d.configuration()
	if !ok {
		return
	}

	subject := fmt.Sprintf("Oju Alert - %s - %s", a.Kind.Display(), p.URL)

	if d.mailer != nil && conf.NotifyEnabled && conf.NotificationEmail != "" {
		body, err := renderAlert(p, a)
		if err != nil {
			slog.Warn("notify: rendering alert mail", "err", err)
		} else if err := d.mailer.Send(&Message{
			Subject: subject,
			Body:    body,
			HTML:    true,
			To:      []string{conf.NotificationEmail},
		}); err != nil {
			slog.Warn("notify: alert mail failed", "platform", p.URL, "err", err)
		}
	}

	if d.rtir == nil {
		return
	}
	recipients := p.Recipients()
	id, err := d.rtir.CreateTicket(&Ticket{
		Subject:      subject,
		Text:         htmlDetails(a.Details),
		Requestors:   recipients,
		CC:           recipients,
		AdminCC:      adminCC(conf.NotificationEmail),
		Priority:     PriorityFor(a.Kind),
		Domain:       p.Domain.Name,
		ReporterType: "oju",
	})
	if err != nil {
		slog.Warn("notify: ticket creation failed", "platform", p.URL, "kind", a.Kind, "err", err)
		return
	}
	slog.Info("notify: ticket filed", "platform", p.URL, "kind", a.Kind, "ticket", id)
}

// AlertResolved mails the resolution notice to the operator.
func (d *Dispatcher) AlertResolved(p *store.PlatformInfo, a *store.Alert) {
	pv, av := *p, *a
	d.enqueue(func() { d.deliverResolved(&pv, &av) })
}

func (d *Dispatcher) deliverResolved(p *store.PlatformInfo, a *store.Alert) {
	if d.mailer == nil {
		return
	}
	conf, ok := d.configuration()
	if !ok || !conf.NotifyEnabled || conf.NotificationEmail == "" {
		return
	}

	var (
		subject string
		body    string
		err     error
	)
	if a.Kind == store.KindVirusTotal {
		subject = fmt.Sprintf("Oju Alert: VirusTotal issue resolved for %s", p.URL)
		body, err = renderVTResolved(p, a)
	} else {
		subject = fmt.Sprintf("Oju Alert: %s - %s Resolved", a.Kind.Display(), p.URL)
		body, err = renderResolved(p, a)
	}
	if err != nil {
		slog.Warn("notify: rendering resolve mail", "err", err)
		return
	}
	if err := d.mailer.Send(&Message{
		Subject: subject,
		Body:    body,
		HTML:    true,
		To:      []string{conf.NotificationEmail},
	}); err != nil {
		slog.Warn("notify: resolve mail failed", "platform", p.URL, "err", err)
	}
}

// VTDetection mails the operator the vendor breakdown behind a VirusTotal
// hit. The alert itself goes through the usual creation path.
func (d *Dispatcher) VTDetection(p *store.PlatformInfo, scanDate string, verdicts map[string][]string, vendors map[string]*store.VendorInfo) {
	pv := *p
	d.enqueue(func() { d.deliverVTDetection(&pv, scanDate, verdicts, vendors) })
}

func (d *Dispatcher) deliverVTDetection(p *store.PlatformInfo, scanDate string, verdicts map[string][]string, vendors map[string]*store.VendorInfo) {
	if d.mailer == nil {
		return
	}
	conf, ok := d.configuration()
	if !ok || !conf.NotifyEnabled || conf.NotificationEmail == "" {
		return
	}
	body, err := renderVTDetection(p, scanDate, verdicts, vendors)
	if err != nil {
		slog.Warn("notify: rendering detection mail", "err", err)
		return
	}
	if err := d.mailer.Send(&Message{
		Subject: fmt.Sprintf("Oju Alert: VirusTotal Detection for %s", p.URL),
		Body:    body,
		HTML:    true,
		To:      []string{conf.NotificationEmail},
	}); err != nil {
		slog.Warn("notify: detection mail failed", "platform", p.URL, "err", err)
	}
}

// SendDigest mails the consolidated run summary. Clean runs and disabled
// operator mail send nothing.
func (d *Dispatcher) SendDigest(dig *Digest) error {
	if d.mailer == nil || dig == nil || dig.Empty() {
		return nil
	}
	conf, ok := d.configuration()
	if !ok {
		return fmt.Errorf("loading settings for digest")
	}
	if !conf.NotifyEnabled || conf.NotificationEmail == "" {
		return nil
	}
	body, err := renderDigest(dig, time.Now())
	if err != nil {
		return fmt.Errorf("rendering digest: %w", err)
	}
	return d.mailer.Send(&Message{
		Subject: dig.Subject(),
		Body:    body,
		HTML:    true,
		To:      []string{conf.NotificationEmail},
	})
}

func (d *Dispatcher) configuration() (store.Configuration, bool) {
	settings, err := d.settings.Get()
	if err != nil {
		slog.Warn("notify: loading settings", "err", err)
		return store.Configuration{}, false
	}
	return settings.Configuration, true
}

// htmlDetails escapes alert details for the HTML-bearing ticket body.
func htmlDetails(details string) string {
	return strings.ReplaceAll(html.EscapeString(details), "\n", "<br>")
}

func adminCC(email string) []string {
	if email == "" {
		return nil
	}
	return []string{email}
}
