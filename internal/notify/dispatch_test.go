package notify

import (
	"net/smtp"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ojulabs/oju/internal/config"
	"github.com/ojulabs/oju/internal/store"
)

func testTime() time.Time {
	return time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC)
}

type sentMail struct {
	subject string
	body    string
	to      []string
}

// capturingMailer swaps the SMTP call for an in-memory capture.
type capturingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func newCapturingMailer(c *capturingMailer) *Mailer {
	m := NewMailer(config.SMTPConfig{Host: "smtp.test", Port: 587, From: "oju@test"}, nil)
	m.sleep = func(time.Duration) {}
	m.send = func(_ string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		raw := string(msg)
		subject := ""
		for _, line := range strings.Split(raw, "\r\n") {
			if strings.HasPrefix(line, "Subject: ") {
				subject = strings.TrimPrefix(line, "Subject: ")
				break
			}
		}
		c.sent = append(c.sent, sentMail{subject: subject, body: raw, to: to})
		return nil
	}
	return m
}

func (c *capturingMailer) mails() []sentMail {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentMail, len(c.sent))
	copy(out, c.sent)
	return out
}

// openDispatchStore seeds a database with notifications switched on.
func openDispatchStore(t *testing.T) (*store.Store, *config.SettingsService) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "oju.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	conf, err := st.LoadConfiguration()
	if err != nil {
		t.Fatalf("loading configuration: %v", err)
	}
	conf.NotificationEmail = "soc@oju.example"
	conf.NotifyEnabled = true
	if err := st.SaveConfiguration(conf); err != nil {
		t.Fatalf("saving configuration: %v", err)
	}
	return st, config.NewSettingsService(st, time.Hour)
}

func dispatchPlatform(t *testing.T, st *store.Store) *store.PlatformInfo {
	t.Helper()
	p, err := st.AddPlatform("Acme", "https://acme.example", "acme.example")
	if err != nil {
		t.Fatalf("adding platform: %v", err)
	}
	if err := st.AddFocalPoint(p.EntityID, "Alice", "alice@acme.example"); err != nil {
		t.Fatalf("adding focal point: %v", err)
	}
	refreshed, err := st.PlatformByURL("https://acme.example")
	if err != nil {
		t.Fatalf("reloading platform: %v", err)
	}
	return refreshed
}

func testAlert(p *store.PlatformInfo, kind store.AlertKind) *store.Alert {
	return &store.Alert{
		ID:         1,
		EntityID:   p.EntityID,
		PlatformID: p.ID,
		Kind:       kind,
		Status:     store.StatusNew,
		Details:    "handshake failed\ncertificate expired",
		CreatedAt:  testTime(),
		UpdatedAt:  testTime(),
	}
}

func TestDispatcher_AlertCreatedMailsAndFilesTicket(t *testing.T) {
	st, settings := openDispatchStore(t)
	p := dispatchPlatform(t, st)

	var tickets []string
	srv := fakeRT(t, &tickets)
	defer srv.Close()

	capture := &capturingMailer{}
	d := NewDispatcher(newCapturingMailer(capture), testRTIR(srv.URL), settings)

	d.AlertCreated(p, testAlert(p, store.KindSSL))
	d.Close()

	mails := capture.mails()
	if len(mails) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(mails))
	}
	if mails[0].subject != "Oju Alert - SSL Problem - https://acme.example" {
		t.Errorf("subject = %q", mails[0].subject)
	}
	if len(mails[0].to) != 1 || mails[0].to[0] != "soc@oju.example" {
		t.Errorf("recipients = %v, want operator address", mails[0].to)
	}
	if !strings.Contains(mails[0].body, "Alice") {
		t.Error("mail body should list the focal point roster")
	}

	if len(tickets) != 1 {
		t.Fatalf("expected 1 ticket, got %d", len(tickets))
	}
	payload := tickets[0]
	for _, want := range []string{
		"Subject: Oju Alert - SSL Problem - https://acme.example\n",
		"Priority: 50\n",
		"Requestor: alice@acme.example\n",
		"AdminCc: soc@oju.example\n",
		"CF-Domain: acme.example\n",
		"CF-Reporter Type: oju\n",
		"Text: handshake failed<br>certificate expired\n",
	} {
		if !strings.Contains(payload, want) {
			t.Errorf("ticket missing %q:\n%s", want, payload)
		}
	}
}

func TestDispatcher_TicketFiledEvenWhenMailOff(t *testing.T) {
	st, settings := openDispatchStore(t)
	conf, _ := st.LoadConfiguration() //nolint:errcheck // seeded row always loads
	conf.NotifyEnabled = false
	if err := st.SaveConfiguration(conf); err != nil {
		t.Fatalf("saving configuration: %v", err)
	}
	settings.Invalidate()
	p := dispatchPlatform(t, st)

	var tickets []string
	srv := fakeRT(t, &tickets)
	defer srv.Close()

	capture := &capturingMailer{}
	d := NewDispatcher(newCapturingMailer(capture), testRTIR(srv.URL), settings)

	d.AlertCreated(p, testAlert(p, store.KindAvailability))
	d.Close()

	if got := len(capture.mails()); got != 0 {
		t.Errorf("expected no mail with notifications off, got %d", got)
	}
	if len(tickets) != 1 {
		t.Errorf("ticket must be filed regardless of mail setting, got %d", len(tickets))
	}
}

func TestDispatcher_AlertResolvedSubjects(t *testing.T) {
	st, settings := openDispatchStore(t)
	p := dispatchPlatform(t, st)

	capture := &capturingMailer{}
	d := NewDispatcher(newCapturingMailer(capture), nil, settings)

	d.AlertResolved(p, testAlert(p, store.KindAvailability))
	d.AlertResolved(p, testAlert(p, store.KindVirusTotal))
	d.Close()

	mails := capture.mails()
	if len(mails) != 2 {
		t.Fatalf("expected 2 mails, got %d", len(mails))
	}
	if mails[0].subject != "Oju Alert: Availability problem - https://acme.example Resolved" {
		t.Errorf("resolve subject = %q", mails[0].subject)
	}
	if mails[1].subject != "Oju Alert: VirusTotal issue resolved for https://acme.example" {
		t.Errorf("vt resolve subject = %q", mails[1].subject)
	}
	if !strings.Contains(mails[0].body, "02/06/2025 at 10:30") {
		t.Error("resolve mail should carry the open/resolve timestamps")
	}
}

func TestDispatcher_ResolveSkippedWhenMailOff(t *testing.T) {
	st, settings := openDispatchStore(t)
	conf, _ := st.LoadConfiguration() //nolint:errcheck // seeded row always loads
	conf.NotifyEnabled = false
	if err := st.SaveConfiguration(conf); err != nil {
		t.Fatalf("saving configuration: %v", err)
	}
	settings.Invalidate()
	p := dispatchPlatform(t, st)

	capture := &capturingMailer{}
	d := NewDispatcher(newCapturingMailer(capture), nil, settings)

	d.AlertResolved(p, testAlert(p, store.KindSSL))
	d.Close()

	if got := len(capture.mails()); got != 0 {
		t.Errorf("expected no resolve mail with notifications off, got %d", got)
	}
}

func TestDispatcher_SendDigest(t *testing.T) {
	st, settings := openDispatchStore(t)
	p := dispatchPlatform(t, st)

	capture := &capturingMailer{}
	d := NewDispatcher(newCapturingMailer(capture), nil, settings)
	defer d.Close()

	dig := NewDigest(2)
	dig.Add(p, store.KindAvailability)

	if err := d.SendDigest(dig); err != nil {
		t.Fatalf("SendDigest: %v", err)
	}
	mails := capture.mails()
	if len(mails) != 1 {
		t.Fatalf("expected 1 digest mail, got %d", len(mails))
	}
	if mails[0].subject != "[URGENT] Oju Monitoring - 1 sites with issues (50.0%)" {
		t.Errorf("digest subject = %q", mails[0].subject)
	}
	if !strings.Contains(mails[0].body, "Website availability issues") {
		t.Error("digest body missing availability section")
	}
}

func TestDispatcher_SendDigestSkipsCleanRun(t *testing.T) {
	_, settings := openDispatchStore(t)

	capture := &capturingMailer{}
	d := NewDispatcher(newCapturingMailer(capture), nil, settings)
	defer d.Close()

	if err := d.SendDigest(NewDigest(5)); err != nil {
		t.Fatalf("SendDigest: %v", err)
	}
	if got := len(capture.mails()); got != 0 {
		t.Errorf("expected no digest for a clean run, got %d", got)
	}
}

func TestDispatcher_VTDetectionMail(t *testing.T) {
	st, settings := openDispatchStore(t)
	p := dispatchPlatform(t, st)

	capture := &capturingMailer{}
	d := NewDispatcher(newCapturingMailer(capture), nil, settings)

	d.VTDetection(p, "2025-06-02 10:30:00",
		map[string][]string{"malicious": {"EvilScan"}},
		map[string]*store.VendorInfo{"EvilScan": {Name: "EvilScan", Contact: "abuse@evilscan.example", InDatabase: true}})
	d.Close()

	mails := capture.mails()
	if len(mails) != 1 {
		t.Fatalf("expected 1 detection mail, got %d", len(mails))
	}
	if mails[0].subject != "Oju Alert: VirusTotal Detection for https://acme.example" {
		t.Errorf("detection subject = %q", mails[0].subject)
	}
	for _, want := range []string{"EvilScan", "abuse@evilscan.example", "malicious"} {
		if !strings.Contains(mails[0].body, want) {
			t.Errorf("detection body missing %q", want)
		}
	}
}

func TestDispatcher_CloseDropsLateEvents(t *testing.T) {
	st, settings := openDispatchStore(t)
	p := dispatchPlatform(t, st)

	capture := &capturingMailer{}
	d := NewDispatcher(newCapturingMailer(capture), nil, settings)
	d.Close()

	// Must not panic or block after Close.
	d.AlertCreated(p, testAlert(p, store.KindSSL))
	d.Close()

	if got := len(capture.mails()); got != 0 {
		t.Errorf("expected dropped delivery after close, got %d", got)
	}
}
