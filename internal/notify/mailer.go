// Package notify delivers alert lifecycle mail, run digests, and incident
// tickets for the monitoring engine.
package notify

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/ojulabs/oju/internal/config"
)

const (
	mailMaxAttempts = 3
	mailRetryDelay  = 2 * time.Second
)

// AttemptLogger records every delivery attempt. *store.Store satisfies it.
type AttemptLogger interface {
	LogEmail(subject, recipients, status, errMsg string, at time.Time) error
}

// Attachment is a file carried with a message.
type Attachment struct {
	Filename string
	Content  []byte
}

// Message is one outbound mail.
type Message struct {
	Subject     string
	Body        string
	HTML        bool
	To          []string
	CC          []string
	BCC         []string
	Attachments []Attachment
}

// Mailer sends messages through an SMTP relay, retrying failed deliveries
// with exponential backoff and logging each attempt.
type Mailer struct {
	cfg   config.SMTPConfig
	log   AttemptLogger
	send  func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	sleep func(time.Duration)
	now   func() time.Time
}

// NewMailer creates a Mailer from SMTP config. Returns nil if no relay host
// is configured.
func NewMailer(cfg config.SMTPConfig, log AttemptLogger) *Mailer {
	if cfg.Host == "" {
		return nil
	}
	return &Mailer{cfg: cfg, log: log, send: smtp.SendMail, sleep: time.Sleep, now: time.Now}
}

// Send delivers msg. Transient relay failures are retried up to
// mailMaxAttempts with doubling delays; the returned error is the last one.
func (m *Mailer) Send(msg *Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("mail %q: no recipients", msg.Subject)
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	envelope := make([]string, 0, len(msg.To)+len(msg.CC)+len(msg.BCC))
	envelope = append(envelope, msg.To...)
	envelope = append(envelope, msg.CC...)
	envelope = append(envelope, msg.BCC...)
	recipients := strings.Join(envelope, ", ")

	body := m.build(msg)

	delay := mailRetryDelay
	var err error
	for attempt := 1; attempt <= mailMaxAttempts; attempt++ {
		err = m.send(addr, auth, m.cfg.From, envelope, body)
		if err == nil {
			m.logAttempt(msg.Subject, recipients, "sent", "")
			return nil
		}
		m.logAttempt(msg.Subject, recipients, "failed", err.Error())
		slog.Warn("mail: delivery attempt failed", "subject", msg.Subject, "attempt", attempt, "err", err)
		if attempt < mailMaxAttempts {
			m.sleep(delay)
			delay *= 2
		}
	}
	return fmt.Errorf("sending mail %q: %w", msg.Subject, err)
}

// build assembles the MIME message. Attachments turn it into multipart/mixed
// with base64 parts; otherwise a single text part is sent.
func (m *Mailer) build(msg *Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	if len(msg.CC) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(msg.CC, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")

	contentType := "text/plain"
	if msg.HTML {
		contentType = "text/html"
	}

	if len(msg.Attachments) == 0 {
		fmt.Fprintf(&b, "Content-Type: %s; charset=utf-8\r\n\r\n", contentType)
		b.WriteString(msg.Body)
		return b.Bytes()
	}

	// Writes below target the in-memory buffer and cannot fail.
	w := multipart.NewWriter(&b)
	fmt.Fprintf(&b, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", w.Boundary())

	part, _ := w.CreatePart(textproto.MIMEHeader{
		"Content-Type": {contentType + "; charset=utf-8"},
	})
	_, _ = part.Write([]byte(msg.Body))

	for _, att := range msg.Attachments {
		part, _ = w.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {"application/octet-stream"},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", att.Filename)},
		})
		writeBase64(part, att.Content)
	}
	_ = w.Close()
	return b.Bytes()
}

// writeBase64 encodes content in 76-column lines per RFC 2045.
func writeBase64(w io.Writer, content []byte) {
	enc := base64.StdEncoding.EncodeToString(content)
	for len(enc) > 76 {
		_, _ = w.Write([]byte(enc[:76]))
		_, _ = w.Write([]byte("\r\n"))
		enc = enc[76:]
	}
	_, _ = w.Write([]byte(enc))
}

func (m *Mailer) logAttempt(subject, recipients, status, errMsg string) {
	if m.log == nil {
		return
	}
	if err := m.log.LogEmail(subject, recipients, status, errMsg, m.now()); err != nil {
		slog.Warn("mail: recording attempt failed", "err", err)
	}
}
