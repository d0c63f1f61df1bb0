package probe

import (
	"fmt"
	"time"
)

// ExpiryLevel grades certificate expiry warnings by days remaining.
type ExpiryLevel string

const (
	ExpiryNotice   ExpiryLevel = "notice"   // 30 days
	ExpiryWarning  ExpiryLevel = "warning"  // 14 days
	ExpiryCritical ExpiryLevel = "critical" // 7 days
)

// expiryLevelFor maps exact days remaining to a level; ok is false for any
// other value. Thresholds fire on exact-day equality so an alert is raised
// once per threshold, not continuously.
func expiryLevelFor(days int) (ExpiryLevel, bool) {
	switch days {
	case 7:
		return ExpiryCritical, true
	case 14:
		return ExpiryWarning, true
	case 30:
		return ExpiryNotice, true
	}
	return "", false
}

// WhoisError reports a failed or unusable WHOIS lookup.
type WhoisError struct {
	Domain string
	Reason string
	Err    error
}

func (e *WhoisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("whois %s: %s: %v", e.Domain, e.Reason, e.Err)
	}
	return fmt.Sprintf("whois %s: %s", e.Domain, e.Reason)
}

func (e *WhoisError) Unwrap() error { return e.Err }

// DomainExpiringError fires when registration expiry hits a threshold day.
type DomainExpiringError struct {
	Domain    string
	Days      int
	ExpiresAt time.Time
}

func (e *DomainExpiringError) Error() string {
	return fmt.Sprintf("domain %s expires in %d days (%s)", e.Domain, e.Days, e.ExpiresAt.Format("2006-01-02"))
}

// DNSResolutionError reports one resolver failing to answer.
type DNSResolutionError struct {
	Domain string
	Server string
	Err    error
}

func (e *DNSResolutionError) Error() string {
	return fmt.Sprintf("resolving %s via %s: %v", e.Domain, e.Server, e.Err)
}

func (e *DNSResolutionError) Unwrap() error { return e.Err }

// AllDNSFailedError aggregates per-server resolution failures.
type AllDNSFailedError struct {
	Domain string
	Errors []error
}

func (e *AllDNSFailedError) Error() string {
	return fmt.Sprintf("all %d DNS servers failed for %s", len(e.Errors), e.Domain)
}

// TimeoutError reports a request exceeding its deadline.
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout fetching %s: %v", e.URL, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// UnavailableError reports a TCP or DNS level failure reaching the target.
type UnavailableError struct {
	URL string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.URL, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// HTTPStatusError reports a 4xx/5xx response.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d", e.URL, e.StatusCode)
}

// SSLError reports a TLS failure during an HTTP fetch. It is a signal for
// the TLS probe, not a verdict by itself.
type SSLError struct {
	URL string
	Err error
}

func (e *SSLError) Error() string {
	return fmt.Sprintf("ssl failure fetching %s: %v", e.URL, e.Err)
}

func (e *SSLError) Unwrap() error { return e.Err }

// HandshakeError reports a failed TLS handshake on the certificate probe.
type HandshakeError struct {
	Host string
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("tls handshake with %s: %v", e.Host, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// CertificateError reports an unusable presented certificate.
type CertificateError struct {
	Host   string
	Reason string
}

func (e *CertificateError) Error() string {
	return fmt.Sprintf("certificate for %s: %s", e.Host, e.Reason)
}

// CertExpiredError reports a certificate past notAfter.
type CertExpiredError struct {
	Host     string
	NotAfter time.Time
}

func (e *CertExpiredError) Error() string {
	return fmt.Sprintf("certificate for %s expired %s", e.Host, e.NotAfter.Format("2006-01-02"))
}

// CertNotYetValidError reports a certificate before notBefore.
type CertNotYetValidError struct {
	Host      string
	NotBefore time.Time
}

func (e *CertNotYetValidError) Error() string {
	return fmt.Sprintf("certificate for %s not valid until %s", e.Host, e.NotBefore.Format("2006-01-02"))
}

// CertExpiringError fires when certificate expiry hits a threshold day.
type CertExpiringError struct {
	Host     string
	Level    ExpiryLevel
	Days     int
	NotAfter time.Time
}

func (e *CertExpiringError) Error() string {
	return fmt.Sprintf("certificate for %s expires in %d days (%s)", e.Host, e.Days, e.Level)
}
