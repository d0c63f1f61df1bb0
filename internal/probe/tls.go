// Package probe implements the domain, HTTP and TLS checks that feed the
// monitoring pipeline. Each checker classifies failures into the typed
// errors defined in errors.go so callers can map them onto alert kinds.
package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"time"
)

const defaultTimeout = 5 * time.Second

// Retry defaults for transient connection errors.
var (
	retryMax   = 2
	retryDelay = time.Second
)

// CertInfo is the subset of certificate fields kept for alert details.
type CertInfo struct {
	Subject   string
	Issuer    string
	NotBefore time.Time
	NotAfter  time.Time
	Serial    string
	DNSNames  []string
}

// TLSResult holds the outcome of a successful TLS probe.
type TLSResult struct {
	Skipped     bool
	Cert        *CertInfo
	ProxyUsed   string   // empty when direct
	Posture     []string // weak-parameter findings, informational only
	DaysLeft    int
	TLSVersion  uint16
	CipherSuite uint16
}

// TLSChecker performs a handshake against port 443 (or an explicit port) and
// judges the presented certificate. With proxies configured it rotates
// through them starting at StartIndex so consecutive runs spread load.
type TLSChecker struct {
	Timeout     time.Duration
	CheckError  bool // master switch; false skips the probe entirely
	CheckExpiry bool // also raise threshold notices for soon-to-expire certs
	Proxies     []string
	StartIndex  int

	now    func() time.Time
	dialFn DialContextFunc
	roots  *x509.CertPool // nil means system roots
}

// Check probes the host. Certificate problems come back as the typed errors
// from errors.go; with proxies exhausted the error is *AllProxiesFailedError.
func (c *TLSChecker) Check(ctx context.Context, host string) (*TLSResult, error) {
	if !c.CheckError {
		return &TLSResult{Skipped: true}, nil
	}

	hostport := host
	sni := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		sni = h
	} else {
		hostport = net.JoinHostPort(host, "443")
	}

	if len(c.Proxies) == 0 {
		return c.direct(ctx, hostport, sni)
	}

	attempts := proxyAttempts{url: hostport}
	for i := range c.Proxies {
		p := c.Proxies[(c.StartIndex+i)%len(c.Proxies)]
		res, err := c.viaProxy(ctx, hostport, sni, p)
		if err == nil {
			res.ProxyUsed = p
			return res, nil
		}
		// Once a proxy connects, the handshake verdict is about the site
		// and is definitive; only failures reaching the proxy rotate on.
		var perr *ProxyError
		if !errors.As(err, &perr) {
			return nil, err
		}
		attempts.add(err)
	}
	return nil, attempts.exhausted()
}

// direct dials the host itself, retrying transient connection errors.
// A completed handshake, good or bad, is definitive and never retried.
func (c *TLSChecker) direct(ctx context.Context, hostport, sni string) (*TLSResult, error) {
	dial := c.dialFn
	if dial == nil {
		dial = (&net.Dialer{Timeout: c.timeout()}).DialContext
	}

	var lastDialErr error
	for attempt := 0; attempt <= retryMax; attempt++ {
		if attempt > 0 {
			time.Sleep(retryDelay * time.Duration(1<<uint(attempt-1)))
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout())
		rawConn, dialErr := dial(attemptCtx, "tcp", hostport)
		if dialErr != nil {
			cancel()
			lastDialErr = dialErr
			continue
		}

		res, err := c.inspect(attemptCtx, rawConn, sni)
		cancel()
		return res, err
	}
	return nil, &UnavailableError{URL: hostport, Err: lastDialErr}
}

func (c *TLSChecker) viaProxy(ctx context.Context, hostport, sni, proxyURL string) (*TLSResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	rawConn, err := DialViaProxy(attemptCtx, proxyURL, hostport, c.timeout())
	if err != nil {
		return nil, err
	}
	return c.inspect(attemptCtx, rawConn, sni)
}

// inspect completes the handshake on an established connection and judges
// the leaf certificate. Verification is not delegated to the handshake so
// that an expired or mismatched certificate can still be read and reported
// with its actual dates.
func (c *TLSChecker) inspect(ctx context.Context, rawConn net.Conn, sni string) (*TLSResult, error) {
	tlsConn := tls.Client(rawConn, &tls.Config{
		ServerName:         sni,
		InsecureSkipVerify: true, //nolint:gosec // validity is judged below, against the clock
	})

	if hsErr := tlsConn.HandshakeContext(ctx); hsErr != nil {
		rawConn.Close() //nolint:errcheck // best-effort cleanup on handshake failure
		return nil, &HandshakeError{Host: sni, Err: hsErr}
	}

	state := tlsConn.ConnectionState()
	tlsConn.Close() //nolint:errcheck // read-only probe, close error is unactionable

	if len(state.PeerCertificates) == 0 {
		return nil, &CertificateError{Host: sni, Reason: "no peer certificates presented"}
	}

	leaf := state.PeerCertificates[0]
	now := c.timeNow()

	if now.Before(leaf.NotBefore) {
		return nil, &CertNotYetValidError{Host: sni, NotBefore: leaf.NotBefore}
	}
	if now.After(leaf.NotAfter) {
		return nil, &CertExpiredError{Host: sni, NotAfter: leaf.NotAfter}
	}
	if err := leaf.VerifyHostname(sni); err != nil {
		return nil, &CertificateError{Host: sni, Reason: err.Error()}
	}
	if err := c.verifyChain(leaf, state.PeerCertificates[1:], now); err != nil {
		return nil, &CertificateError{Host: sni, Reason: err.Error()}
	}

	days := daysUntil(leaf.NotAfter, now)
	if c.CheckExpiry {
		if level, ok := expiryLevelFor(days); ok {
			return nil, &CertExpiringError{Host: sni, Level: level, Days: days, NotAfter: leaf.NotAfter}
		}
	}

	return &TLSResult{
		Cert:        certInfoFrom(leaf),
		Posture:     WeakTLSParams(state.Version, state.CipherSuite),
		DaysLeft:    days,
		TLSVersion:  state.Version,
		CipherSuite: state.CipherSuite,
	}, nil
}

// verifyChain checks the leaf against the trusted roots, using the rest of
// the presented chain as intermediates.
func (c *TLSChecker) verifyChain(leaf *x509.Certificate, presented []*x509.Certificate, now time.Time) error {
	intermediates := x509.NewCertPool()
	for _, cert := range presented {
		intermediates.AddCert(cert)
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         c.roots,
		Intermediates: intermediates,
		CurrentTime:   now,
	})
	return err
}

func certInfoFrom(cert *x509.Certificate) *CertInfo {
	return &CertInfo{
		Subject:   cert.Subject.String(),
		Issuer:    cert.Issuer.String(),
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		Serial:    cert.SerialNumber.Text(16),
		DNSNames:  cert.DNSNames,
	}
}

func (c *TLSChecker) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

func (c *TLSChecker) timeNow() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}
