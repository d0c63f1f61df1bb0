package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// WebsiteResult is the verdict of a successful HTTP probe.
type WebsiteResult struct {
	StatusCode   int
	ProxyUsed    string // empty when direct
	SSLVerified  bool   // false when the insecure retry was needed
	ResponseTime time.Duration
}

// WebsiteChecker fetches a URL and classifies the failure mode. With proxies
// configured it walks them in order and aggregates; without, it goes direct.
type WebsiteChecker struct {
	UserAgent string
	Timeout   time.Duration
	VerifySSL bool // when false, an SSL failure is retried once insecurely
	Proxies   []string
}

// Check performs a GET against the URL. Errors are one of the probe failure
// types; with proxies exhausted the error is *AllProxiesFailedError.
func (c *WebsiteChecker) Check(ctx context.Context, rawURL string) (*WebsiteResult, error) {
	if len(c.Proxies) == 0 {
		return c.attempt(ctx, rawURL, "")
	}

	attempts := proxyAttempts{url: rawURL}
	for _, p := range c.Proxies {
		res, err := c.attempt(ctx, rawURL, p)
		if err == nil {
			return res, nil
		}
		attempts.add(err)
	}
	return nil, attempts.exhausted()
}

// attempt fetches once through the given proxy (or direct when empty),
// retrying a single time without verification when the configuration allows
// insecure fallback and the failure was TLS-level.
func (c *WebsiteChecker) attempt(ctx context.Context, rawURL, proxyURL string) (*WebsiteResult, error) {
	res, err := c.fetch(ctx, rawURL, proxyURL, false)
	if err == nil {
		return res, nil
	}

	var sslErr *SSLError
	if errors.As(err, &sslErr) && !c.VerifySSL {
		if res, retryErr := c.fetch(ctx, rawURL, proxyURL, true); retryErr == nil {
			res.SSLVerified = false
			return res, nil
		}
	}
	return nil, err
}

func (c *WebsiteChecker) fetch(ctx context.Context, rawURL, proxyURL string, insecure bool) (*WebsiteResult, error) {
	transport := &http.Transport{
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: insecure}, //nolint:gosec // deliberate retry mode
		DisableKeepAlives: true,
	}
	if proxyURL != "" {
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return DialViaProxy(ctx, proxyURL, addr, c.Timeout)
		}
	} else {
		transport.DialContext = (&net.Dialer{Timeout: c.Timeout}).DialContext
	}

	client := &http.Client{Transport: transport, Timeout: c.Timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &UnavailableError{URL: rawURL, Err: err}
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return nil, classifyFetchError(rawURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck // body unused beyond status

	if resp.StatusCode >= 400 {
		return nil, &HTTPStatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	return &WebsiteResult{
		StatusCode:   resp.StatusCode,
		ProxyUsed:    proxyURL,
		SSLVerified:  !insecure,
		ResponseTime: elapsed,
	}, nil
}

// classifyFetchError maps a transport error onto the probe failure taxonomy.
// Proxy errors pass through untouched so the aggregation can count them.
func classifyFetchError(rawURL string, err error) error {
	var perr *ProxyError
	if errors.As(err, &perr) {
		return perr
	}

	if isTLSError(err) {
		return &SSLError{URL: rawURL, Err: err}
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &TimeoutError{URL: rawURL, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{URL: rawURL, Err: err}
	}

	return &UnavailableError{URL: rawURL, Err: err}
}

// isTLSError reports whether the error chain contains a TLS-level failure.
func isTLSError(err error) bool {
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return true
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}
	var authorityErr x509.UnknownAuthorityError
	if errors.As(err, &authorityErr) {
		return true
	}
	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &invalidErr) {
		return true
	}
	// Alert records surface as text only ("remote error: tls: ...").
	return strings.Contains(err.Error(), "tls:")
}

// String renders the result for logs and the check command.
func (r *WebsiteResult) String() string {
	via := "direct"
	if r.ProxyUsed != "" {
		via = "via " + r.ProxyUsed
	}
	return fmt.Sprintf("HTTP %d %s in %s", r.StatusCode, via, r.ResponseTime.Round(time.Millisecond))
}
