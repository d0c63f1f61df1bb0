package probe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// DialContextFunc is the signature probes use to establish TCP connections.
type DialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// ProxyError reports a failure reaching or negotiating with the proxy
// itself, as opposed to a failure the proxy relayed about the target.
type ProxyError struct {
	Proxy string
	Err   error
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("proxy %s: %v", e.Proxy, e.Err)
}

func (e *ProxyError) Unwrap() error { return e.Err }

// AllProxiesFailedError aggregates the per-proxy outcome of an exhausted
// rotation. Site errors are failures the target (or the path past the proxy)
// produced; proxy errors are failures of the proxies themselves.
type AllProxiesFailedError struct {
	URL         string
	ProxyErrors []error
	SiteErrors  []error
}

func (e *AllProxiesFailedError) Error() string {
	return fmt.Sprintf("all proxies failed for %s (%d proxy errors, %d site errors)",
		e.URL, len(e.ProxyErrors), len(e.SiteErrors))
}

// IsProxyIssue reports whether the aggregate failure is attributable to the
// monitoring path rather than the target: every attempt failed at the proxy
// and none reached far enough to observe a site-level error.
func (e *AllProxiesFailedError) IsProxyIssue() bool {
	return len(e.SiteErrors) == 0 && len(e.ProxyErrors) > 0
}

// FirstSiteError returns the error to surface upstream when the aggregate is
// not a proxy issue, or nil when every attempt died at the proxy.
func (e *AllProxiesFailedError) FirstSiteError() error {
	if len(e.SiteErrors) > 0 {
		return e.SiteErrors[0]
	}
	return nil
}

// IsProxyIssue walks the error chain and reports whether it classifies as a
// monitoring-path failure that must suppress alerting.
func IsProxyIssue(err error) bool {
	var agg *AllProxiesFailedError
	if errors.As(err, &agg) {
		return agg.IsProxyIssue()
	}
	var perr *ProxyError
	return errors.As(err, &perr)
}

// forwardDialer is handed to the SOCKS client as the dialer for the proxy
// address. The SOCKS client only ever dials the proxy through it, so any
// error it sees is by definition a proxy connection error. Not safe for
// concurrent use; build one per attempt.
type forwardDialer struct {
	timeout time.Duration
	failed  error
}

func (f *forwardDialer) Dial(network, addr string) (net.Conn, error) {
	c, err := (&net.Dialer{Timeout: f.timeout}).Dial(network, addr)
	if err != nil {
		f.failed = err
	}
	return c, err
}

func (f *forwardDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	c, err := (&net.Dialer{Timeout: f.timeout}).DialContext(ctx, network, addr)
	if err != nil {
		f.failed = err
	}
	return c, err
}

// DialViaProxy opens a TCP connection to addr through the given proxy URL.
// Supported schemes: socks5, socks5h (SOCKS5 client from x/net/proxy) and
// http, https (CONNECT tunnel). Failures reaching the proxy come back as
// *ProxyError; failures the proxy reports about the target come back as-is.
func DialViaProxy(ctx context.Context, proxyURL, addr string, timeout time.Duration) (net.Conn, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, &ProxyError{Proxy: proxyURL, Err: err}
	}

	switch u.Scheme {
	case "socks5", "socks5h":
		fwd := &forwardDialer{timeout: timeout}
		d, err := proxy.FromURL(u, fwd)
		if err != nil {
			return nil, &ProxyError{Proxy: proxyURL, Err: err}
		}
		var conn net.Conn
		var dialErr error
		if cd, ok := d.(proxy.ContextDialer); ok {
			conn, dialErr = cd.DialContext(ctx, "tcp", addr)
		} else {
			conn, dialErr = d.Dial("tcp", addr)
		}
		if dialErr != nil {
			if fwd.failed != nil {
				return nil, &ProxyError{Proxy: proxyURL, Err: fwd.failed}
			}
			return nil, dialErr
		}
		return conn, nil
	case "http", "https":
		return dialConnect(ctx, u, addr, timeout)
	default:
		return nil, &ProxyError{Proxy: proxyURL, Err: fmt.Errorf("unsupported proxy scheme %q", u.Scheme)}
	}
}

// dialConnect tunnels through an HTTP proxy with a CONNECT request.
func dialConnect(ctx context.Context, proxyURL *url.URL, addr string, timeout time.Duration) (net.Conn, error) {
	proxyAddr := proxyURL.Host
	if proxyURL.Port() == "" {
		proxyAddr = net.JoinHostPort(proxyURL.Hostname(), "3128")
	}

	conn, err := (&net.Dialer{Timeout: timeout}).DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, &ProxyError{Proxy: proxyURL.String(), Err: err}
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline) //nolint:errcheck // cleared below on success
	} else {
		conn.SetDeadline(time.Now().Add(timeout)) //nolint:errcheck // cleared below on success
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if proxyURL.User != nil {
		if pass, ok := proxyURL.User.Password(); ok {
			req.SetBasicAuth(proxyURL.User.Username(), pass)
			req.Header.Set("Proxy-Authorization", req.Header.Get("Authorization"))
			req.Header.Del("Authorization")
		}
	}

	if err := req.Write(conn); err != nil {
		conn.Close() //nolint:errcheck // connection already failed
		return nil, &ProxyError{Proxy: proxyURL.String(), Err: err}
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		conn.Close() //nolint:errcheck // connection already failed
		return nil, &ProxyError{Proxy: proxyURL.String(), Err: err}
	}
	resp.Body.Close() //nolint:errcheck // CONNECT responses carry no body

	if resp.StatusCode != http.StatusOK {
		conn.Close() //nolint:errcheck // tunnel refused
		return nil, &ProxyError{Proxy: proxyURL.String(), Err: fmt.Errorf("CONNECT %s: %s", addr, resp.Status)}
	}

	conn.SetDeadline(time.Time{}) //nolint:errcheck // hand off a clean connection
	return conn, nil
}

// proxyAttempts collects per-proxy failures and classifies the aggregate.
type proxyAttempts struct {
	url       string
	proxyErrs []error
	siteErrs  []error
}

func (a *proxyAttempts) add(err error) {
	var perr *ProxyError
	if errors.As(err, &perr) {
		a.proxyErrs = append(a.proxyErrs, err)
		return
	}
	a.siteErrs = append(a.siteErrs, err)
}

func (a *proxyAttempts) exhausted() *AllProxiesFailedError {
	return &AllProxiesFailedError{URL: a.url, ProxyErrors: a.proxyErrs, SiteErrors: a.siteErrs}
}
