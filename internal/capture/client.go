// Package capture drives the headless-browser capture service and turns its
// HAR output into a request forest the defacement differ can walk.
package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ojulabs/oju/internal/probe"
)

const (
	defaultMaxTime   = 60 * time.Second
	maxResponseBytes = 64 << 20 // HAR bodies are inlined, allow large pages
)

// Error is a capture failure not attributable to the proxy, the TLS layer,
// or a timeout.
type Error struct {
	URL    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("capture failed for %s: %s", e.URL, e.Reason)
}

// ConfigError reports an unusable capture request before any attempt is made.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "capture configuration: " + e.Reason
}

// Capture is one analyzed page load. Roots is cycle-free and ordered, so the
// marshalled document is stable for a byte-identical page. The screenshot is
// carried separately and never serialized with the state.
type Capture struct {
	URL               string  `json:"url"`
	CaptureTime       float64 `json:"capture_time"`
	Roots             []*Node `json:"tree"`
	LastRedirectedURL string  `json:"last_redirected_url"`
	Title             string  `json:"title"`
	Screenshot        []byte  `json:"-"`
}

// Encode serializes the capture state for storage.
func (c *Capture) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// Parse loads a stored capture state.
func Parse(data []byte) (*Capture, error) {
	var c Capture
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing capture state: %w", err)
	}
	return &c, nil
}

// Client talks to the capture service. One Client is built per monitoring
// run with that run's user agent and proxy roster.
type Client struct {
	httpClient *http.Client
	baseURL    string

	// Per-run settings, set by the orchestrator before use.
	UserAgent string
	Proxies   []string
	MaxTime   time.Duration
}

// NewClient creates a capture service client. Options can override the HTTP
// client for testing.
func NewClient(baseURL string, opts ...func(*Client)) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		MaxTime: defaultMaxTime,
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		// The service holds the connection for the whole page load, so the
		// HTTP timeout must sit above MaxTime.
		c.httpClient = &http.Client{Timeout: c.MaxTime + 30*time.Second}
	}
	return c
}

// WithHTTPClient overrides the underlying HTTP client (for testing).
func WithHTTPClient(hc *http.Client) func(*Client) {
	return func(c *Client) {
		c.httpClient = hc
	}
}

type captureRequest struct {
	URL       string `json:"url"`
	UserAgent string `json:"user_agent,omitempty"`
	Proxy     string `json:"proxy,omitempty"`
	MaxTime   int    `json:"max_time,omitempty"`
	VerifySSL bool   `json:"verify_ssl"`
}

type captureResponse struct {
	HAR               json.RawMessage `json:"har"`
	PNG               string          `json:"png,omitempty"`
	LastRedirectedURL string          `json:"last_redirected_url"`
	Error             string          `json:"error,omitempty"`
	ErrorName         string          `json:"error_name,omitempty"`
}

// Analyze captures the page and builds its request forest. Without proxies
// it goes direct, retrying once with TLS verification off when the first
// attempt fails on SSL. With proxies it tries each in order, giving every
// proxy the same insecure retry; when all fail, the last error is returned
// so proxy-level and site-level failures stay distinguishable upstream.
func (c *Client) Analyze(ctx context.Context, rawURL string) (*Capture, error) {
	if err := validateTarget(rawURL, c.Proxies); err != nil {
		return nil, err
	}
	start := time.Now()

	var (
		resp *captureResponse
		err  error
	)
	if len(c.Proxies) == 0 {
		resp, err = c.attempt(ctx, rawURL, "", true)
		var sslErr *probe.SSLError
		if errors.As(err, &sslErr) {
			resp, err = c.attempt(ctx, rawURL, "", false)
		}
		if err != nil {
			return nil, err
		}
	} else {
		var lastErr error
		for _, proxy := range c.Proxies {
			resp, err = c.attempt(ctx, rawURL, proxy, true)
			if err == nil {
				break
			}
			var sslErr *probe.SSLError
			if errors.As(err, &sslErr) {
				resp, err = c.attempt(ctx, rawURL, proxy, false)
				if err == nil {
					break
				}
			}
			lastErr = err
		}
		if resp == nil || err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, &Error{URL: rawURL, Reason: "all proxies failed"}
		}
	}

	roots, title, perr := parseForest(resp.HAR)
	if perr != nil {
		return nil, &Error{URL: rawURL, Reason: fmt.Sprintf("parsing HAR: %v", perr)}
	}
	if len(roots) == 0 {
		return nil, &Error{URL: rawURL, Reason: "failed to parse HAR data into tree structure"}
	}

	return &Capture{
		URL:               rawURL,
		CaptureTime:       time.Since(start).Seconds(),
		Roots:             flattenForest(roots),
		LastRedirectedURL: resp.LastRedirectedURL,
		Title:             title,
		Screenshot:        decodeScreenshot(resp.PNG),
	}, nil
}

// attempt performs one round trip to the capture service and classifies the
// outcome the way the probes do, so the orchestrator can reuse one error
// taxonomy across all checks.
func (c *Client) attempt(ctx context.Context, rawURL, proxy string, verifySSL bool) (*captureResponse, error) {
	body, err := json.Marshal(captureRequest{
		URL:       rawURL,
		UserAgent: c.UserAgent,
		Proxy:     proxy,
		MaxTime:   int(c.MaxTime.Seconds()),
		VerifySSL: verifySSL,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding capture request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/capture", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building capture request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{URL: rawURL, Reason: fmt.Sprintf("capture service unreachable: %v", err)}
	}
	defer httpResp.Body.Close() //nolint:errcheck // read-only HTTP response

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{URL: rawURL, Reason: fmt.Sprintf("reading capture response: %v", err)}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &Error{URL: rawURL, Reason: fmt.Sprintf("capture service returned status %d", httpResp.StatusCode)}
	}

	var resp captureResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &Error{URL: rawURL, Reason: fmt.Sprintf("decoding capture response: %v", err)}
	}
	if resp.Error != "" {
		return nil, classifyServiceError(rawURL, proxy, &resp, c.MaxTime)
	}
	if len(resp.HAR) == 0 {
		return nil, &Error{URL: rawURL, Reason: "capture failed - no valid entries data"}
	}
	return &resp, nil
}

// classifyServiceError maps the browser-side error string onto the probe
// taxonomy: ssl, timeout, and proxy failures by substring, anything else a
// plain capture error named by the service.
func classifyServiceError(rawURL, proxy string, resp *captureResponse, maxTime time.Duration) error {
	msg := strings.ToLower(resp.Error)
	switch {
	case strings.Contains(msg, "ssl"):
		return &probe.SSLError{URL: rawURL, Err: fmt.Errorf("%s", resp.Error)}
	case strings.Contains(msg, "timed_out") || strings.Contains(msg, "timeout"):
		return &probe.TimeoutError{URL: rawURL, Err: fmt.Errorf("after %s: %s", maxTime, resp.Error)}
	case proxy != "" && strings.Contains(msg, "proxy"):
		return &probe.ProxyError{Proxy: proxy, Err: fmt.Errorf("%s", resp.Error)}
	}
	name := resp.ErrorName
	if name == "" {
		name = resp.Error
	}
	return &Error{URL: rawURL, Reason: name}
}

// decodeScreenshot accepts raw base64 or a data URI and returns PNG bytes,
// nil when absent or undecodable.
func decodeScreenshot(b64 string) []byte {
	if b64 == "" {
		return nil
	}
	if i := strings.IndexByte(b64, ','); i >= 0 {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil
	}
	return data
}

func validateTarget(rawURL string, proxies []string) error {
	if rawURL == "" {
		return &ConfigError{Reason: "URL is required"}
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Reason: "invalid URL format: " + rawURL}
	}
	for _, p := range proxies {
		pu, err := url.Parse(p)
		if err != nil || pu.Scheme == "" || pu.Host == "" {
			return &ConfigError{Reason: "invalid proxy format: " + p}
		}
	}
	return nil
}
