// Package vt scans URLs through the VirusTotal v3 API and reduces the
// per-vendor verdicts to the malicious subset the monitor alerts on.
package vt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://www.virustotal.com/api/v3"
	defaultTimeout = 300 * time.Second

	// pollInterval paces the analysis status loop. VirusTotal queues URL
	// scans; results typically land within a few polls.
	defaultPollInterval = 20 * time.Second

	maxResponseBytes = 8 << 20
)

// benignVerdicts are vendor results that never count as a detection.
var benignVerdicts = map[string]bool{"": true, "clean": true, "unrated": true, "none": true}

// VendorResult is one engine's verdict for a scanned URL.
type VendorResult struct {
	Category   string `json:"category"`
	EngineName string `json:"engine_name"`
	Method     string `json:"method"`
	Result     string `json:"result"`
}

// Analysis is a completed URL scan.
type Analysis struct {
	ID       string
	Status   string
	Stats    map[string]int
	Results  map[string]VendorResult
	Target   string
	ScanDate time.Time
	Elapsed  time.Duration
}

// VendorsByResult groups vendor names by their verdict string. Names are
// sorted so repeated scans render identically.
func (a *Analysis) VendorsByResult() map[string][]string {
	out := make(map[string][]string)
	for name, r := range a.Results {
		out[r.Result] = append(out[r.Result], name)
	}
	for _, names := range out {
		sort.Strings(names)
	}
	return out
}

// MaliciousResults returns the verdict groups that count as detections,
// dropping clean, unrated, and empty verdicts.
func (a *Analysis) MaliciousResults() map[string][]string {
	out := make(map[string][]string)
	for verdict, names := range a.VendorsByResult() {
		if benignVerdicts[strings.ToLower(verdict)] {
			continue
		}
		out[verdict] = names
	}
	return out
}

// Client talks to the VirusTotal REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string

	// Timeout bounds the whole scan-and-poll cycle for one URL.
	Timeout time.Duration

	pollInterval time.Duration
}

// NewClient builds a scanner client. The API key is mandatory.
func NewClient(apiKey string, opts ...func(*Client)) (*Client, error) {
	if apiKey == "" {
		return nil, &Error{Kind: KindAPIKey, Message: "API key is required"}
	}
	c := &Client{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		Timeout:      defaultTimeout,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return c, nil
}

// WithBaseURL points the client at a different API root.
func WithBaseURL(u string) func(*Client) {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(h *http.Client) func(*Client) {
	return func(c *Client) { c.httpClient = h }
}

// VerifyKey checks the API key with a minimal lookup. An invalid key
// surfaces as KindAPIKey; any other failure is reported as a network error.
func (c *Client) VerifyKey(ctx context.Context) error {
	_, err := c.get(ctx, "/ip_addresses/8.8.8.8")
	if err == nil {
		return nil
	}
	if KindOf(err) == KindAPIKey {
		return err
	}
	return &Error{Kind: KindNetwork, Message: "verifying API key", Err: err}
}

// ScanURL submits a URL for analysis and polls until the analysis
// completes, fails, or the client timeout elapses.
func (c *Client) ScanURL(ctx context.Context, target string) (*Analysis, error) {
	if target == "" {
		return nil, &Error{Kind: KindConfiguration, Message: "scan target URL is empty"}
	}

	form := url.Values{"url": {target}}
	data, err := c.post(ctx, "/urls", form)
	if err != nil {
		return nil, err
	}
	var submitted struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &submitted); err != nil || submitted.ID == "" {
		return nil, &Error{Kind: KindScan, Message: "submit response missing analysis id", Err: err}
	}

	start := time.Now()
	for {
		elapsed := time.Since(start)
		if elapsed > c.Timeout {
			return nil, &Error{Kind: KindTimeout, Message: fmt.Sprintf("timeout waiting for scan results after %.1fs", elapsed.Seconds())}
		}

		data, err := c.get(ctx, "/analyses/"+url.PathEscape(submitted.ID))
		if err != nil {
			return nil, err
		}
		var body struct {
			ID         string `json:"id"`
			Attributes struct {
				Status  string                  `json:"status"`
				Stats   map[string]int          `json:"stats"`
				Results map[string]VendorResult `json:"results"`
			} `json:"attributes"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, &Error{Kind: KindScan, Message: "decoding analysis response", Err: err}
		}

		switch body.Attributes.Status {
		case "completed":
			return &Analysis{
				ID:       submitted.ID,
				Status:   body.Attributes.Status,
				Stats:    body.Attributes.Stats,
				Results:  body.Attributes.Results,
				Target:   target,
				ScanDate: time.Now(),
				Elapsed:  time.Since(start),
			}, nil
		case "failed":
			return nil, &Error{Kind: KindAnalysis, Message: "analysis failed"}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, "")
}

func (c *Client) post(ctx context.Context, path string, form url.Values) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, path, form.Encode())
}

// do performs one API call and returns the envelope's data payload. API
// error bodies are classified into typed kinds.
func (c *Client) do(ctx context.Context, method, path, body string) (json.RawMessage, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &Error{Kind: KindConfiguration, Message: "building API request", Err: err}
	}
	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Kind: KindNetwork, Message: "calling VirusTotal API", Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // read-only HTTP response

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "reading API response", Err: err}
	}

	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil && resp.StatusCode < 400 {
			return nil, &Error{Kind: KindScan, Message: "decoding API response", Err: err}
		}
	}

	if envelope.Error != nil {
		return nil, classifyAPIError(resp.StatusCode, envelope.Error.Code, envelope.Error.Message)
	}
	if resp.StatusCode >= 400 {
		return nil, classifyAPIError(resp.StatusCode, "", http.StatusText(resp.StatusCode))
	}
	return envelope.Data, nil
}
