// Package monitor drives the probe battery across the platform registry.
// The engine loads one settings snapshot per run, walks every active
// platform through domain, HTTP, TLS, and defacement checks in order, and
// feeds the verdicts to the alert machine. It also owns the screenshot
// files under the media directory and the per-run digest.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ojulabs/oju/internal/alerts"
	"github.com/ojulabs/oju/internal/capture"
	"github.com/ojulabs/oju/internal/config"
	"github.com/ojulabs/oju/internal/differ"
	"github.com/ojulabs/oju/internal/notify"
	"github.com/ojulabs/oju/internal/probe"
	"github.com/ojulabs/oju/internal/store"
	"github.com/ojulabs/oju/internal/vt"
)

const (
	// domainRescanWindow skips the WHOIS/DNS probe for domains checked
	// recently with no open issue, so fleets sharing registrars do not
	// hammer WHOIS every run.
	domainRescanWindow = time.Hour

	// vtScanPause spaces URL submissions to stay inside the public API
	// rate limit.
	vtScanPause = 3 * time.Second

	screenshotDir = "screenshots"
)

// The engine talks to probes through these minimal interfaces so tests can
// substitute canned verdicts for live network checks.
type (
	domainProber interface {
		Check(ctx context.Context, name string) (*probe.DomainResult, error)
	}
	websiteProber interface {
		Check(ctx context.Context, rawURL string) (*probe.WebsiteResult, error)
	}
	tlsProber interface {
		Check(ctx context.Context, host string) (*probe.TLSResult, error)
	}
	pageCapturer interface {
		Analyze(ctx context.Context, rawURL string) (*capture.Capture, error)
	}
	urlScanner interface {
		VerifyKey(ctx context.Context) error
		ScanURL(ctx context.Context, target string) (*vt.Analysis, error)
	}
)

// probeSet groups the checkers built from one settings snapshot. The direct
// variants carry no proxies and back the fallback-to-direct policy. tls is a
// constructor because the checker's rotation offset is chosen per platform.
type probeSet struct {
	domain        domainProber
	site          websiteProber
	siteDirect    websiteProber
	tls           func(start int) tlsProber
	tlsDirect     tlsProber
	capture       pageCapturer
	captureDirect pageCapturer
}

// RunReport summarizes one monitoring run for logs and metrics.
type RunReport struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Platforms int           `json:"platforms"`
	Affected  int           `json:"affected"`
	Created   int           `json:"created"`
	Resolved  int           `json:"resolved"`
}

// VTReport summarizes one reputation sweep.
type VTReport struct {
	Scanned  int `json:"scanned"`
	Flagged  int `json:"flagged"`
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
}

type runStats struct {
	created  atomic.Int64
	resolved atomic.Int64
}

// Engine composes the probes over the platform registry and applies their
// verdicts through the alert machine. One Engine serves the whole process;
// each Run loads a fresh settings snapshot.
type Engine struct {
	store      *store.Store
	settings   *config.SettingsService
	machine    *alerts.Machine
	dispatcher *notify.Dispatcher
	mediaDir   string
	captureURL string
	captureMax time.Duration

	tracer trace.Tracer
	now    func() time.Time

	// Test seams, replaced wholesale by engine tests.
	buildProbes func(s *config.Settings) *probeSet
	newVTClient func(apiKey string) (urlScanner, error)
	vtPause     time.Duration
}

// Option tunes an Engine at construction.
type Option func(*Engine)

// WithTracer routes run and per-platform spans to the given tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// NewEngine wires the orchestrator. The dispatcher may be nil; digests and
// detection mail are then skipped while alert rows are still written.
func NewEngine(st *store.Store, settings *config.SettingsService, machine *alerts.Machine, dispatcher *notify.Dispatcher, cfg *config.Config, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		settings:   settings,
		machine:    machine,
		dispatcher: dispatcher,
		mediaDir:   cfg.MediaDir,
		captureURL: cfg.Capture.URL,
		captureMax: cfg.Capture.MaxTime,
		tracer:     noop.NewTracerProvider().Tracer("oju"),
		now:        time.Now,
		vtPause:    vtScanPause,
	}
	e.buildProbes = e.defaultProbes
	e.newVTClient = func(apiKey string) (urlScanner, error) {
		c, err := vt.NewClient(apiKey)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// defaultProbes builds live checkers from a settings snapshot. Proxies are
// applied only when the configuration turns them on.
func (e *Engine) defaultProbes(s *config.Settings) *probeSet {
	timeout := probeTimeout(s.Scan)
	ua := s.Configuration.UserAgent

	var proxies []string
	if s.Configuration.UseProxy {
		proxies = s.Proxies
	}

	// MaxTime feeds the capture client's HTTP timeout, so it goes in as a
	// construction option rather than a field write.
	pageClient := capture.NewClient(e.captureURL, func(c *capture.Client) {
		c.UserAgent = ua
		c.Proxies = proxies
		if e.captureMax > 0 {
			c.MaxTime = e.captureMax
		}
	})
	pageDirect := capture.NewClient(e.captureURL, func(c *capture.Client) {
		c.UserAgent = ua
		if e.captureMax > 0 {
			c.MaxTime = e.captureMax
		}
	})

	return &probeSet{
		domain: probe.NewDomainChecker(s.DNSServers, timeout,
			s.Scan.DomainCheckWhois, s.Scan.DomainCheckDNS, s.Scan.DomainCheckExpiry),
		site:       &probe.WebsiteChecker{UserAgent: ua, Timeout: timeout, Proxies: proxies},
		siteDirect: &probe.WebsiteChecker{UserAgent: ua, Timeout: timeout},
		tls: func(start int) tlsProber {
			return &probe.TLSChecker{
				Timeout:     timeout,
				CheckError:  s.Scan.SSLCheckError,
				CheckExpiry: s.Scan.SSLCheckExpiry,
				Proxies:     proxies,
				StartIndex:  start,
			}
		},
		tlsDirect: &probe.TLSChecker{
			Timeout:     timeout,
			CheckError:  s.Scan.SSLCheckError,
			CheckExpiry: s.Scan.SSLCheckExpiry,
		},
		capture:       pageClient,
		captureDirect: pageDirect,
	}
}

// Run executes one monitoring pass over every active platform. Platforms are
// probed in parallel under the configured worker ceiling; each platform's
// pipeline is sequential so later probes can short-circuit on earlier
// verdicts. The digest goes out after the pool drains.
func (e *Engine) Run(ctx context.Context) (*RunReport, error) {
	s, err := e.settings.Get()
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	platforms, err := e.store.ActivePlatforms()
	if err != nil {
		return nil, fmt.Errorf("loading platforms: %w", err)
	}

	runID := uuid.NewString()
	start := e.now()
	report := &RunReport{ID: runID, StartedAt: start, Platforms: len(platforms)}

	if len(platforms) == 0 {
		slog.Warn("monitor: no active platforms to monitor")
		return report, nil
	}

	workers := s.MaxWorkers()
	slog.Info("monitor: starting run", "run", runID, "platforms", len(platforms), "workers", workers)

	ctx, span := e.tracer.Start(ctx, "monitor.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("run.platforms", len(platforms)),
	))
	defer span.End()

	dig := notify.NewDigest(len(platforms))
	probes := e.buildProbes(s)
	stats := &runStats{}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := range platforms {
		p := &platforms[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			e.processPlatform(ctx, s, probes, p, dig, stats)
		}()
	}
	wg.Wait()

	if e.dispatcher != nil {
		if err := e.dispatcher.SendDigest(dig); err != nil {
			slog.Error("monitor: sending digest", "run", runID, "err", err)
		}
	}

	report.Duration = e.now().Sub(start)
	report.Affected = dig.Affected()
	report.Created = int(stats.created.Load())
	report.Resolved = int(stats.resolved.Load())
	slog.Info("monitor: run complete", "run", runID,
		"platforms", report.Platforms, "affected", report.Affected,
		"created", report.Created, "resolved", report.Resolved,
		"duration", report.Duration.Round(time.Millisecond))
	return report, nil
}

// processPlatform walks one platform through the probe pipeline. Domain and
// HTTP failures stop the pipeline and drop the stored screenshot; a TLS
// verdict never blocks the defacement check.
func (e *Engine) processPlatform(ctx context.Context, s *config.Settings, pr *probeSet, p *store.PlatformInfo, dig *notify.Digest, stats *runStats) {
	ctx, span := e.tracer.Start(ctx, "monitor.platform",
		trace.WithAttributes(attribute.String("platform.url", p.URL)))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("monitor: platform panic recovered", "platform", p.URL, "panic", r)
		}
	}()

	if s.Scan.DomainEnabled {
		if !e.checkDomain(ctx, pr, p, dig, stats) {
			e.dropScreenshot(p)
			return
		}
	}

	proxyStart := 0
	if s.Scan.HTTPEnabled {
		ok, proxyUsed := e.checkSite(ctx, s, pr, p, dig, stats)
		if !ok {
			e.dropScreenshot(p)
			return
		}
		proxyStart = proxyIndex(s.Proxies, proxyUsed)
	}

	if s.Scan.SSLEnabled {
		// A certificate problem is its own alert; the page may still be
		// reachable, so defacement runs regardless of the TLS verdict.
		e.checkTLS(ctx, s, pr, p, proxyStart, dig, stats)
	}

	if s.Scan.DefacementEnabled {
		e.checkDefacement(ctx, s, pr, p, dig, stats)
	}
}

// checkDomain probes registration and resolvability. It reports false when
// the rest of the pipeline should be skipped.
func (e *Engine) checkDomain(ctx context.Context, pr *probeSet, p *store.PlatformInfo, dig *notify.Digest, stats *runStats) bool {
	if !p.Domain.LastScanAt.IsZero() &&
		e.now().Sub(p.Domain.LastScanAt) < domainRescanWindow && !p.Domain.DomainIssue {
		return true
	}

	res, err := pr.domain.Check(ctx, p.Domain.Name)
	if err == nil {
		e.resolve(p, store.KindDomainUnavailable, stats)
		e.touchDomain(p, res.ResolvedIP, false)
		return true
	}

	var expErr *probe.DomainExpiringError
	if errors.As(err, &expErr) {
		e.reportDaily(p, store.KindDomainExpiring, err.Error(), dig, stats)
		e.touchDomain(p, p.Domain.ResolvedIP, false)
		return true
	}

	var whoisErr *probe.WhoisError
	var dnsErr *probe.DNSResolutionError
	var allDNSErr *probe.AllDNSFailedError
	if errors.As(err, &whoisErr) || errors.As(err, &dnsErr) || errors.As(err, &allDNSErr) {
		e.report(p, store.KindDomainUnavailable, err.Error(), dig, stats)
		e.touchDomain(p, p.Domain.ResolvedIP, true)
		return false
	}

	slog.Error("monitor: domain check failed", "domain", p.Domain.Name, "err", err)
	e.touchDomain(p, p.Domain.ResolvedIP, true)
	return false
}

// checkSite probes HTTP reachability. SSL-level failures pass; the TLS probe
// owns that judgement. Returns whether the pipeline continues and which
// proxy served the successful attempt.
func (e *Engine) checkSite(ctx context.Context, s *config.Settings, pr *probeSet, p *store.PlatformInfo, dig *notify.Digest, stats *runStats) (bool, string) {
	res, err := pr.site.Check(ctx, p.URL)
	if err == nil {
		e.resolve(p, store.KindAvailability, stats)
		return true, res.ProxyUsed
	}

	var aggErr *probe.AllProxiesFailedError
	if errors.As(err, &aggErr) {
		if aggErr.IsProxyIssue() {
			slog.Error("monitor: all proxies failed", "platform", p.URL, "err", err)
		}
		if s.Configuration.FallbackDirectOnProxyFail && s.Configuration.UseProxy {
			return e.checkSiteDirect(ctx, pr, p, dig, stats), ""
		}
		if !s.Configuration.FallbackDirectOnProxyFail {
			site := aggErr.FirstSiteError()
			var sslErr *probe.SSLError
			if errors.As(site, &sslErr) {
				return true, ""
			}
			if site != nil {
				e.report(p, store.KindAvailability, site.Error(), dig, stats)
			} else {
				slog.Error("monitor: suppressing availability alert on proxy-path failure", "platform", p.URL)
			}
		}
		return false, ""
	}

	var sslErr *probe.SSLError
	if errors.As(err, &sslErr) {
		return true, ""
	}

	if isAvailabilityError(err) {
		e.report(p, store.KindAvailability, err.Error(), dig, stats)
		return false, ""
	}

	slog.Error("monitor: site check failed", "platform", p.URL, "err", err)
	return false, ""
}

// checkSiteDirect retries reachability without proxies after the rotation
// was exhausted by proxy-level failures.
func (e *Engine) checkSiteDirect(ctx context.Context, pr *probeSet, p *store.PlatformInfo, dig *notify.Digest, stats *runStats) bool {
	_, err := pr.siteDirect.Check(ctx, p.URL)
	if err == nil {
		e.resolve(p, store.KindAvailability, stats)
		return true
	}

	var sslErr *probe.SSLError
	if errors.As(err, &sslErr) {
		return true
	}

	if isAvailabilityError(err) {
		e.report(p, store.KindAvailability, err.Error(), dig, stats)
		return false
	}

	slog.Error("monitor: direct site check failed", "platform", p.URL, "err", err)
	return false
}

// checkTLS judges the certificate on https platforms. Every outcome is
// recorded on the domain row; the return value reports a clean certificate.
func (e *Engine) checkTLS(ctx context.Context, s *config.Settings, pr *probeSet, p *store.PlatformInfo, proxyStart int, dig *notify.Digest, stats *runStats) bool {
	u, err := url.Parse(p.URL)
	if err != nil || u.Scheme != "https" {
		return true
	}
	port := u.Port()
	if port == "" {
		port = "443"
	}
	target := net.JoinHostPort(p.Domain.Name, port)

	ok, err := e.judgeTLS(ctx, pr.tls(proxyStart), p, target, dig, stats)
	if err == nil {
		e.touchSSL(p, !ok)
		return ok
	}

	// All proxies failed before any handshake reached the target.
	if s.Configuration.FallbackDirectOnProxyFail && s.Configuration.UseProxy {
		ok, derr := e.judgeTLS(ctx, pr.tlsDirect, p, target, dig, stats)
		if derr != nil {
			ok = false
		}
		e.touchSSL(p, !ok)
		return ok
	}
	if !s.Configuration.FallbackDirectOnProxyFail && !probe.IsProxyIssue(err) {
		var aggErr *probe.AllProxiesFailedError
		details := err.Error()
		if errors.As(err, &aggErr) {
			if site := aggErr.FirstSiteError(); site != nil {
				details = site.Error()
			}
		}
		e.report(p, store.KindSSL, details, dig, stats)
	} else {
		slog.Error("monitor: suppressing ssl alert on proxy-path failure", "platform", p.URL)
	}
	e.touchSSL(p, true)
	return false
}

// judgeTLS runs one certificate probe and applies the verdict. An exhausted
// proxy rotation is returned to the caller for the fallback policy; every
// other outcome is final.
func (e *Engine) judgeTLS(ctx context.Context, c tlsProber, p *store.PlatformInfo, target string, dig *notify.Digest, stats *runStats) (bool, error) {
	_, err := c.Check(ctx, target)
	if err == nil {
		e.resolve(p, store.KindSSL, stats)
		return true, nil
	}

	var aggErr *probe.AllProxiesFailedError
	if errors.As(err, &aggErr) {
		return false, err
	}

	var expErr *probe.CertExpiringError
	if errors.As(err, &expErr) {
		// Expiry thresholds warn; the certificate still validates.
		e.reportDaily(p, store.KindSSLExpiring, err.Error(), dig, stats)
		return true, nil
	}

	if isCertVerdict(err) {
		e.report(p, store.KindSSL, err.Error(), dig, stats)
		return false, nil
	}

	var hsErr *probe.HandshakeError
	if errors.As(err, &hsErr) {
		// No certificate was presented, so there is nothing to judge.
		slog.Debug("monitor: tls handshake failed", "target", target, "err", err)
		return false, nil
	}

	slog.Debug("monitor: tls probe failed", "target", target, "err", err)
	return false, nil
}

// checkDefacement captures the page, diffs it against the trusted baseline,
// and maintains the stored screenshot.
func (e *Engine) checkDefacement(ctx context.Context, s *config.Settings, pr *probeSet, p *store.PlatformInfo, dig *notify.Digest, stats *runStats) bool {
	snap, err := pr.capture.Analyze(ctx, p.URL)
	if err != nil {
		var proxErr *probe.ProxyError
		if errors.As(err, &proxErr) && s.Configuration.FallbackDirectOnProxyFail && s.Configuration.UseProxy {
			snap, err = pr.captureDirect.Analyze(ctx, p.URL)
		}
	}
	if err != nil {
		slog.Error("monitor: capture failed", "platform", p.URL, "err", err)
		e.dropScreenshot(p)
		return false
	}

	encoded, err := snap.Encode()
	if err != nil {
		slog.Error("monitor: encoding capture", "platform", p.URL, "err", err)
		e.dropScreenshot(p)
		return false
	}
	treeText := capture.Render(snap.Roots)
	now := e.now()

	rec, created, err := e.store.GetOrCreateDefacement(p.ID, encoded, treeText, now)
	if err != nil {
		slog.Error("monitor: loading defacement record", "platform", p.URL, "err", err)
		return false
	}

	if !created && len(rec.BaselineCapture) > 0 && len(snap.Roots) > 0 {
		base, perr := capture.Parse(rec.BaselineCapture)
		if perr != nil {
			slog.Error("monitor: parsing baseline capture", "platform", p.URL, "err", perr)
		} else {
			d := differ.New(s.Scan.SizeTolerance, s.Whitelist)
			changes := d.Analyze(base, snap)
			if len(changes) > 0 {
				details := differ.Format(changes)
				if e.report(p, store.KindDefacement, details, dig, stats) {
					if uerr := e.store.UpdateDefacementState(p.ID, encoded, treeText, true, details, now); uerr != nil {
						slog.Error("monitor: updating defacement record", "platform", p.URL, "err", uerr)
					}
				}
			} else {
				e.resolve(p, store.KindDefacement, stats)
				if uerr := e.store.UpdateDefacementState(p.ID, encoded, treeText, false, "", now); uerr != nil {
					slog.Error("monitor: updating defacement record", "platform", p.URL, "err", uerr)
				}
			}
		}
	}

	e.saveScreenshot(p, snap.Screenshot)
	return true
}

// RunVT sweeps every active platform through the reputation scanner. URLs
// are submitted sequentially with a pause between them; per-URL failures are
// logged and the sweep continues.
func (e *Engine) RunVT(ctx context.Context) (*VTReport, error) {
	s, err := e.settings.Get()
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	report := &VTReport{}
	if !s.Scan.VTEnabled {
		slog.Info("vt: scanning disabled")
		return report, nil
	}
	if s.Scan.VTAPIKey == "" {
		return nil, errors.New("vt: no API key configured")
	}

	scanner, err := e.newVTClient(s.Scan.VTAPIKey)
	if err != nil {
		return nil, fmt.Errorf("building scanner: %w", err)
	}
	if err := scanner.VerifyKey(ctx); err != nil {
		return nil, fmt.Errorf("verifying API key: %w", err)
	}

	platforms, err := e.store.ActivePlatforms()
	if err != nil {
		return nil, fmt.Errorf("loading platforms: %w", err)
	}
	if len(platforms) == 0 {
		slog.Warn("vt: no active platforms to scan")
		return report, nil
	}

	slog.Info("vt: starting sweep", "platforms", len(platforms))
	for i := range platforms {
		if i > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(e.vtPause):
			}
		}
		e.scanPlatformVT(ctx, scanner, &platforms[i], report)
	}
	slog.Info("vt: sweep complete", "scanned", report.Scanned,
		"flagged", report.Flagged, "resolved", report.Resolved, "failed", report.Failed)
	return report, nil
}

// vtDetails is the JSON stored in a VirusTotal alert's details column.
type vtDetails struct {
	ScanDate          string                       `json:"scan_date"`
	MaliciousResults  map[string][]string          `json:"malicious_results"`
	VendorInformation map[string]*store.VendorInfo `json:"vendor_information"`
}

func (e *Engine) scanPlatformVT(ctx context.Context, scanner urlScanner, p *store.PlatformInfo, report *VTReport) {
	analysis, err := scanner.ScanURL(ctx, p.URL)
	if err != nil {
		report.Failed++
		slog.Error("vt: scan failed", "platform", p.URL, "err", err)
		return
	}
	report.Scanned++

	malicious := analysis.MaliciousResults()
	if len(malicious) == 0 {
		a, rerr := e.machine.Resolve(p, store.KindVirusTotal)
		if rerr != nil {
			slog.Error("vt: resolving alert", "platform", p.URL, "err", rerr)
			return
		}
		if a != nil {
			report.Resolved++
		}
		return
	}

	active, err := e.machine.CheckActive(p.ID, store.KindVirusTotal)
	if err != nil {
		slog.Error("vt: checking active alert", "platform", p.URL, "err", err)
		return
	}
	if active {
		slog.Info("vt: alert already open", "platform", p.URL)
		return
	}

	slog.Warn("vt: malicious verdicts", "platform", p.URL, "verdicts", len(malicious))

	vendors := make(map[string]*store.VendorInfo)
	for _, names := range malicious {
		for _, name := range names {
			if _, ok := vendors[name]; ok {
				continue
			}
			info, verr := e.store.Vendor(name)
			if verr != nil {
				slog.Error("vt: loading vendor", "vendor", name, "err", verr)
				continue
			}
			vendors[name] = info
		}
	}

	scanDate := analysis.ScanDate.Format(time.RFC3339)
	details, err := json.Marshal(vtDetails{
		ScanDate:          scanDate,
		MaliciousResults:  malicious,
		VendorInformation: vendors,
	})
	if err != nil {
		slog.Error("vt: encoding details", "platform", p.URL, "err", err)
		return
	}

	tmpl, err := notify.RenderIssue(p, store.KindVirusTotal, verdictSummary(malicious), e.now())
	if err != nil {
		slog.Warn("vt: rendering alert body", "err", err)
	}
	created, err := e.machine.Report(p, store.KindVirusTotal, string(details), tmpl)
	if err != nil {
		slog.Error("vt: recording alert", "platform", p.URL, "err", err)
		return
	}
	if !created {
		return
	}
	report.Flagged++
	if e.dispatcher != nil {
		e.dispatcher.VTDetection(p, scanDate, malicious, vendors)
	}
}

// report opens an alert through the machine and feeds the digest when a row
// was actually created.
func (e *Engine) report(p *store.PlatformInfo, kind store.AlertKind, details string, dig *notify.Digest, stats *runStats) bool {
	tmpl, err := notify.RenderIssue(p, kind, details, e.now())
	if err != nil {
		slog.Warn("monitor: rendering alert body", "kind", kind, "err", err)
	}
	created, err := e.machine.Report(p, kind, details, tmpl)
	if err != nil {
		slog.Error("monitor: recording alert", "kind", kind, "platform", p.URL, "err", err)
		return false
	}
	if created {
		stats.created.Add(1)
		if dig != nil {
			dig.Add(p, kind)
		}
	}
	return created
}

func (e *Engine) reportDaily(p *store.PlatformInfo, kind store.AlertKind, details string, dig *notify.Digest, stats *runStats) bool {
	tmpl, err := notify.RenderIssue(p, kind, details, e.now())
	if err != nil {
		slog.Warn("monitor: rendering alert body", "kind", kind, "err", err)
	}
	created, err := e.machine.ReportDaily(p, kind, details, tmpl)
	if err != nil {
		slog.Error("monitor: recording alert", "kind", kind, "platform", p.URL, "err", err)
		return false
	}
	if created {
		stats.created.Add(1)
		if dig != nil {
			dig.Add(p, kind)
		}
	}
	return created
}

func (e *Engine) resolve(p *store.PlatformInfo, kind store.AlertKind, stats *runStats) {
	a, err := e.machine.Resolve(p, kind)
	if err != nil {
		slog.Error("monitor: resolving alert", "kind", kind, "platform", p.URL, "err", err)
		return
	}
	if a != nil {
		stats.resolved.Add(1)
	}
}

func (e *Engine) touchDomain(p *store.PlatformInfo, resolvedIP string, issue bool) {
	if err := e.store.TouchDomainScan(p.Domain.ID, e.now(), issue, resolvedIP); err != nil {
		slog.Error("monitor: updating domain scan state", "domain", p.Domain.Name, "err", err)
	}
}

func (e *Engine) touchSSL(p *store.PlatformInfo, issue bool) {
	if err := e.store.TouchDomainSSLScan(p.Domain.ID, e.now(), issue); err != nil {
		slog.Error("monitor: updating domain ssl state", "domain", p.Domain.Name, "err", err)
	}
}

// saveScreenshot persists the capture's screenshot for the platform, or
// drops any stale file when the capture carried none.
func (e *Engine) saveScreenshot(p *store.PlatformInfo, png []byte) {
	if len(png) == 0 {
		e.dropScreenshot(p)
		return
	}
	name := fmt.Sprintf("%d.png", p.ID)
	dir := filepath.Join(e.mediaDir, screenshotDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("monitor: creating screenshot dir", "dir", dir, "err", err)
		e.dropScreenshot(p)
		return
	}
	if err := os.WriteFile(filepath.Join(dir, name), png, 0o644); err != nil {
		slog.Error("monitor: writing screenshot", "platform", p.URL, "err", err)
		e.dropScreenshot(p)
		return
	}
	if err := e.store.SetScreenshot(p.ID, path.Join(screenshotDir, name)); err != nil {
		slog.Error("monitor: recording screenshot path", "platform", p.URL, "err", err)
	}
}

// dropScreenshot removes the platform's screenshot file and clears its
// stored path. A missing file is fine; a capture that failed must never
// leave a stale image behind.
func (e *Engine) dropScreenshot(p *store.PlatformInfo) {
	file := filepath.Join(e.mediaDir, screenshotDir, fmt.Sprintf("%d.png", p.ID))
	if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
		slog.Error("monitor: removing screenshot", "platform", p.URL, "err", err)
	}
	if err := e.store.ClearScreenshot(p.ID); err != nil {
		slog.Error("monitor: clearing screenshot path", "platform", p.URL, "err", err)
	}
}

// probeTimeout derives the per-probe deadline from the configured response
// budget, with a floor so sub-second budgets still allow a handshake.
func probeTimeout(scan store.ScanConfig) time.Duration {
	if scan.HTTPMaxResponseMS <= 0 {
		return 5 * time.Second
	}
	d := time.Duration(scan.HTTPMaxResponseMS) * time.Millisecond
	if d < time.Second {
		return time.Second
	}
	return d
}

// proxyIndex locates the proxy that served the last successful attempt so
// the next probe starts its rotation there.
func proxyIndex(proxies []string, used string) int {
	if used == "" {
		return 0
	}
	for i, p := range proxies {
		if p == used {
			return i
		}
	}
	return 0
}

func isAvailabilityError(err error) bool {
	var timeoutErr *probe.TimeoutError
	var unavailErr *probe.UnavailableError
	var statusErr *probe.HTTPStatusError
	return errors.As(err, &timeoutErr) || errors.As(err, &unavailErr) || errors.As(err, &statusErr)
}

// isCertVerdict reports whether the error is a definitive judgement about
// the presented certificate.
func isCertVerdict(err error) bool {
	var certErr *probe.CertificateError
	var expiredErr *probe.CertExpiredError
	var notYetErr *probe.CertNotYetValidError
	return errors.As(err, &certErr) || errors.As(err, &expiredErr) || errors.As(err, &notYetErr)
}

// verdictSummary renders the malicious verdict groups as readable lines for
// the stored alert body.
func verdictSummary(verdicts map[string][]string) string {
	keys := make([]string, 0, len(verdicts))
	for k := range verdicts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, strings.Join(verdicts[k], ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}
